// Package id provides unique identifier generation for jobs.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when a string is not a job ID.
var ErrMalformed = errors.New("id: malformed job ID")

const prefix = "job-"

// Generate creates a new unique job ID.
// Format: job-<unix seconds>-<8 hex chars>
// Example: job-1701432000-a1b2c3d4
func Generate() string {
	return generateAt(time.Now())
}

func generateAt(t time.Time) string {
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		// Fall back to the nanosecond clock if crypto/rand fails
		return fmt.Sprintf("%s%d-%08x", prefix, t.Unix(), uint32(t.UnixNano()))
	}
	return fmt.Sprintf("%s%d-%s", prefix, t.Unix(), hex.EncodeToString(random))
}

// CreatedAt parses a job ID and returns the second it was generated at.
// It returns ErrMalformed for anything Generate could not have produced.
func CreatedAt(jobID string) (time.Time, error) {
	rest, ok := strings.CutPrefix(jobID, prefix)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, jobID)
	}
	ts, suffix, ok := strings.Cut(rest, "-")
	if !ok || len(suffix) != 8 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, jobID)
	}
	if _, err := hex.DecodeString(suffix); err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, jobID)
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sec < 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, jobID)
	}
	return time.Unix(sec, 0), nil
}

// Valid reports whether jobID has the shape of a generated ID.
func Valid(jobID string) bool {
	_, err := CreatedAt(jobID)
	return err == nil
}
