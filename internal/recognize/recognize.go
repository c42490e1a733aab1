// Package recognize defines the speech recognition port used to score audio
// ranges against candidate languages, and an HTTP client for a remote
// recognizer.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/langsplit/internal/audio"
)

// ErrNoResult is returned when the recognizer understood nothing in the audio.
var ErrNoResult = errors.New("recognize: no result")

// Alternative is one transcription hypothesis returned by a recognizer.
type Alternative struct {
	Text       string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Recognizer transcribes a range of audio in a given language.
type Recognizer interface {
	// Recognize returns the ranked alternatives for r spoken in language.
	// Implementations must tolerate very short or silent ranges and return
	// ErrNoResult (or an empty slice) rather than failing hard.
	Recognize(ctx context.Context, r audio.Range, language string) ([]Alternative, error)
}

// timeoutRecognizer bounds every call of the wrapped recognizer.
type timeoutRecognizer struct {
	next    Recognizer
	timeout time.Duration
}

// WithTimeout wraps r so that each call is cancelled after d.
// A non-positive d returns r unchanged.
func WithTimeout(r Recognizer, d time.Duration) Recognizer {
	if d <= 0 {
		return r
	}
	return &timeoutRecognizer{next: r, timeout: d}
}

// Recognize implements Recognizer.
func (t *timeoutRecognizer) Recognize(ctx context.Context, r audio.Range, language string) ([]Alternative, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	alts, err := t.next.Recognize(ctx, r, language)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("recognize: timed out after %s: %w", t.timeout, err)
	}
	return alts, err
}
