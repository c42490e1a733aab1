package audio

import "context"

// Default silence detection parameters.
const (
	// DefaultMinSilenceMs is the minimum silence duration for a single split.
	DefaultMinSilenceMs = 300
	// DefaultSilenceThreshDB is the loudness in dBFS below which audio is silent.
	DefaultSilenceThreshDB = -50.0
)

// Interval is a silent span [Start, End) in milliseconds relative to the
// range it was detected in.
type Interval struct {
	Start int
	End   int
}

// SilenceDetector finds silent intervals inside a range of audio.
type SilenceDetector interface {
	// DetectSilence returns the silent intervals of r that last at least
	// minSilenceMs and stay below maxDB, ordered by start and non-overlapping.
	DetectSilence(ctx context.Context, r Range, minSilenceMs int, maxDB float64) ([]Interval, error)
}
