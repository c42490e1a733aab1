// Package media normalizes recordings into the PCM WAV format the segmenter
// decodes.
package media

import (
	"context"
	"path/filepath"
	"strings"
)

// DefaultSampleRate is the sample rate recordings are converted to. It matches
// what speech recognizers expect for LINEAR16 audio.
const DefaultSampleRate = 16000

// Processor defines the interface for recording conversion.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Processor interface {
	// ConvertToWAV decodes src and writes it to dst as 16-bit mono PCM WAV
	// at the given sample rate.
	ConvertToWAV(ctx context.Context, src, dst string, sampleRate int) error
}

// IsWAV reports whether path names a WAV file that can be decoded directly.
func IsWAV(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".wav" || ext == ".wave"
}
