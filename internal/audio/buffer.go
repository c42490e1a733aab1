// Package audio provides decoded audio buffers, zero-copy range views over them,
// WAV encoding for external tools, and silence detection.
//
// All positions and lengths are expressed in milliseconds.
package audio

import (
	"fmt"
	"sync"

	goaudio "github.com/go-audio/audio"
)

// Buffer is an immutable, fully decoded PCM recording.
type Buffer struct {
	pcm      *goaudio.IntBuffer
	bitDepth int

	// energy is the lazily built running sum of squared samples.
	energyOnce sync.Once
	energy     []float64
}

// NewBuffer wraps interleaved integer samples into a Buffer.
// The data slice is not copied and must not be modified afterwards.
func NewBuffer(data []int, sampleRate, channels, bitDepth int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	return &Buffer{
		pcm: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			Data:           data,
			SourceBitDepth: bitDepth,
		},
		bitDepth: bitDepth,
	}
}

// SampleRate returns the number of frames per second.
func (b *Buffer) SampleRate() int { return b.pcm.Format.SampleRate }

// Channels returns the number of interleaved channels.
func (b *Buffer) Channels() int { return b.pcm.Format.NumChannels }

// BitDepth returns the bit depth of the source samples.
func (b *Buffer) BitDepth() int { return b.bitDepth }

// Length returns the duration of the buffer in milliseconds.
func (b *Buffer) Length() int {
	if b.SampleRate() <= 0 {
		return 0
	}
	frames := len(b.pcm.Data) / b.Channels()
	return frames * 1000 / b.SampleRate()
}

// Full returns a Range covering the whole buffer.
func (b *Buffer) Full() Range {
	return Range{buf: b, offset: 0, length: b.Length()}
}

// sampleIndex converts an absolute millisecond position into an index into the
// interleaved sample slice. Consecutive ranges share boundaries computed by this
// function, so they tile the sample data exactly.
func (b *Buffer) sampleIndex(ms int) int {
	frame := ms * b.SampleRate() / 1000
	return frame * b.Channels()
}

// Range is a view of [offset, offset+length) milliseconds into a Buffer.
// Ranges never copy sample data.
type Range struct {
	buf    *Buffer
	offset int
	length int
}

// Buffer returns the underlying recording.
func (r Range) Buffer() *Buffer { return r.buf }

// Offset returns the absolute start of the range in milliseconds.
func (r Range) Offset() int { return r.offset }

// Length returns the duration of the range in milliseconds.
func (r Range) Length() int { return r.length }

// End returns the absolute end of the range in milliseconds.
func (r Range) End() int { return r.offset + r.length }

// Sub returns the view [start, end) relative to r.
// It panics if the bounds fall outside r, mirroring slice semantics.
func (r Range) Sub(start, end int) Range {
	if start < 0 || end < start || end > r.length {
		panic(fmt.Sprintf("audio: range [%d:%d] out of bounds for length %d", start, end, r.length))
	}
	return Range{buf: r.buf, offset: r.offset + start, length: end - start}
}

// Samples returns the interleaved samples covered by the range.
// The returned slice aliases the buffer and must be treated as read-only.
func (r Range) Samples() []int {
	if r.buf == nil {
		return nil
	}
	lo, hi := r.buf.sampleIndex(r.offset), r.buf.sampleIndex(r.End())
	return r.buf.pcm.Data[lo:hi]
}

// String returns a human-readable representation for logging.
func (r Range) String() string {
	return fmt.Sprintf("[%d:%d]", r.offset, r.End())
}
