// Package segment builds a tree of speech segments out of a recording by
// splitting on silence, and drives an adaptive search over silence detection
// parameters until every leaf is confidently assigned a language or cannot be
// split any further.
package segment

import (
	"errors"
	"fmt"

	"github.com/maauso/langsplit/internal/audio"
)

// ErrInvalidConfiguration is returned when the silence margin is too big for
// the minimum silence length it is combined with.
var ErrInvalidConfiguration = errors.New("segment: invalid configuration")

// Span is one candidate speech range [Start, End) in milliseconds.
// Speech begins at SpeechStart; [Start, SpeechStart) is leading silence.
type Span struct {
	Start       int
	SpeechStart int
	End         int
}

// CheckMargin verifies that trimming margin from both sides of a silence of
// minSilenceLen still leaves a non-empty silence.
func CheckMargin(minSilenceLen, margin int) error {
	if margin < 0 {
		return fmt.Errorf("%w: negative margin %d", ErrInvalidConfiguration, margin)
	}
	if 2*margin >= minSilenceLen {
		return fmt.Errorf("%w: margin %d is too big for min silence length %d",
			ErrInvalidConfiguration, margin, minSilenceLen)
	}
	return nil
}

// SplitRanges turns the silent intervals of a buffer of the given length into
// speech spans that tile [0, length) exactly.
//
// Interval boundaries are moved margin milliseconds into the silence so speech
// onsets are not clipped, except at the buffer edges. A silence reaching the end
// of the buffer is absorbed by the last span. The silences must be sorted and
// non-overlapping, and the caller is responsible for CheckMargin.
func SplitRanges(length int, silences []audio.Interval, margin int) []Span {
	if len(silences) == 0 {
		return []Span{{Start: 0, SpeechStart: 0, End: length}}
	}
	if len(silences) == 1 && silences[0].Start == 0 && silences[0].End == length {
		return nil
	}

	spans := make([]Span, 0, len(silences)+1)
	prevStart, prevEnd := 0, 0
	for _, s := range silences {
		start, end := s.Start, s.End
		if start != 0 {
			start += margin
		}
		if end != length {
			end -= margin
		}
		spans = append(spans, Span{Start: prevStart, SpeechStart: prevEnd, End: start})
		prevStart, prevEnd = start, end
	}

	if prevEnd == length {
		spans[len(spans)-1].End = length
	} else {
		spans = append(spans, Span{Start: prevStart, SpeechStart: prevEnd, End: length})
	}

	if spans[0] == (Span{}) {
		spans = spans[1:]
	}
	return spans
}
