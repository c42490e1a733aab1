package segment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/maauso/langsplit/internal/audio"
	"github.com/maauso/langsplit/internal/recognize"
)

// rampBuffer returns a mono buffer sampled at 1 kHz, so sample i is millisecond i
// and holds the value i.
func rampBuffer(lengthMs int) *audio.Buffer {
	data := make([]int, lengthMs)
	for i := range data {
		data[i] = i
	}
	return audio.NewBuffer(data, 1000, 1, 16)
}

// mockDetector is a testify mock of audio.SilenceDetector.
type mockDetector struct {
	mock.Mock
}

func (m *mockDetector) DetectSilence(ctx context.Context, r audio.Range, minSilenceMs int, maxDB float64) ([]audio.Interval, error) {
	args := m.Called(ctx, r, minSilenceMs, maxDB)
	silences, _ := args.Get(0).([]audio.Interval)
	return silences, args.Error(1)
}

// mockRecognizer is a testify mock of recognize.Recognizer.
type mockRecognizer struct {
	mock.Mock
}

func (m *mockRecognizer) Recognize(ctx context.Context, r audio.Range, language string) ([]recognize.Alternative, error) {
	args := m.Called(ctx, r, language)
	alts, _ := args.Get(0).([]recognize.Alternative)
	return alts, args.Error(1)
}

// quietSpan is a silence at absolute position Interval with the given loudness.
type quietSpan struct {
	audio.Interval
	db float64
}

// recordingDetector reports the quiet spans of a synthetic recording that are
// quiet enough and long enough once clipped to the queried range.
type recordingDetector struct {
	spans []quietSpan

	mu    sync.Mutex
	calls int
}

func (d *recordingDetector) DetectSilence(ctx context.Context, r audio.Range, minSilenceMs int, maxDB float64) ([]audio.Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	var out []audio.Interval
	for _, s := range d.spans {
		start, end := max(s.Start, r.Offset()), min(s.End, r.End())
		if end-start < minSilenceMs || s.db > maxDB {
			continue
		}
		out = append(out, audio.Interval{Start: start - r.Offset(), End: end - r.Offset()})
	}
	return out, nil
}

// scoredRecognizer answers with fixed confidences per absolute range and
// language, and "undetermined" scores for every other range.
type scoredRecognizer struct {
	scores map[string]map[string]float64

	mu    sync.Mutex
	calls int
}

func rangeKey(offset, end int) string {
	return fmt.Sprintf("%d:%d", offset, end)
}

func (s *scoredRecognizer) Recognize(ctx context.Context, r audio.Range, language string) ([]recognize.Alternative, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	conf := 0.5
	if byLang, ok := s.scores[rangeKey(r.Offset(), r.End())]; ok {
		conf = byLang[language]
	}
	return []recognize.Alternative{
		{Text: fmt.Sprintf("%s %s", language, r), Confidence: conf},
	}, nil
}

func (s *scoredRecognizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// assertSameTree compares two trees ignoring node ids.
func assertSameTree(t *testing.T, want, got *Node) {
	t.Helper()
	assert.Equal(t, want.Range.Offset(), got.Range.Offset(), "offset of node %d", want.ID)
	assert.Equal(t, want.Range.Samples(), got.Range.Samples(), "samples of node %d", want.ID)
	assert.Equal(t, want.SpeechStart, got.SpeechStart, "speech start of node %d", want.ID)
	assert.Equal(t, want.SilenceParams, got.SilenceParams, "silence params of node %d", want.ID)

	wantRec, wantOK := want.Recognized()
	gotRec, gotOK := got.Recognized()
	assert.Equal(t, wantOK, gotOK, "recognized state of node %d", want.ID)
	assert.Equal(t, wantRec, gotRec, "recognition of node %d", want.ID)

	if !assert.Len(t, got.Children, len(want.Children), "children of node %d", want.ID) {
		return
	}
	for i := range want.Children {
		assertSameTree(t, want.Children[i], got.Children[i])
	}
}
