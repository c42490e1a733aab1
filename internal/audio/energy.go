package audio

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// EnergyDetector detects silence directly on decoded samples by sliding a
// window of minSilenceMs across the range in 1 ms steps and comparing the
// window RMS against the threshold relative to full scale.
type EnergyDetector struct {
	seekStep int
}

// NewEnergyDetector creates an EnergyDetector with a 1 ms seek step.
func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{seekStep: 1}
}

// DetectSilence implements SilenceDetector.
func (d *EnergyDetector) DetectSilence(ctx context.Context, r Range, minSilenceMs int, maxDB float64) ([]Interval, error) {
	if minSilenceMs <= 0 {
		return nil, fmt.Errorf("audio: min silence must be positive, got %d", minSilenceMs)
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	length := r.Length()
	if length < minSilenceMs || r.Buffer() == nil {
		return nil, nil
	}

	buf := r.Buffer()
	prefix := buf.squaredPrefix()
	thresh := dbToRatio(maxDB) * maxAmplitude(buf.BitDepth())

	rmsAt := func(start int) float64 {
		lo := buf.sampleIndex(r.Offset() + start)
		hi := buf.sampleIndex(r.Offset() + start + minSilenceMs)
		if hi <= lo {
			return 0
		}
		return math.Sqrt((prefix[hi] - prefix[lo]) / float64(hi-lo))
	}

	step := d.seekStep
	if step <= 0 {
		step = 1
	}

	lastStart := length - minSilenceMs
	var silentStarts []int
	for i := 0; i <= lastStart; i += step {
		if rmsAt(i) <= thresh {
			silentStarts = append(silentStarts, i)
		}
	}
	if lastStart%step != 0 && rmsAt(lastStart) <= thresh {
		silentStarts = append(silentStarts, lastStart)
	}

	return mergeSilentStarts(silentStarts, minSilenceMs, step), nil
}

// mergeSilentStarts joins the start offsets of silent windows into intervals.
// Windows that are adjacent or overlap belong to the same interval.
func mergeSilentStarts(starts []int, minSilenceMs, step int) []Interval {
	if len(starts) == 0 {
		return nil
	}

	var intervals []Interval
	prev := starts[0]
	current := prev
	for _, s := range starts[1:] {
		continuous := s == prev+step
		hasGap := s > prev+minSilenceMs
		if !continuous && hasGap {
			intervals = append(intervals, Interval{Start: current, End: prev + minSilenceMs})
			current = s
		}
		prev = s
	}
	return append(intervals, Interval{Start: current, End: prev + minSilenceMs})
}

// squaredPrefix returns the running sum of squares of the whole buffer,
// indexed like its samples. It is built on first use and shared by every
// range and detection call afterwards.
func (b *Buffer) squaredPrefix() []float64 {
	b.energyOnce.Do(func() {
		b.energy = squaredPrefix(b.pcm.Data)
	})
	return b.energy
}

// squaredPrefix returns p where p[i] is the sum of squares of samples[:i].
func squaredPrefix(samples []int) []float64 {
	prefix := make([]float64, len(samples)+1)
	if len(samples) == 0 {
		return prefix
	}
	for i, s := range samples {
		v := float64(s)
		prefix[i+1] = v * v
	}
	floats.CumSum(prefix[1:], prefix[1:])
	return prefix
}

func dbToRatio(db float64) float64 {
	return math.Pow(10, db/20)
}

func maxAmplitude(bitDepth int) float64 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	return math.Pow(2, float64(bitDepth-1))
}

// Verify interface implementation at compile time.
var _ SilenceDetector = (*EnergyDetector)(nil)
