package audio

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// FFmpegDetector implements SilenceDetector using the ffmpeg silencedetect filter.
type FFmpegDetector struct {
	ffmpegPath string
	tempDir    string
}

// NewFFmpegDetector creates a new FFmpegDetector.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
// Ranges are exported to tempDir before being analysed; an empty tempDir
// means os.TempDir().
func NewFFmpegDetector(ffmpegPath, tempDir string) *FFmpegDetector {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegDetector{ffmpegPath: ffmpegPath, tempDir: tempDir}
}

// silenceSeconds is a silence interval as reported by ffmpeg, in seconds.
// A negative end marks a silence still open when the stream ended.
type silenceSeconds struct {
	Start float64
	End   float64
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[\d.]+)`)
)

// DetectSilence implements SilenceDetector.
func (d *FFmpegDetector) DetectSilence(ctx context.Context, r Range, minSilenceMs int, maxDB float64) ([]Interval, error) {
	if r.Length() < minSilenceMs {
		return nil, nil
	}

	input, err := ExportWAV(r, d.tempDir, "silence_*.wav")
	if err != nil {
		return nil, fmt.Errorf("export range: %w", err)
	}
	defer func() { _ = os.Remove(input) }()

	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%f", maxDB, float64(minSilenceMs)/1000.0)

	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-i", input,
		"-af", filter,
		"-f", "null",
		"-hide_banner",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg writes silencedetect output to stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg error: %w, stderr: %s", err, stderr.String())
	}

	return toIntervals(parseSilenceOutput(stderr.String()), r.Length(), minSilenceMs), nil
}

// parseSilenceOutput parses ffmpeg silencedetect output.
func parseSilenceOutput(output string) []silenceSeconds {
	var intervals []silenceSeconds
	var currentStart float64
	hasStart := false

	for _, line := range strings.Split(output, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); len(m) > 1 {
			val, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			currentStart = val
			hasStart = true
		}

		if m := silenceEndRe.FindStringSubmatch(line); len(m) > 1 && hasStart {
			val, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			intervals = append(intervals, silenceSeconds{Start: currentStart, End: val})
			hasStart = false
		}
	}

	// silencedetect does not always print silence_end for trailing silence
	if hasStart {
		intervals = append(intervals, silenceSeconds{Start: currentStart, End: -1})
	}

	return intervals
}

// toIntervals converts second-based intervals to milliseconds clamped to
// [0, length]. Intervals left shorter than minSilenceMs by overlap trimming or
// clamping are dropped, allowing 1 ms of rounding loss.
func toIntervals(in []silenceSeconds, length, minSilenceMs int) []Interval {
	out := make([]Interval, 0, len(in))
	for _, s := range in {
		start := clampMs(s.Start, length)
		end := length
		if s.End >= 0 {
			end = clampMs(s.End, length)
		}
		if end <= start {
			continue
		}
		if n := len(out); n > 0 && start < out[n-1].End {
			start = out[n-1].End
		}
		if end <= start || end-start < minSilenceMs-1 {
			continue
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out
}

func clampMs(sec float64, length int) int {
	ms := int(math.Round(sec * 1000))
	if ms < 0 {
		return 0
	}
	if ms > length {
		return length
	}
	return ms
}

// Verify interface implementation at compile time.
var _ SilenceDetector = (*FFmpegDetector)(nil)
