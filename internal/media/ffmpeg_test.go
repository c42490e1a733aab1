package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/langsplit/internal/audio"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createTestRecording creates a stereo tone in a compressed container.
func createTestRecording(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=440:sample_rate=44100:duration=%.1f", duration),
		"-ac", "2",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test recording: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegProcessor(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		if p.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", p.ffmpegPath)
		}
	})

	t.Run("custom path", func(t *testing.T) {
		p := NewFFmpegProcessor("/usr/local/bin/ffmpeg")
		if p.ffmpegPath != "/usr/local/bin/ffmpeg" {
			t.Errorf("expected custom path, got %q", p.ffmpegPath)
		}
	})
}

func TestIsWAV(t *testing.T) {
	assert.True(t, IsWAV("/data/talk.wav"))
	assert.True(t, IsWAV("TALK.WAV"))
	assert.True(t, IsWAV("talk.wave"))
	assert.False(t, IsWAV("talk.mp3"))
	assert.False(t, IsWAV("wav"))
}

func TestConvertToWAV(t *testing.T) {
	t.Run("invalid sample rate", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		err := p.ConvertToWAV(context.Background(), "in.mp3", "out.wav", 0)
		assert.ErrorIs(t, err, ErrInvalidSampleRate)
	})

	t.Run("missing source", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		err := p.ConvertToWAV(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), "out.wav", DefaultSampleRate)
		assert.ErrorIs(t, err, ErrSourceNotFound)
	})

	t.Run("converts to mono 16 kHz PCM", func(t *testing.T) {
		skipIfNoFFmpeg(t)

		dir := t.TempDir()
		src := filepath.Join(dir, "talk.mp3")
		dst := filepath.Join(dir, "talk.wav")
		createTestRecording(t, src, 1.5)

		p := NewFFmpegProcessor("")
		require.NoError(t, p.ConvertToWAV(context.Background(), src, dst, DefaultSampleRate))

		buf, err := audio.Load(dst)
		require.NoError(t, err)
		assert.Equal(t, 1, buf.Channels())
		assert.Equal(t, DefaultSampleRate, buf.SampleRate())
		assert.Equal(t, 16, buf.BitDepth())
		assert.InDelta(t, 1500, buf.Length(), 60)
	})

	t.Run("invalid input reports stderr", func(t *testing.T) {
		skipIfNoFFmpeg(t)

		dir := t.TempDir()
		src := filepath.Join(dir, "garbage.mp3")
		require.NoError(t, os.WriteFile(src, []byte("not audio at all"), 0o600))

		p := NewFFmpegProcessor("")
		err := p.ConvertToWAV(context.Background(), src, filepath.Join(dir, "out.wav"), DefaultSampleRate)
		var ffErr *FFmpegError
		require.True(t, errors.As(err, &ffErr), "expected FFmpegError, got %v", err)
		assert.NotEmpty(t, ffErr.Stderr)
	})

	t.Run("context cancellation", func(t *testing.T) {
		skipIfNoFFmpeg(t)

		dir := t.TempDir()
		src := filepath.Join(dir, "talk.mp3")
		createTestRecording(t, src, 0.5)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := NewFFmpegProcessor("")
		err := p.ConvertToWAV(ctx, src, filepath.Join(dir, "out.wav"), DefaultSampleRate)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{
		Args:   []string{"-i", "input.mp3", "output.wav"},
		Stderr: "Error opening input file",
		Err:    fmt.Errorf("exit status 1"),
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(errStr, "Error opening input file") {
		t.Error("Error() should contain stderr")
	}

	unwrapped := err.Unwrap()
	if unwrapped == nil || unwrapped.Error() != "exit status 1" {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}
