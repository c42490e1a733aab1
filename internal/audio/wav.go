package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when the input is not a decodable WAV stream.
var ErrInvalidWAV = errors.New("audio: not a valid WAV file")

// wavFormatPCM is the WAVE_FORMAT_PCM tag.
const wavFormatPCM = 1

// Load decodes a WAV file into memory.
func Load(path string) (*Buffer, error) {
	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

// Decode reads a complete WAV stream into a Buffer.
func Decode(rs io.ReadSeeker) (*Buffer, error) {
	decoder := wav.NewDecoder(rs)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read PCM buffer: %w", err)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = pcm.SourceBitDepth
	}

	return NewBuffer(pcm.Data, pcm.Format.SampleRate, pcm.Format.NumChannels, bitDepth), nil
}

// EncodeWAV writes the samples covered by r as a PCM WAV stream.
func EncodeWAV(ws io.WriteSeeker, r Range) error {
	b := r.Buffer()
	if b == nil {
		return errors.New("audio: range is not bound to a buffer")
	}

	encoder := wav.NewEncoder(ws, b.SampleRate(), b.BitDepth(), b.Channels(), wavFormatPCM)
	out := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: b.Channels(),
			SampleRate:  b.SampleRate(),
		},
		Data:           r.Samples(),
		SourceBitDepth: b.BitDepth(),
	}

	if err := encoder.Write(out); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("close encoder: %w", err)
	}
	return nil
}

// ExportWAV writes r to a new temporary WAV file inside dir and returns its path.
// The caller is responsible for removing the file.
func ExportWAV(r Range, dir, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	path := f.Name()
	if err := EncodeWAV(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}

// WAVBytes encodes r as an in-memory WAV payload, using a scratch file in dir
// because the encoder needs to seek back and patch the header.
func WAVBytes(r Range, dir string) ([]byte, error) {
	path, err := ExportWAV(r, dir, "range_*.wav")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(path) }()

	data, err := os.ReadFile(path) // #nosec G304 - path was created above
	if err != nil {
		return nil, fmt.Errorf("read encoded audio: %w", err)
	}
	return data, nil
}
