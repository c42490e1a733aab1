// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrRecognizerAPIKeyRequired is returned when RECOGNIZER_API_KEY is not set.
	ErrRecognizerAPIKeyRequired = errors.New("config: RECOGNIZER_API_KEY is required")
	// ErrInvalidConfig is returned when a value is out of range.
	ErrInvalidConfig = errors.New("config: invalid value")
	// ErrMarginTooBig is returned when SILENCE_MARGIN does not fit every MIN_SILENCE_LENGTHS entry.
	ErrMarginTooBig = errors.New("config: SILENCE_MARGIN is too big for MIN_SILENCE_LENGTHS")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Storage settings
	TempDir     string `env:"TEMP_DIR, default=/tmp/langsplit" json:"temp_dir"`
	DocumentDir string `env:"DOCUMENT_DIR" json:"document_dir,omitempty"`
	// InputDir confines recording_path in API requests. Empty means any path.
	InputDir    string `env:"INPUT_DIR" json:"input_dir,omitempty"`

	// Optional S3 settings for persisted segment trees
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Prefix           string `env:"S3_PREFIX, default=trees" json:"s3_prefix,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Recognizer settings
	RecognizerURL    string        `env:"RECOGNIZER_URL" json:"recognizer_url,omitempty" validate:"omitempty,url"`
	RecognizerAPIKey string        `env:"RECOGNIZER_API_KEY, required" json:"-"` // Masked in JSON
	RecognizeTimeout time.Duration `env:"RECOGNIZE_TIMEOUT, default=30s" json:"recognize_timeout" validate:"gte=0"`
	Languages        []string      `env:"LANGUAGES, default=pt-BR,en-US" json:"languages" validate:"len=2,dive,required"`

	// Silence detection settings
	SilenceDetector   string    `env:"SILENCE_DETECTOR, default=energy" json:"silence_detector" validate:"oneof=energy ffmpeg"`
	FFmpegPath        string    `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	MinSilenceLengths []int     `env:"MIN_SILENCE_LENGTHS, default=1000,700,500,300,200" json:"min_silence_lengths" validate:"min=1,dive,gt=0"`
	SilenceThresholds []float64 `env:"SILENCE_THRESHOLDS, default=-60,-55,-50,-45,-40" json:"silence_thresholds" validate:"min=1,dive,lte=0"`
	SilenceMargin     int       `env:"SILENCE_MARGIN, default=50" json:"silence_margin" validate:"gte=0"`

	// Language decision settings
	ConfidenceLow  float64 `env:"CONFIDENCE_LOW, default=0.40" json:"confidence_low" validate:"gte=0,lte=1"`
	ConfidenceHigh float64 `env:"CONFIDENCE_HIGH, default=0.85" json:"confidence_high" validate:"gtefield=ConfidenceLow,lte=1"`

	// Processing settings
	MaxParallelNodes int `env:"MAX_PARALLEL_NODES, default=4" json:"max_parallel_nodes" validate:"min=1"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// FFmpegDetectorEnabled reports whether silences are detected with ffmpeg
// rather than in-process.
func (c *Config) FFmpegDetectorEnabled() bool {
	return c.SilenceDetector == "ffmpeg"
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "RECOGNIZER_API_KEY") {
			return nil, ErrRecognizerAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and that every
// value is within range.
func (c *Config) Validate() error {
	if c.RecognizerAPIKey == "" {
		return ErrRecognizerAPIKeyRequired
	}

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	for _, length := range c.MinSilenceLengths {
		if 2*c.SilenceMargin >= length {
			return fmt.Errorf("%w: margin %d, length %d", ErrMarginTooBig, c.SilenceMargin, length)
		}
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo is NewLogger writing to w.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, RecognizerURL: %s, Languages: %v, SilenceDetector: %s, MinSilenceLengths: %v, SilenceThresholds: %v, SilenceMargin: %d, MaxParallelNodes: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.RecognizerURL,
		c.Languages,
		c.SilenceDetector,
		c.MinSilenceLengths,
		c.SilenceThresholds,
		c.SilenceMargin,
		c.MaxParallelNodes,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
