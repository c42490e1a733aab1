// Package bootstrap wires the langsplit dependencies from configuration.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/langsplit/internal/audio"
	"github.com/maauso/langsplit/internal/config"
	"github.com/maauso/langsplit/internal/job"
	"github.com/maauso/langsplit/internal/media"
	"github.com/maauso/langsplit/internal/recognize"
	"github.com/maauso/langsplit/internal/segment"
	"github.com/maauso/langsplit/internal/storage"
)

// Dependencies holds the initialized services shared by the binaries.
type Dependencies struct {
	Service *job.ProcessRecordingService
	Search  *segment.Search
	Storage storage.Storage
}

// Option overrides a collaborator built from configuration.
type Option func(*overrides)

type overrides struct {
	detector   audio.SilenceDetector
	recognizer recognize.Recognizer
}

// WithDetector replaces the configured silence detector.
func WithDetector(d audio.SilenceDetector) Option {
	return func(o *overrides) {
		o.detector = d
	}
}

// WithRecognizer replaces the configured recognizer.
func WithRecognizer(r recognize.Recognizer) Option {
	return func(o *overrides) {
		o.recognizer = r
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Dependencies, error) {
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	detector := o.detector
	if detector == nil {
		detector = initDetector(cfg, logger)
	}

	recognizer := o.recognizer
	if recognizer == nil {
		recognizer, err = initRecognizer(cfg)
		if err != nil {
			return nil, err
		}
	}

	search, err := segment.NewSearch(detector, recognizer,
		segment.WithGrid(segment.Grid{Lengths: cfg.MinSilenceLengths, DBs: cfg.SilenceThresholds}),
		segment.WithMargin(cfg.SilenceMargin),
		segment.WithLanguages(cfg.Languages...),
		segment.WithThresholds(cfg.ConfidenceLow, cfg.ConfidenceHigh),
		segment.WithParallelism(cfg.MaxParallelNodes),
		segment.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create search: %w", err)
	}

	svc := job.NewProcessRecordingService(
		job.NewMemoryRepository(),
		search,
		segment.NewTreeStore(store),
		store,
		job.WithMediaProcessor(media.NewFFmpegProcessor(cfg.FFmpegPath)),
		job.WithLogger(logger),
	)

	return &Dependencies{
		Service: svc,
		Search:  search,
		Storage: store,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(cfg.TempDir, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 tree storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("prefix", cfg.S3Prefix),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir, cfg.DocumentDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local tree storage configured",
		slog.String("temp_dir", localStore.TempDir()),
		slog.String("document_dir", localStore.DocumentDir()),
	)
	return localStore, nil
}

func initDetector(cfg *config.Config, logger *slog.Logger) audio.SilenceDetector {
	if cfg.FFmpegDetectorEnabled() {
		logger.Info("using ffmpeg silence detection", slog.String("ffmpeg_path", cfg.FFmpegPath))
		return audio.NewFFmpegDetector(cfg.FFmpegPath, cfg.TempDir)
	}
	return audio.NewEnergyDetector()
}

func initRecognizer(cfg *config.Config) (recognize.Recognizer, error) {
	clientOpts := []recognize.ClientOption{recognize.WithTempDir(cfg.TempDir)}
	if cfg.RecognizerURL != "" {
		clientOpts = append(clientOpts, recognize.WithBaseURL(cfg.RecognizerURL))
	}
	client, err := recognize.NewClient(cfg.RecognizerAPIKey, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create recognizer client: %w", err)
	}
	return recognize.WithTimeout(client, cfg.RecognizeTimeout), nil
}
