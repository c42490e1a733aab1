package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/langsplit/internal/audio"
	"github.com/maauso/langsplit/internal/media"
	"github.com/maauso/langsplit/internal/segment"
	"github.com/maauso/langsplit/internal/storage"
)

// ErrUnsupportedFormat is returned for non-WAV recordings when no media
// processor is configured to convert them.
var ErrUnsupportedFormat = errors.New("job: recording is not WAV and no converter is configured")

// Segmenter runs the adaptive segmentation of a tree.
type Segmenter interface {
	Exhaust(ctx context.Context, root *segment.Node) error
	Thresholds() (low, high float64)
}

// TreeStore persists segment trees between runs.
type TreeStore interface {
	Save(ctx context.Context, key string, root *segment.Node) error
	Load(ctx context.Context, key string, root *segment.Node) error
}

// ProcessInput contains the input parameters for processing a recording.
type ProcessInput struct {
	// RecordingPath is the local path of the recording.
	RecordingPath string
	// Name identifies the recording for tree persistence. Defaults to the
	// base name of RecordingPath.
	Name string
	// Refresh ignores any persisted tree.
	Refresh bool
	// Uploaded marks RecordingPath as a temporary file to remove afterwards.
	Uploaded bool
}

func (in ProcessInput) treeKey() string {
	if in.Name != "" {
		return storage.KeyFor(in.Name)
	}
	return storage.KeyFor(in.RecordingPath)
}

// ProcessOutput contains the result of processing a recording.
type ProcessOutput struct {
	// Job is the final state of the job.
	Job *Job
	// Tree is the segment tree, nil if processing failed before it was built.
	Tree *segment.Node
}

// ProcessRecordingService orchestrates segmentation of a recording:
// conversion, decoding, tree restore, adaptive search, persistence and
// summarization.
type ProcessRecordingService struct {
	repo      Repository
	segmenter Segmenter
	trees     TreeStore
	temp      storage.TempStorage
	media     media.Processor
	logger    *slog.Logger
}

// ServiceOption configures a ProcessRecordingService.
type ServiceOption func(*ProcessRecordingService)

// WithMediaProcessor enables conversion of non-WAV recordings.
func WithMediaProcessor(p media.Processor) ServiceOption {
	return func(s *ProcessRecordingService) {
		s.media = p
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *ProcessRecordingService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewProcessRecordingService creates a new ProcessRecordingService.
func NewProcessRecordingService(repo Repository, segmenter Segmenter, trees TreeStore, temp storage.TempStorage, opts ...ServiceOption) *ProcessRecordingService {
	s := &ProcessRecordingService{
		repo:      repo,
		segmenter: segmenter,
		trees:     trees,
		temp:      temp,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob creates a new job and persists it to the repository.
// The job is created in QUEUED status, ready for processing.
func (s *ProcessRecordingService) CreateJob(ctx context.Context, input ProcessInput) (*Job, error) {
	job := New(input.RecordingPath)
	job.Refresh = input.Refresh
	job.TreeKey = input.treeKey()

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("recording", input.RecordingPath),
		slog.String("tree_key", job.TreeKey),
		slog.Bool("refresh", input.Refresh),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job, nil
}

// GetJob retrieves a job by ID.
func (s *ProcessRecordingService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all known jobs, oldest first.
func (s *ProcessRecordingService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// DeleteJob removes a finished job. Jobs still queued or running cannot be
// deleted and yield ErrInvalidTransition.
func (s *ProcessRecordingService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.GetStatus())
	}
	return s.repo.Delete(ctx, id)
}

// Process creates a job and runs it to completion.
func (s *ProcessRecordingService) Process(ctx context.Context, input ProcessInput) (*ProcessOutput, error) {
	job, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.ProcessExistingJob(ctx, job.ID, input)
}

// ProcessExistingJob runs a previously created job. The job ends COMPLETED or
// FAILED; the returned error mirrors a failure.
func (s *ProcessRecordingService) ProcessExistingJob(ctx context.Context, jobID string, input ProcessInput) (*ProcessOutput, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("start job %s: %w", jobID, err)
	}
	s.save(ctx, job)

	started := time.Now()
	s.logger.Info("processing recording",
		slog.String("job_id", job.ID),
		slog.String("recording", input.RecordingPath),
	)

	var scratch []string
	if input.Uploaded {
		scratch = append(scratch, input.RecordingPath)
	}
	defer func() {
		if len(scratch) == 0 {
			return
		}
		if err := s.temp.CleanupTemp(context.WithoutCancel(ctx), scratch); err != nil {
			s.logger.Warn("failed to clean up temp files",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	root, err := s.run(ctx, job, input, &scratch)
	if err != nil {
		s.logger.Error("job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		_ = job.Fail(err.Error())
		s.save(ctx, job)
		return &ProcessOutput{Job: job, Tree: root}, err
	}

	if err := job.Complete(); err != nil {
		return nil, fmt.Errorf("complete job %s: %w", jobID, err)
	}
	s.save(ctx, job)

	s.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.Int("segments", len(job.Segments)),
		slog.Int("decided", job.Decided()),
		slog.Int("nodes", job.Nodes),
		slog.Bool("restored", job.Restored),
		slog.Duration("elapsed", time.Since(started)),
	)
	return &ProcessOutput{Job: job, Tree: root}, nil
}

func (s *ProcessRecordingService) run(ctx context.Context, job *Job, input ProcessInput, scratch *[]string) (*segment.Node, error) {
	path, err := s.ensureWAV(ctx, input.RecordingPath, scratch)
	if err != nil {
		return nil, err
	}

	buf, err := audio.Load(path)
	if err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	key := input.treeKey()
	job.SetRecording(buf.Length(), key)

	root, restored, err := s.restore(ctx, job.ID, key, buf, input.Refresh)
	if err != nil {
		return nil, err
	}

	if err := s.segmenter.Exhaust(ctx, root); err != nil {
		// Recognitions are final once made, so partial trees are resumable.
		if s.persist(context.WithoutCancel(ctx), job.ID, key, root) {
			s.logger.Info("persisted partial segment tree",
				slog.String("job_id", job.ID),
				slog.String("tree_key", key),
			)
		}
		return root, fmt.Errorf("segment recording: %w", err)
	}

	persisted := s.persist(ctx, job.ID, key, root)

	low, high := s.segmenter.Thresholds()
	segments, nodes := Summarize(root, low, high)
	job.SetResult(restored, persisted, nodes, segments)
	return root, nil
}

// ensureWAV returns a path to a WAV version of the recording, converting it
// into a scratch file when needed.
func (s *ProcessRecordingService) ensureWAV(ctx context.Context, path string, scratch *[]string) (string, error) {
	if media.IsWAV(path) {
		return path, nil
	}
	if s.media == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".wav"
	dst, err := s.temp.SaveTemp(ctx, name, bytes.NewReader(nil))
	if err != nil {
		return "", fmt.Errorf("allocate converted file: %w", err)
	}
	*scratch = append(*scratch, dst)

	if err := s.media.ConvertToWAV(ctx, path, dst, media.DefaultSampleRate); err != nil {
		return "", fmt.Errorf("convert recording: %w", err)
	}
	return dst, nil
}

// restore loads the persisted tree for key, falling back to a fresh root
// when none exists or it no longer fits the recording.
func (s *ProcessRecordingService) restore(ctx context.Context, jobID, key string, buf *audio.Buffer, refresh bool) (*segment.Node, bool, error) {
	root := segment.NewRoot(buf.Full())
	if refresh {
		return root, false, nil
	}

	err := s.trees.Load(ctx, key, root)
	switch {
	case err == nil:
		s.logger.Info("restored segment tree",
			slog.String("job_id", jobID),
			slog.String("tree_key", key),
		)
		return root, true, nil
	case errors.Is(err, storage.ErrDocumentNotFound):
		return root, false, nil
	case errors.Is(err, segment.ErrCorruptPersistedTree):
		s.logger.Warn("discarding persisted tree",
			slog.String("job_id", jobID),
			slog.String("tree_key", key),
			slog.String("error", err.Error()),
		)
		return segment.NewRoot(buf.Full()), false, nil
	default:
		return nil, false, fmt.Errorf("restore tree: %w", err)
	}
}

// persist saves the tree under key and reports whether it succeeded.
func (s *ProcessRecordingService) persist(ctx context.Context, jobID, key string, root *segment.Node) bool {
	if err := s.trees.Save(ctx, key, root); err != nil {
		s.logger.Warn("failed to persist segment tree",
			slog.String("job_id", jobID),
			slog.String("tree_key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (s *ProcessRecordingService) save(ctx context.Context, job *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Summarize flattens the leaves of a tree into segments, in recording order,
// and returns them with the total node count.
func Summarize(root *segment.Node, low, high float64) ([]Segment, int) {
	segments := make([]Segment, 0)
	nodes := 0
	root.Walk(func(n *segment.Node, depth int) bool {
		nodes++
		if !n.IsLeaf() {
			return true
		}
		lang, _ := segment.Language(n, low, high)
		segments = append(segments, Segment{
			NodeID:      n.ID,
			Depth:       depth,
			Start:       n.Range.Offset(),
			End:         n.Range.End(),
			SpeechStart: n.Range.Offset() + n.SpeechStart,
			Language:    lang,
			Confidence:  segment.Confidence(n),
			Transcript:  segment.Transcription(n, low, high),
		})
		return true
	})
	return segments, nodes
}
