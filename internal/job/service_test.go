package job

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/langsplit/internal/audio"
	"github.com/maauso/langsplit/internal/recognize"
	"github.com/maauso/langsplit/internal/segment"
	"github.com/maauso/langsplit/internal/storage"
)

// twoSpeakerDetector reports one pause in the full recording and nothing
// inside shorter ranges.
type twoSpeakerDetector struct {
	length int
	err    error
	calls  atomic.Int32
}

func (d *twoSpeakerDetector) DetectSilence(_ context.Context, r audio.Range, _ int, _ float64) ([]audio.Interval, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	if r.Length() != d.length {
		return nil, nil
	}
	return []audio.Interval{{Start: 1000, End: 1600}}, nil
}

// twoSpeakerRecognizer hears Portuguese before the pause and English after it.
// The full recording is ambiguous.
type twoSpeakerRecognizer struct {
	mu    sync.Mutex
	calls int
}

func (r *twoSpeakerRecognizer) Recognize(_ context.Context, rng audio.Range, language string) ([]recognize.Alternative, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	scores := map[string]float64{"pt-BR": 0.6, "en-US": 0.6}
	switch {
	case rng.Offset() == 0 && rng.End() < 2000:
		scores = map[string]float64{"pt-BR": 0.95, "en-US": 0.1}
	case rng.Offset() > 0:
		scores = map[string]float64{"pt-BR": 0.2, "en-US": 0.9}
	}
	return []recognize.Alternative{{Text: language + " " + rng.String(), Confidence: scores[language]}}, nil
}

func (r *twoSpeakerRecognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// copyProcessor "converts" by copying a prepared WAV file.
type copyProcessor struct {
	wav   string
	calls int
}

func (p *copyProcessor) ConvertToWAV(_ context.Context, _, dst string, sampleRate int) error {
	p.calls++
	if sampleRate <= 0 {
		return errors.New("bad sample rate")
	}
	src, err := os.Open(p.wav)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	_, err = io.Copy(out, src)
	return err
}

// failingTrees wraps a tree store and injects errors.
type failingTrees struct {
	TreeStore
	saveErr error
	loadErr error
}

func (f *failingTrees) Save(ctx context.Context, key string, root *segment.Node) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.TreeStore.Save(ctx, key, root)
}

func (f *failingTrees) Load(ctx context.Context, key string, root *segment.Node) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	return f.TreeStore.Load(ctx, key, root)
}

type serviceFixture struct {
	repo       *MemoryRepository
	store      *storage.LocalStorage
	trees      *segment.TreeStore
	detector   *twoSpeakerDetector
	recognizer *twoSpeakerRecognizer
	search     *segment.Search
	recording  string
}

// writeRecording writes a 3 s mono recording sampled at 1 kHz.
func writeRecording(t *testing.T, path string) {
	t.Helper()
	data := make([]int, 3000)
	for i := range data {
		data[i] = (i % 200) * 100
	}
	buf := audio.NewBuffer(data, 1000, 1, 16)

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(f, buf.Full()))
	require.NoError(t, f.Close())
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(dir, "tmp"), filepath.Join(dir, "trees"))
	require.NoError(t, err)

	f := &serviceFixture{
		repo:       NewMemoryRepository(),
		store:      store,
		trees:      segment.NewTreeStore(store),
		detector:   &twoSpeakerDetector{length: 3000},
		recognizer: &twoSpeakerRecognizer{},
		recording:  filepath.Join(dir, "talk.wav"),
	}
	f.search, err = segment.NewSearch(f.detector, f.recognizer)
	require.NoError(t, err)
	writeRecording(t, f.recording)
	return f
}

func (f *serviceFixture) service(opts ...ServiceOption) *ProcessRecordingService {
	return NewProcessRecordingService(f.repo, f.search, f.trees, f.store, opts...)
}

func TestProcessRecordingService_CreateJob(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service()
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, ProcessInput{RecordingPath: f.recording, Name: "Interview.mp3", Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, "Interview.json", job.TreeKey)
	assert.True(t, job.Refresh)

	found, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)

	jobs, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = svc.GetJob(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestProcessRecordingService_Process(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service()

	out, err := svc.Process(context.Background(), ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)

	job := out.Job
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3000, job.DurationMs)
	assert.Equal(t, "talk.json", job.TreeKey)
	assert.False(t, job.Restored)
	assert.True(t, job.Persisted)
	assert.Equal(t, 3, job.Nodes)
	assert.Equal(t, 2, job.Decided())
	assert.False(t, job.StartedAt.IsZero())
	assert.False(t, job.CompletedAt.IsZero())

	require.Len(t, job.Segments, 2)
	first, second := job.Segments[0], job.Segments[1]
	assert.Equal(t, 1, first.Depth)
	assert.Equal(t, 0, first.Start)
	assert.Equal(t, 1050, first.End)
	assert.Equal(t, "pt-BR", first.Language)
	assert.Equal(t, map[string]float64{"pt-BR": 0.95, "en-US": 0.1}, first.Confidence)
	assert.Equal(t, "pt-BR [0:1050]", first.Transcript)

	assert.Equal(t, 1050, second.Start)
	assert.Equal(t, 3000, second.End)
	assert.Equal(t, 1550, second.SpeechStart)
	assert.Equal(t, "en-US", second.Language)

	require.NotNil(t, out.Tree)
	assert.Len(t, out.Tree.Children, 2)
	assert.FileExists(t, filepath.Join(f.store.DocumentDir(), "talk.json"))

	stored, err := svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Len(t, stored.Segments, 2)

	// Root plus two children, two languages each.
	assert.Equal(t, 6, f.recognizer.Calls())
}

func TestProcessRecordingService_RestoresPersistedTree(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Process(ctx, ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)
	recognized, detected := f.recognizer.Calls(), f.detector.calls.Load()

	out, err := svc.Process(ctx, ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)
	assert.True(t, out.Job.Restored)
	assert.Equal(t, 2, out.Job.Decided())
	assert.Equal(t, recognized, f.recognizer.Calls(), "restored recognitions must be reused")
	assert.Equal(t, detected, f.detector.calls.Load(), "restored splits must be reused")
}

func TestProcessRecordingService_Refresh(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Process(ctx, ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)

	out, err := svc.Process(ctx, ProcessInput{RecordingPath: f.recording, Refresh: true})
	require.NoError(t, err)
	assert.False(t, out.Job.Restored)
	assert.Equal(t, 12, f.recognizer.Calls())
}

func TestProcessRecordingService_CorruptTreeFallsBack(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service()
	require.NoError(t, f.store.ReplaceAll(context.Background(), "talk.json", []byte("{not json")))

	out, err := svc.Process(context.Background(), ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)
	assert.False(t, out.Job.Restored)
	assert.Equal(t, StatusCompleted, out.Job.Status)

	// The corrupt document was replaced with a loadable tree.
	root := segment.NewRoot(audio.NewBuffer(make([]int, 3000), 1000, 1, 16).Full())
	require.NoError(t, f.trees.Load(context.Background(), "talk.json", root))
	assert.Len(t, root.Children, 2)
}

func TestProcessRecordingService_TreeLoadErrorFails(t *testing.T) {
	f := newServiceFixture(t)
	boom := errors.New("bucket unreachable")
	svc := NewProcessRecordingService(f.repo, f.search, &failingTrees{TreeStore: f.trees, loadErr: boom}, f.store)

	out, err := svc.Process(context.Background(), ProcessInput{RecordingPath: f.recording})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, out.Job.Status)
	assert.Contains(t, out.Job.Error, "bucket unreachable")
	assert.Zero(t, f.recognizer.Calls())
}

func TestProcessRecordingService_TreeSaveErrorIsNotFatal(t *testing.T) {
	f := newServiceFixture(t)
	svc := NewProcessRecordingService(f.repo, f.search, &failingTrees{TreeStore: f.trees, saveErr: errors.New("disk full")}, f.store)

	out, err := svc.Process(context.Background(), ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Job.Status)
	assert.False(t, out.Job.Persisted)
	assert.Len(t, out.Job.Segments, 2)
}

func TestProcessRecordingService_DetectorErrorFails(t *testing.T) {
	f := newServiceFixture(t)
	f.detector.err = errors.New("ffmpeg exploded")
	svc := f.service()

	out, err := svc.Process(context.Background(), ProcessInput{RecordingPath: f.recording})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, out.Job.Status)
	assert.Contains(t, out.Job.Error, "ffmpeg exploded")
	assert.NotNil(t, out.Tree)

	stored, err := svc.GetJob(context.Background(), out.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)

	// The root recognition survives the failure and is reused next time.
	assert.FileExists(t, filepath.Join(f.store.DocumentDir(), "talk.json"))
	assert.Equal(t, 2, f.recognizer.Calls())

	f.detector.err = nil
	out, err = svc.Process(context.Background(), ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)
	assert.True(t, out.Job.Restored)
	assert.Equal(t, 2, out.Job.Decided())
	assert.Equal(t, 6, f.recognizer.Calls(), "only the children are recognized")
}

// cancellingDetector cancels the run the first time it is asked for silences.
type cancellingDetector struct {
	cancel context.CancelFunc
}

func (d *cancellingDetector) DetectSilence(ctx context.Context, _ audio.Range, _ int, _ float64) ([]audio.Interval, error) {
	d.cancel()
	return nil, ctx.Err()
}

func TestProcessRecordingService_CancelledRunPersistsPartialTree(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	search, err := segment.NewSearch(&cancellingDetector{cancel: cancel}, f.recognizer)
	require.NoError(t, err)
	svc := NewProcessRecordingService(f.repo, search, f.trees, f.store)

	out, err := svc.Process(ctx, ProcessInput{RecordingPath: f.recording})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, out.Job.Status)
	assert.Equal(t, 2, f.recognizer.Calls())

	root := segment.NewRoot(audio.NewBuffer(make([]int, 3000), 1000, 1, 16).Full())
	require.NoError(t, f.trees.Load(context.Background(), "talk.json", root))
	rec, ok := root.Recognized()
	require.True(t, ok, "root recognition must be restorable")
	assert.Len(t, rec, 2)
	assert.True(t, root.IsLeaf())
}

func TestProcessRecordingService_InvalidRecording(t *testing.T) {
	f := newServiceFixture(t)
	bad := filepath.Join(t.TempDir(), "noise.wav")
	require.NoError(t, os.WriteFile(bad, []byte("not a wav file"), 0o600))
	svc := f.service()

	out, err := svc.Process(context.Background(), ProcessInput{RecordingPath: bad})
	require.ErrorIs(t, err, audio.ErrInvalidWAV)
	assert.Equal(t, StatusFailed, out.Job.Status)
	assert.Nil(t, out.Tree)
}

func TestProcessRecordingService_UnsupportedFormat(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service()

	out, err := svc.Process(context.Background(), ProcessInput{RecordingPath: "/recordings/talk.mp3"})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, StatusFailed, out.Job.Status)
}

func TestProcessRecordingService_ConvertsAndCleansUp(t *testing.T) {
	f := newServiceFixture(t)
	proc := &copyProcessor{wav: f.recording}
	svc := f.service(WithMediaProcessor(proc))

	out, err := svc.Process(context.Background(), ProcessInput{RecordingPath: "/recordings/talk.mp3"})
	require.NoError(t, err)
	assert.Equal(t, 1, proc.calls)
	assert.Equal(t, "talk.json", out.Job.TreeKey)
	assert.Len(t, out.Job.Segments, 2)

	leftovers, err := filepath.Glob(filepath.Join(f.store.TempDir(), "talk_*.wav"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestProcessRecordingService_RemovesUploadedRecording(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service()
	ctx := context.Background()

	data, err := os.ReadFile(f.recording)
	require.NoError(t, err)
	upload, err := f.store.SaveTemp(ctx, "upload.wav", bytes.NewReader(data))
	require.NoError(t, err)

	out, err := svc.Process(ctx, ProcessInput{RecordingPath: upload, Name: "talk", Uploaded: true})
	require.NoError(t, err)
	assert.Equal(t, "talk.json", out.Job.TreeKey)
	assert.NoFileExists(t, upload)
	assert.FileExists(t, f.recording)
}

func TestProcessRecordingService_ProcessExistingJob_NotQueued(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service()
	ctx := context.Background()

	out, err := svc.Process(ctx, ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)

	_, err = svc.ProcessExistingJob(ctx, out.Job.ID, ProcessInput{RecordingPath: f.recording})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.ProcessExistingJob(ctx, "missing", ProcessInput{RecordingPath: f.recording})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestProcessRecordingService_DeleteJob(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service()
	ctx := context.Background()

	queued, err := svc.CreateJob(ctx, ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteJob(ctx, queued.ID), ErrInvalidTransition)

	out, err := svc.ProcessExistingJob(ctx, queued.ID, ProcessInput{RecordingPath: f.recording})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteJob(ctx, out.Job.ID))

	_, err = svc.GetJob(ctx, out.Job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, svc.DeleteJob(ctx, "missing"), ErrJobNotFound)
}

func TestSummarize_SingleLeaf(t *testing.T) {
	root := segment.NewRoot(audio.NewBuffer(make([]int, 500), 1000, 1, 16).Full())

	segments, nodes := Summarize(root, segment.DefaultConfidenceLow, segment.DefaultConfidenceHigh)
	assert.Equal(t, 1, nodes)
	require.Len(t, segments, 1)
	assert.Equal(t, Segment{NodeID: root.ID, Start: 0, End: 500, Transcript: segment.Unknown}, segments[0])
}
