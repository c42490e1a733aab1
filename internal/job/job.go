// Package job provides the Job aggregate for segmenting a recording and
// identifying the language of each segment, together with the repository
// port and the ProcessRecordingService use case.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/langsplit/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job is waiting to be processed.
	StatusQueued Status = "QUEUED"
	// StatusRunning indicates the recording is being segmented.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the segment tree is final.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during execution.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Segment summarizes one leaf of the segment tree.
type Segment struct {
	// NodeID is the id of the node inside its tree.
	NodeID int `json:"node_id"`
	// Depth is the number of splits between the root and the segment.
	Depth int `json:"depth"`
	// Start and End delimit the segment in milliseconds from the recording start.
	Start int `json:"start_ms"`
	End   int `json:"end_ms"`
	// SpeechStart is where speech begins, in milliseconds from the recording start.
	SpeechStart int `json:"speech_start_ms"`
	// Language is the decided language, empty when undetermined.
	Language string `json:"language,omitempty"`
	// Confidence is the best confidence per candidate language.
	Confidence map[string]float64 `json:"confidence,omitempty"`
	// Transcript is the best transcription in the decided language.
	Transcript string `json:"transcript"`
}

// Job represents the processing of one recording.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// RecordingPath is the recording being segmented.
	RecordingPath string
	// TreeKey is the document key the segment tree is persisted under.
	TreeKey string
	// Refresh discards any persisted tree and segments from scratch.
	Refresh bool
	// Restored is true when the tree was loaded from a previous run.
	Restored bool
	// Persisted is true when the final tree was saved.
	Persisted bool
	// DurationMs is the length of the decoded recording.
	DurationMs int
	// Nodes is the number of nodes in the final tree.
	Nodes int
	// Segments are the leaves of the final tree in recording order.
	Segments []Segment
	// Error contains any error message if the job failed.
	Error string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial QUEUED status.
func New(recordingPath string) *Job {
	return NewWithID(id.Generate(), recordingPath)
}

// NewWithID creates a new Job with the specified ID and initial QUEUED status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID, recordingPath string) *Job {
	now := time.Now()
	return &Job{
		ID:            jobID,
		Status:        StatusQueued,
		RecordingPath: recordingPath,
		Segments:      make([]Segment, 0),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	// Set timestamps based on state
	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from QUEUED to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
// The message is only recorded if the transition is allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetRecording records the decoded recording and where its tree is stored.
func (j *Job) SetRecording(durationMs int, treeKey string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.DurationMs = durationMs
	j.TreeKey = treeKey
	j.UpdatedAt = time.Now()
}

// SetResult records the outcome of segmentation.
func (j *Job) SetResult(restored, persisted bool, nodes int, segments []Segment) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Restored = restored
	j.Persisted = persisted
	j.Nodes = nodes
	j.Segments = segments
	j.UpdatedAt = time.Now()
}

// Decided returns how many segments have a decided language.
func (j *Job) Decided() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := 0
	for _, s := range j.Segments {
		if s.Language != "" {
			n++
		}
	}
	return n
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	segments := make([]Segment, len(j.Segments))
	for i, s := range j.Segments {
		segments[i] = s
		if s.Confidence != nil {
			segments[i].Confidence = make(map[string]float64, len(s.Confidence))
			for k, v := range s.Confidence {
				segments[i].Confidence[k] = v
			}
		}
	}

	return &Job{
		ID:            j.ID,
		Status:        j.Status,
		RecordingPath: j.RecordingPath,
		TreeKey:       j.TreeKey,
		Refresh:       j.Refresh,
		Restored:      j.Restored,
		Persisted:     j.Persisted,
		DurationMs:    j.DurationMs,
		Nodes:         j.Nodes,
		Segments:      segments,
		Error:         j.Error,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}
