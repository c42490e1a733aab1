// Package server provides the HTTP API of langsplit.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/langsplit/internal/job"
)

// CreateJobRequest is the HTTP request body for segmenting a recording.
// Exactly one of RecordingPath and AudioBase64 must be given.
type CreateJobRequest struct {
	// RecordingPath is a recording already present on the server.
	RecordingPath string `json:"recording_path" validate:"required_without=AudioBase64,excluded_with=AudioBase64"`
	// AudioBase64 is an uploaded recording.
	AudioBase64 string `json:"audio_base64" validate:"omitempty,base64"`
	// Name identifies the recording for tree persistence. Required for uploads.
	Name string `json:"name" validate:"required_with=AudioBase64,max=255,excludesall=/\\"`
	// Refresh ignores any persisted segment tree.
	Refresh bool `json:"refresh"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// SegmentResponse is one leaf of the segment tree.
type SegmentResponse struct {
	NodeID     int                `json:"node_id"`
	Depth      int                `json:"depth"`
	StartMs    int                `json:"start_ms"`
	EndMs      int                `json:"end_ms"`
	SpeechMs   int                `json:"speech_start_ms"`
	Language   string             `json:"language,omitempty"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
	Transcript string             `json:"transcript"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	RecordingPath string            `json:"recording_path,omitempty"`
	TreeKey       string            `json:"tree_key,omitempty"`
	DurationMs    int               `json:"duration_ms,omitempty"`
	Restored      bool              `json:"restored"`
	Persisted     bool              `json:"persisted"`
	Nodes         int               `json:"nodes,omitempty"`
	Decided       int               `json:"decided"`
	Segments      []SegmentResponse `json:"segments,omitempty"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// ListJobsResponse is the HTTP response for listing jobs. Segments are
// omitted; fetch a single job to get them.
type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toJobResponse(j *job.Job, withSegments bool) JobResponse {
	resp := JobResponse{
		ID:            j.ID,
		Status:        string(j.Status),
		RecordingPath: j.RecordingPath,
		TreeKey:       j.TreeKey,
		DurationMs:    j.DurationMs,
		Restored:      j.Restored,
		Persisted:     j.Persisted,
		Nodes:         j.Nodes,
		Decided:       j.Decided(),
		Error:         j.Error,
		CreatedAt:     j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	if withSegments && len(j.Segments) > 0 {
		resp.Segments = make([]SegmentResponse, len(j.Segments))
		for i, s := range j.Segments {
			resp.Segments[i] = SegmentResponse{
				NodeID:     s.NodeID,
				Depth:      s.Depth,
				StartMs:    s.Start,
				EndMs:      s.End,
				SpeechMs:   s.SpeechStart,
				Language:   s.Language,
				Confidence: s.Confidence,
				Transcript: s.Transcript,
			}
		}
	}
	return resp
}
