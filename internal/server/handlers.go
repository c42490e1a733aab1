package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/langsplit/internal/job"
	"github.com/maauso/langsplit/internal/job/id"
	"github.com/maauso/langsplit/internal/storage"
)

// maxBodyBytes bounds request bodies, uploads included.
const maxBodyBytes = 256 << 20

// JobService is the use case the handlers drive.
type JobService interface {
	CreateJob(ctx context.Context, input job.ProcessInput) (*job.Job, error)
	ProcessExistingJob(ctx context.Context, jobID string, input job.ProcessInput) (*job.ProcessOutput, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// Compile-time check that the service satisfies JobService.
var _ JobService = (*job.ProcessRecordingService)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            JobService
	uploads            storage.TempStorage
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	inputDir           string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithInputDir confines recording_path to dir. Relative paths are resolved
// against it. An empty dir accepts any path readable by the server, which is
// only suitable for trusted clients.
func WithInputDir(dir string) HandlerOption {
	return func(h *Handlers) {
		if dir == "" {
			h.inputDir = ""
			return
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			dir = resolved
		}
		h.inputDir = dir
	}
}

// NewHandlers creates a new Handlers instance. Uploaded recordings are
// written to uploads before processing.
func NewHandlers(service JobService, uploads storage.TempStorage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		uploads:            uploads,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input := job.ProcessInput{
		RecordingPath: req.RecordingPath,
		Name:          req.Name,
		Refresh:       req.Refresh,
	}

	if req.AudioBase64 != "" {
		path, err := h.saveUpload(r.Context(), req.Name, req.AudioBase64)
		if err != nil {
			h.logger.Error("failed to store upload",
				slog.String("name", req.Name),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
			return
		}
		input.RecordingPath = path
		input.Uploaded = true
	} else {
		path, ok := h.resolveRecordingPath(req.RecordingPath)
		if !ok {
			writeError(w, http.StatusForbidden, "recording_path is outside the input directory", "RECORDING_PATH_FORBIDDEN")
			return
		}
		if _, err := os.Stat(path); err != nil {
			writeError(w, http.StatusBadRequest, "recording not found: "+req.RecordingPath, "RECORDING_NOT_FOUND")
			return
		}
		input.RecordingPath = path
	}

	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		h.discardUpload(r.Context(), input)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Processing outlives the request, so it runs on a detached context.
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string, inp job.ProcessInput) {
			if _, processErr := h.service.ProcessExistingJob(ctx, jobID, inp); processErr != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), createdJob.ID, input)
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.String("tree_key", createdJob.TreeKey),
		slog.Bool("uploaded", input.Uploaded),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// saveUpload decodes an uploaded recording into a temp file named after the
// recording. Names without an extension are assumed to be WAV.
func (h *Handlers) saveUpload(ctx context.Context, name, payload string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", err
	}
	if filepath.Ext(name) == "" {
		name += ".wav"
	}
	return h.uploads.SaveTemp(ctx, name, bytes.NewReader(data))
}

func (h *Handlers) discardUpload(ctx context.Context, input job.ProcessInput) {
	if !input.Uploaded {
		return
	}
	if err := h.uploads.CleanupTemp(context.WithoutCancel(ctx), []string{input.RecordingPath}); err != nil {
		h.logger.Warn("failed to remove upload",
			slog.String("path", input.RecordingPath),
			slog.String("error", err.Error()),
		)
	}
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(foundJob, true))
}

// DeleteJob handles DELETE /jobs/{id} requests. Only finished jobs can be
// deleted; the persisted segment tree is kept.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	err := h.service.DeleteJob(r.Context(), jobID)
	switch {
	case err == nil:
		h.logger.Info("job deleted", slog.String("job_id", jobID))
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "job is still running", "JOB_NOT_FINISHED")
	default:
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
	}
}

// pathJobID extracts and checks the {id} path value, writing the error
// response itself when it is unusable.
func pathJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return "", false
	}
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "malformed job ID", "INVALID_JOB_ID")
		return "", false
	}
	return jobID, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// resolveRecordingPath maps a requested path into the input directory and
// reports whether it stays inside it once symlinks are followed.
func (h *Handlers) resolveRecordingPath(path string) (string, bool) {
	if h.inputDir == "" {
		return path, true
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.inputDir, path)
	}
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	rel, err := filepath.Rel(h.inputDir, path)
	if err != nil || !filepath.IsLocal(rel) {
		return "", false
	}
	return path, true
}
