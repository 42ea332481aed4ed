package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/vidcompress/internal/hoststats"
	"github.com/maauso/vidcompress/internal/job"
	"github.com/maauso/vidcompress/internal/preset"
)

// serviceName identifies this API in / and /health.
const serviceName = "vidcompress"

// JobService is the part of *job.Pipeline the handlers read from.
type JobService interface {
	Status(ctx context.Context, userID int64) (job.View, bool)
	RequestCancel(ctx context.Context, userID int64) error
	Jobs(ctx context.Context) []job.View
	Catalog() *preset.Catalog
}

var _ JobService = (*job.Pipeline)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service       JobService
	validator     *validator.Validate
	logger        *slog.Logger
	tempFiles     func() (int, error)
	hostStats     hoststats.Func
	maxConcurrent int
	version       string
	now           func() time.Time
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithTempFileCounter sets how /stats counts workspace files.
func WithTempFileCounter(fn func() (int, error)) HandlerOption {
	return func(h *Handlers) {
		h.tempFiles = fn
	}
}

// WithHostStats sets how /stats samples CPU, memory and disk usage.
func WithHostStats(fn hoststats.Func) HandlerOption {
	return func(h *Handlers) {
		h.hostStats = fn
	}
}

// WithVersion sets the build version reported by / and /health.
func WithVersion(v string) HandlerOption {
	return func(h *Handlers) {
		if v != "" {
			h.version = v
		}
	}
}

// WithClock overrides the time source used for /health timestamps.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithMaxConcurrentTranscodes sets the limit reported by /stats.
func WithMaxConcurrentTranscodes(n int) HandlerOption {
	return func(h *Handlers) {
		h.maxConcurrent = n
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service JobService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
		version:   "dev",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Root handles GET / with a short service banner.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Service:   serviceName,
		Version:   h.version,
		Endpoints: endpoints,
	})
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC(),
		Service:   serviceName,
		Version:   h.version,
		Endpoints: endpoints,
	})
}

// Stats handles GET /stats requests.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		JobsByState:             make(map[job.State]int),
		TempFiles:               -1,
		MaxConcurrentTranscodes: h.maxConcurrent,
	}
	for _, v := range h.service.Jobs(r.Context()) {
		resp.JobsByState[v.State]++
		if !v.State.IsTerminal() {
			resp.ActiveJobs++
		}
	}
	if h.tempFiles != nil {
		n, err := h.tempFiles()
		if err != nil {
			h.logger.Warn("failed to count temp files", slog.String("error", err.Error()))
		} else {
			resp.TempFiles = n
		}
	}
	if h.hostStats != nil {
		snap, err := h.hostStats(r.Context())
		if err != nil {
			h.logger.Warn("failed to sample host resources", slog.String("error", err.Error()))
		} else {
			resp.Host = &snap
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Presets handles GET /presets requests.
func (h *Handlers) Presets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PresetsResponse{Presets: h.service.Catalog().List()})
}

// GetJob handles GET /jobs/{userID} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	view, found := h.service.Status(r.Context(), userID)
	if !found {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: view})
}

// CancelJob handles POST /jobs/{userID}/cancel requests. Cancellation is
// cooperative, so success means the request was recorded.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	view, found := h.service.Status(r.Context(), userID)
	if !found {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	if err := h.service.RequestCancel(r.Context(), userID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to cancel job",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		return
	}

	h.logger.Info("job cancel requested",
		slog.String("job_id", view.ID),
		slog.Int64("user_id", userID),
	)
	writeJSON(w, http.StatusAccepted, CancelResponse{JobID: view.ID, Status: "cancel_requested"})
}

// userID parses and validates the {userID} path parameter, writing a 400
// response when it is invalid.
func (h *Handlers) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		err = h.validator.Var(id, "gt=0")
	}
	if err != nil {
		h.logger.Warn("invalid user id", slog.String("user_id", raw))
		writeError(w, http.StatusBadRequest, "user ID must be a positive integer", "INVALID_USER_ID")
		return 0, false
	}
	return id, true
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
