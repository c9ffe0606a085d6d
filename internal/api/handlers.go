package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reelworks/shortgen/internal/models"
	"github.com/reelworks/shortgen/internal/queue"
	"github.com/reelworks/shortgen/internal/storage"
	"github.com/reelworks/shortgen/internal/store"
)

// Request-level defaults and caps.
const (
	minTargetDuration = 5
	maxTargetDuration = 600
)

type Handler struct {
	store   *store.Store
	queue   *queue.Queue
	storage *storage.Storage

	defaultDuration float64
	defaultFPS      int
}

func NewHandler(st *store.Store, q *queue.Queue, stor *storage.Storage, defaultDuration float64, defaultFPS int) *Handler {
	return &Handler{
		store:           st,
		queue:           q,
		storage:         stor,
		defaultDuration: defaultDuration,
		defaultFPS:      defaultFPS,
	}
}

// CreateRun handles POST /v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Topic == "" && len(req.Sections) == 0 {
		respondError(w, http.StatusBadRequest, "Either topic or sections is required")
		return
	}
	for i, sec := range req.Sections {
		if sec.Text == "" {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Section %d has empty text", i))
			return
		}
	}

	targetDuration := h.defaultDuration
	if req.TargetDurationSeconds != nil {
		targetDuration = *req.TargetDurationSeconds
	}
	if targetDuration < minTargetDuration || targetDuration > maxTargetDuration {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("target_duration_seconds must be between %d and %d", minTargetDuration, maxTargetDuration))
		return
	}

	fps := h.defaultFPS
	if req.FPS != nil {
		fps = *req.FPS
	}
	if fps < 1 || fps > 60 {
		respondError(w, http.StatusBadRequest, "fps must be between 1 and 60")
		return
	}

	run := &models.Run{
		ID:                    uuid.New(),
		Topic:                 req.Topic,
		TargetDurationSeconds: targetDuration,
		FPS:                   fps,
		Status:                models.RunStatusQueued,
	}

	if err := h.store.CreateRun(r.Context(), run, req.Sections); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create run")
		return
	}

	if err := h.queue.EnqueueRenderRun(r.Context(), run.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue run")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateRunResponse{
		RunID:  run.ID,
		Status: run.Status,
	})
}

// ListRuns handles GET /v1/runs
// Query params:
//   - status: filter by run status (queued, planning, rendering, completed, failed, aborted)
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" {
		switch models.RunStatus(statusFilter) {
		case models.RunStatusQueued, models.RunStatusPlanning,
			models.RunStatusRendering, models.RunStatusCompleted,
			models.RunStatusFailed, models.RunStatusAborted:
			// valid
		default:
			respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: queued, planning, rendering, completed, failed, aborted")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	total, err := h.store.CountRuns(r.Context(), statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count runs")
		return
	}

	runs, err := h.store.ListRuns(r.Context(), statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}

	respondJSON(w, http.StatusOK, models.ListRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetRun handles GET /v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// DownloadRun handles GET /v1/runs/{id}/download and streams the finished
// video from local artifact storage.
func (h *Handler) DownloadRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	if run.Status != models.RunStatusCompleted || run.OutputPath == nil {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	f, err := h.storage.Open(runID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Artifact not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to stat artifact")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run_%s.mp4"`, runID))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// AbortRun handles POST /v1/runs/{id}/abort. Queued runs are marked aborted
// directly; in-flight runs get an abort broadcast that the rendering worker
// picks up through its cancellation token.
func (h *Handler) AbortRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}

	switch run.Status {
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusAborted:
		respondError(w, http.StatusConflict, fmt.Sprintf("Run already %s", run.Status))
		return
	case models.RunStatusQueued:
		if err := h.store.UpdateRunStatus(r.Context(), runID, models.RunStatusAborted); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to abort run")
			return
		}
	}

	// Broadcast regardless: the run may have been dequeued between the read
	// above and now.
	if err := h.queue.PublishAbort(r.Context(), runID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to publish abort")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
