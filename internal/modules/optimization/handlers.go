package optimization

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxHistoryImportBytes bounds the accepted history import payload.
const maxHistoryImportBytes = 1 << 20

// Handler exposes the optimization service over HTTP.
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates the optimization HTTP handler.
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "optimization").Logger(),
	}
}

// RegisterRoutes mounts the optimization routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimize", func(r chi.Router) {
		r.Post("/", h.HandleOptimize)
		r.Get("/jobs/{id}", h.HandleGetJob)
		r.Post("/jobs/{id}/cancel", h.HandleCancelJob)
		r.Get("/history", h.HandleHistory)
		r.Get("/history/export", h.HandleHistoryExport)
		r.Post("/history/import", h.HandleHistoryImport)
		r.Get("/cost", h.HandleCost)
	})
}

// HandleOptimize submits a new optimization job.
// POST /api/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID, err := h.service.StartOptimization(r.Context(), req)
	if err != nil {
		h.log.Warn().Err(err).Msg("Optimization submission rejected")
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"state":  JobRunning,
	})
}

// HandleGetJob returns the current state of a job.
// GET /api/optimize/jobs/{id}
func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	record, ok := h.service.GetJob(jobID)
	if !ok {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, record)
}

// HandleCancelJob requests cancellation of a running job.
// POST /api/optimize/jobs/{id}/cancel
func (h *Handler) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := h.service.CancelJob(jobID); err != nil {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"status": "cancellation requested",
	})
}

// HandleHistory returns retained completed optimizations.
// GET /api/optimize/history
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": h.service.History(),
	})
}

// HandleHistoryExport returns the history as a msgpack blob.
// GET /api/optimize/history/export
func (h *Handler) HandleHistoryExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ExportHistory()
	if err != nil {
		h.log.Error().Err(err).Msg("History export failed")
		h.respondError(w, http.StatusInternalServerError, "failed to export history")
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.Header().Set("Content-Disposition", `attachment; filename="optimization_history.msgpack"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to write history export")
	}
}

// HandleHistoryImport replaces the history from an exported msgpack blob.
// POST /api/optimize/history/import
func (h *Handler) HandleHistoryImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxHistoryImportBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := h.service.ImportHistory(data); err != nil {
		h.log.Warn().Err(err).Msg("History import rejected")
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": len(h.service.History()),
	})
}

// HandleCost returns the accumulated estimated execution cost.
// GET /api/optimize/cost
func (h *Handler) HandleCost(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total_cost": h.service.TotalCost(),
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{"error": message})
}
