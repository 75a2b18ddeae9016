package sandbox

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
	"github.com/sandboxplatform/sandboxd/internal/auth"
	"github.com/sandboxplatform/sandboxd/internal/httpserver"
)

// Handler provides HTTP handlers for the sandboxes API.
type Handler struct {
	service       *Service
	logger        *slog.Logger
	createLimiter *auth.RateLimiter
}

// NewHandler creates a sandbox Handler wrapping an already-constructed
// Service (the service is shared with the background workers and the
// WebSocket hub, so it is built once in app wiring, not here). createLimiter
// enforces the per-user create rate named in §6; it may be nil in tests.
func NewHandler(service *Service, logger *slog.Logger, createLimiter *auth.RateLimiter) *Handler {
	return &Handler{service: service, logger: logger, createLimiter: createLimiter}
}

// Routes returns a chi.Router with all sandbox routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	if h.createLimiter != nil {
		r.With(httpserver.RateLimitMiddleware(h.createLimiter, "sandbox_create", h.logger)).Post("/", h.handleCreate)
	} else {
		r.Post("/", h.handleCreate)
	}
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDestroy)
	r.Post("/{id}/start", h.handleStart)
	r.Post("/{id}/stop", h.handleStop)
	r.Post("/{id}/restart", h.handleRestart)
	r.Post("/{id}/replicate", h.handleReplicate)
	r.Get("/{id}/logs", h.handleLogs)
	r.Get("/{id}/metrics", h.handleMetrics)
	r.Post("/{id}/exec", h.handleExec)
	return r
}

func identity(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, apperr.KindAuth, "missing authentication", nil)
		return uuid.Nil, false
	}
	return id.UserID, true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, apperr.KindValidation, "invalid sandbox ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}

	var filter ListFilter
	if status := r.URL.Query().Get("status"); status != "" {
		s := Status(status)
		filter.Status = &s
	}
	if envID := r.URL.Query().Get("environmentId"); envID != "" {
		parsed, err := uuid.Parse(envID)
		if err != nil {
			httpserver.RespondError(w, apperr.KindValidation, "invalid environmentId", nil)
			return
		}
		filter.EnvironmentID = &parsed
	}

	items, err := h.service.List(r.Context(), userID, filter)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"sandboxes": items,
		"count":     len(items),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleDestroy(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	existed, err := h.service.Destroy(r.Context(), userID, id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	if !existed {
		httpserver.RespondError(w, apperr.KindNotFound, "sandbox not found", nil)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	resp, err := h.service.Start(r.Context(), userID, id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	resp, err := h.service.Stop(r.Context(), userID, id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	resp, err := h.service.Restart(r.Context(), userID, id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleReplicate(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req ReplicateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Replicate(r.Context(), userID, id, req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, resp)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	tail := 100
	if v := r.URL.Query().Get("tail"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httpserver.RespondError(w, apperr.KindValidation, "invalid tail parameter", nil)
			return
		}
		tail = parsed
	}

	logs, err := h.service.Logs(r.Context(), userID, id, tail)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"logs": logs})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	metrics, err := h.service.Metrics(r.Context(), userID, id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, metrics)
}

func (h *Handler) handleExec(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req ExecRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Exec(r.Context(), userID, id, req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}
