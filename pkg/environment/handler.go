package environment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
	"github.com/sandboxplatform/sandboxd/internal/audit"
	"github.com/sandboxplatform/sandboxd/internal/auth"
	"github.com/sandboxplatform/sandboxd/internal/httpserver"
)

// Handler provides HTTP handlers for the environments API.
type Handler struct {
	logger  *slog.Logger
	audit   *audit.Writer
	service *Service
}

// NewHandler creates an environment Handler wrapping an already-constructed
// Service (the service is shared with the sandbox service, which resolves
// environment versions at provisioning time, so it is built once in app
// wiring, not here).
func NewHandler(service *Service, logger *slog.Logger, auditWriter *audit.Writer) *Handler {
	return &Handler{
		logger:  logger,
		audit:   auditWriter,
		service: service,
	}
}

// Routes returns a chi.Router with all environment routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/secrets", h.handleSetSecret)
	r.Delete("/{id}/secrets/{key}", h.handleDeleteSecret)
	return r
}

func identityOrFail(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, apperr.KindAuth, "missing authentication", nil)
		return uuid.Nil, false
	}
	return id.UserID, true
}

func parseEnvID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, apperr.KindValidation, "invalid environment ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := identityOrFail(w, r)
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

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": resp.Name})
		h.audit.LogFromRequest(r, "create", "environment", resp.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := identityOrFail(w, r)
	if !ok {
		return
	}

	items, err := h.service.List(r.Context(), userID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"environments": items,
		"count":        len(items),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := identityOrFail(w, r)
	if !ok {
		return
	}
	envID, ok := parseEnvID(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Get(r.Context(), userID, envID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := identityOrFail(w, r)
	if !ok {
		return
	}
	envID, ok := parseEnvID(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Update(r.Context(), userID, envID, req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "environment", envID, nil)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := identityOrFail(w, r)
	if !ok {
		return
	}
	envID, ok := parseEnvID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, envID); err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "environment", envID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	userID, ok := identityOrFail(w, r)
	if !ok {
		return
	}
	envID, ok := parseEnvID(w, r)
	if !ok {
		return
	}

	var req SetSecretRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.SetSecret(r.Context(), userID, envID, req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"key": req.Key})
		h.audit.LogFromRequest(r, "set_secret", "environment", envID, detail)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	userID, ok := identityOrFail(w, r)
	if !ok {
		return
	}
	envID, ok := parseEnvID(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	resp, err := h.service.DeleteSecret(r.Context(), userID, envID, key)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"key": key})
		h.audit.LogFromRequest(r, "delete_secret", "environment", envID, detail)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}
