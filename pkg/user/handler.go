package user

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
	"github.com/sandboxplatform/sandboxd/internal/audit"
	"github.com/sandboxplatform/sandboxd/internal/auth"
	"github.com/sandboxplatform/sandboxd/internal/httpserver"
)

// Handler provides the public signup/login/logout handlers plus the
// authenticated profile endpoint.
type Handler struct {
	logger       *slog.Logger
	audit        *audit.Writer
	service      *Service
	sessionMgr   *auth.SessionManager
	loginLimiter *auth.RateLimiter
}

// NewHandler creates a user Handler. loginLimiter enforces the per-IP
// failed-login limit named in §6; it is never nil in production wiring.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, pool *pgxpool.Pool, sessionMgr *auth.SessionManager, loginLimiter *auth.RateLimiter) *Handler {
	return &Handler{
		logger:       logger,
		audit:        auditWriter,
		service:      NewService(pool, logger),
		sessionMgr:   sessionMgr,
		loginLimiter: loginLimiter,
	}
}

// PublicRoutes returns the unauthenticated signup/login/logout endpoints,
// mounted directly on the top-level router rather than /api/v1.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/signup", h.handleSignup)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	return r
}

// MeHandler returns the authenticated-profile handler for mounting on the
// authenticated API router.
func (h *Handler) MeHandler() http.HandlerFunc {
	return h.handleMe
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Signup(r.Context(), req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"email": resp.Email})
		h.audit.LogFromRequest(r, "signup", "user", resp.ID, detail)
	}

	h.issueSession(w, resp, "local", http.StatusCreated)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ip := audit.ClientIP(r).String()
	if h.loginLimiter != nil {
		result, err := h.loginLimiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("login rate limit check", "error", err)
		} else if !result.Allowed {
			httpserver.RespondError(w, apperr.KindRateLimit, "too many login attempts, try again later", map[string]any{"retryAt": result.RetryAt})
			return
		}
	}

	resp, err := h.service.Authenticate(r.Context(), req)
	if err != nil {
		if h.loginLimiter != nil {
			if recErr := h.loginLimiter.Record(r.Context(), ip); recErr != nil {
				h.logger.Error("login rate limit record", "error", recErr)
			}
		}
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	if h.loginLimiter != nil {
		if err := h.loginLimiter.Reset(r.Context(), ip); err != nil {
			h.logger.Error("login rate limit reset", "error", err)
		}
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "login", "user", resp.ID, nil)
	}

	h.issueSession(w, resp, "local", http.StatusOK)
}

func (h *Handler) issueSession(w http.ResponseWriter, resp Response, method string, status int) {
	token, err := h.sessionMgr.IssueToken(auth.SessionClaims{
		Subject: resp.ID.String(),
		Email:   resp.Email,
		Method:  method,
	})
	if err != nil {
		h.logger.Error("issuing session token", "error", err)
		httpserver.RespondError(w, apperr.KindInternal, "failed to issue session", nil)
		return
	}

	httpserver.Respond(w, status, map[string]any{
		"user":  resp,
		"token": token,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Session JWTs are stateless; logout is a client-side no-op, kept as an
	// endpoint so clients have a symmetrical API to call.
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, apperr.KindAuth, "missing authentication", nil)
		return
	}

	resp, err := h.service.Get(r.Context(), id.UserID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, resp)
}
