package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
)

// apikeyPrefix identifies bearer tokens that are API keys rather than JWTs.
const apikeyPrefix = "sk_"

// Authenticate resolves a raw bearer token (without the "Bearer " prefix)
// to an Identity via session JWT, OIDC JWT, or API key, in that precedence.
// Shared by Middleware (Authorization header) and the WebSocket hub (token
// query parameter), so both paths authenticate identically.
func Authenticate(ctx context.Context, rawToken string, sessionMgr *SessionManager, oidcAuth *OIDCAuthenticator, apikeyAuth *APIKeyAuthenticator) (*Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, fmt.Errorf("no credential provided")
	}

	if strings.HasPrefix(rawToken, apikeyPrefix) {
		if apikeyAuth == nil {
			return nil, fmt.Errorf("api key authentication not configured")
		}
		result, err := apikeyAuth.Authenticate(ctx, rawToken)
		if err != nil {
			return nil, fmt.Errorf("api key authentication failed: %w", err)
		}
		return &Identity{UserID: result.UserID, APIKeyID: &result.APIKeyID, Method: MethodAPIKey}, nil
	}

	if sessionMgr != nil {
		if claims, err := sessionMgr.ValidateToken(rawToken); err == nil {
			if userID, uerr := parseUserID(claims.Subject); uerr == nil {
				return &Identity{UserID: userID, Email: claims.Email, Method: MethodSession}, nil
			}
		}
	}

	if oidcAuth != nil {
		claims, err := oidcAuth.Authenticate(ctx, "Bearer "+rawToken)
		if err == nil {
			if userID, uerr := parseUserID(claims.Subject); uerr == nil {
				return &Identity{UserID: userID, Email: claims.Email, Method: MethodOIDC}, nil
			}
		}
	}

	return nil, fmt.Errorf("invalid token")
}

// Middleware returns an HTTP middleware that authenticates the caller via
// session JWT, OIDC JWT, API key, or dev header and stores the resulting
// Identity in the request context.
//
// Authentication precedence:
//  1. Authorization: Bearer <jwt>  → session JWT (HMAC) → OIDC validation
//  2. Authorization: Bearer sk_... → API key prefix + secret lookup
//  3. X-Dev-User: <user-id>        → development-only fallback (no real auth)
//
// If none succeed, the request is rejected with 401.
func Middleware(sessionMgr *SessionManager, oidcAuth *OIDCAuthenticator, apikeyAuth *APIKeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			rawToken := strings.TrimPrefix(authHeader, "Bearer ")
			rawToken = strings.TrimPrefix(rawToken, "bearer ")

			identity, err := Authenticate(r.Context(), rawToken, sessionMgr, oidcAuth, apikeyAuth)
			if err != nil {
				logger.Warn("authentication failed", "error", err)
			}

			// Dev-mode fallback: X-Dev-User header (no real authentication).
			if identity == nil {
				if devUser := r.Header.Get("X-Dev-User"); devUser != "" {
					if userID, uerr := parseUserID(devUser); uerr == nil {
						identity = &Identity{UserID: userID, Method: MethodDev}
					}
				}
			}

			if identity == nil {
				respondErr(w, apperr.KindAuth, "no valid authentication provided")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseUserID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing user id %q: %w", s, err)
	}
	return id, nil
}
