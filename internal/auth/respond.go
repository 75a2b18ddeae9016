package auth

import (
	"encoding/json"
	"net/http"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
)

// respondErr writes the standard {success, error: {code, message}} envelope.
// Defined locally (rather than depending on internal/httpserver) because
// httpserver depends on auth for its middleware chain.
func respondErr(w http.ResponseWriter, kind apperr.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.StatusCode(kind))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": string(kind), "message": message},
	})
}
