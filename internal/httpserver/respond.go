package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
)

// Envelope is the shape every API response is wrapped in:
// {success, data?, error?: {code, message, details?}}.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the error portion of the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Respond writes a successful JSON envelope with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, Envelope{Success: true, Data: data})
}

// RespondError writes an error JSON envelope for the given apperr.Kind.
func RespondError(w http.ResponseWriter, code apperr.Kind, message string, details any) {
	writeEnvelope(w, apperr.StatusCode(code), Envelope{
		Success: false,
		Error:   &ErrorBody{Code: string(code), Message: message, Details: details},
	})
}

// RespondAppError inspects err for an *apperr.Error and writes the matching
// envelope; unrecognized errors surface as a generic INTERNAL_ERROR without
// leaking internals, matching the production error-message policy.
func RespondAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if ae, ok := apperr.As(err); ok {
		RespondError(w, ae.Kind, ae.Message, ae.Details)
		return
	}
	if logger != nil {
		logger.Error("unhandled internal error", "error", err)
	}
	RespondError(w, apperr.KindInternal, "an unexpected error occurred", nil)
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("encoding response envelope", "error", err)
	}
}
