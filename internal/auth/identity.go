package auth

import (
	"context"

	"github.com/google/uuid"
)

// Authentication methods recorded on an Identity for audit/debugging.
const (
	MethodSession = "session"
	MethodAPIKey  = "api_key"
	MethodOIDC    = "oidc"
	MethodDev     = "dev"
)

// Identity is the authenticated caller attached to a request context. There
// are no roles in this deployment model: every resource is scoped to its
// owning UserID, and authorization is "do you own this row", enforced by
// each service's store queries rather than a role check here.
type Identity struct {
	UserID   uuid.UUID
	Email    string
	APIKeyID *uuid.UUID
	Method   string
}

type contextKey int

const identityKey contextKey = iota

// NewContext returns a context carrying the given Identity.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the Identity stored in ctx, or nil if none is present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
