package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sandboxplatform/sandboxd/pkg/apikey"
)

// APIKeyAuthenticator validates API keys against the api_keys table.
type APIKeyAuthenticator struct {
	service *apikey.Service
}

// NewAPIKeyAuthenticator creates an authenticator backed by the given service.
func NewAPIKeyAuthenticator(service *apikey.Service) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{service: service}
}

// APIKeyResult holds the resolved identity data from an API key lookup.
type APIKeyResult struct {
	APIKeyID uuid.UUID
	UserID   uuid.UUID
}

// Authenticate verifies a raw API key via prefix lookup and constant-time
// secret comparison, per the apikey.Service invariant that only non-revoked
// keys authenticate.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, rawKey string) (*APIKeyResult, error) {
	if rawKey == "" {
		return nil, fmt.Errorf("empty API key")
	}

	result, err := a.service.Authenticate(ctx, rawKey)
	if err != nil {
		return nil, fmt.Errorf("authenticating api key: %w", err)
	}

	return &APIKeyResult{APIKeyID: result.APIKeyID, UserID: result.UserID}, nil
}
