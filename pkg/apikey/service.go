package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// keyPrefixLen is the number of hex characters of the prefix stored and
// indexed for lookup; the remainder of the raw key is the secret.
const keyPrefixLen = 12

// Prefix identifies a sandboxd API key in a bearer header. A key is Prefix
// followed by 64 hex characters, e.g. "sk_ab12cd34ef56..."; Prefix plus the
// first keyPrefixLen hex characters is the stored lookup prefix.
const Prefix = "sk_"

// Service encapsulates API key business logic.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates an API key Service backed by the given pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{
		store:  NewStore(pool),
		logger: logger,
	}
}

// List returns all API keys owned by the given user.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Response, error) {
	rows, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	items := make([]Response, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ToResponse())
	}
	return items, nil
}

// Create generates a new API key, stores its hash, and returns the raw key
// (shown to the caller exactly once).
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (CreateResponse, error) {
	raw, prefix, hashed := generateKey()

	row, err := s.store.Create(ctx, CreateParams{
		UserID:       userID,
		Prefix:       prefix,
		HashedSecret: hashed,
		Name:         req.Name,
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating api key: %w", err)
	}

	return CreateResponse{
		Response: row.ToResponse(),
		RawKey:   raw,
	}, nil
}

// Revoke revokes an API key owned by userID. Returns pgx.ErrNoRows if no
// matching, non-revoked key exists.
func (s *Service) Revoke(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.store.Revoke(ctx, userID, id); err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	return nil
}

// AuthResult is the outcome of a successful Authenticate call.
type AuthResult struct {
	APIKeyID uuid.UUID
	UserID   uuid.UUID
}

// Authenticate looks up candidate keys by the raw key's prefix and verifies
// the full secret via a constant-time comparison against hashed_secret, per
// the invariant that only non-revoked keys authenticate. On success it
// touches last_used_at.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*AuthResult, error) {
	if len(rawKey) <= len(Prefix)+keyPrefixLen {
		return nil, fmt.Errorf("malformed api key")
	}

	prefix := rawKey[:len(Prefix)+keyPrefixLen]
	candidates, err := s.store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	hashed := hashSecret(rawKey)
	for _, c := range candidates {
		if subtle.ConstantTimeCompare([]byte(c.HashedSecret), []byte(hashed)) == 1 {
			if err := s.store.TouchLastUsed(ctx, c.ID); err != nil {
				s.logger.Warn("touching api key last_used_at", "error", err, "api_key_id", c.ID)
			}
			return &AuthResult{APIKeyID: c.ID, UserID: c.UserID}, nil
		}
	}

	return nil, fmt.Errorf("invalid api key")
}

// generateKey creates a random API key with the "sk_" prefix, its indexed
// lookup prefix, and its SHA-256 secret hash.
func generateKey() (raw, prefix, hashed string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = Prefix + hex.EncodeToString(b)
	prefix = raw[:len(Prefix)+keyPrefixLen]
	hashed = hashSecret(raw)
	return
}

func hashSecret(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
