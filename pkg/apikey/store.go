package apikey

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const columns = `id, user_id, prefix, hashed_secret, name, created_at, last_used_at, revoked_at`

// Store provides database operations for API keys.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an API key Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateParams holds parameters for creating an API key.
type CreateParams struct {
	UserID       uuid.UUID
	Prefix       string
	HashedSecret string
	Name         string
}

func scanRow(row pgx.Row) (Row, error) {
	var r Row
	err := row.Scan(
		&r.ID, &r.UserID, &r.Prefix, &r.HashedSecret, &r.Name,
		&r.CreatedAt, &r.LastUsedAt, &r.RevokedAt,
	)
	return r, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		r, err := scanRowValues(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api key rows: %w", err)
	}
	return items, nil
}

func scanRowValues(rows pgx.Rows) (Row, error) {
	var r Row
	err := rows.Scan(
		&r.ID, &r.UserID, &r.Prefix, &r.HashedSecret, &r.Name,
		&r.CreatedAt, &r.LastUsedAt, &r.RevokedAt,
	)
	return r, err
}

// ListForUser returns all API keys owned by the given user, newest first.
func (s *Store) ListForUser(ctx context.Context, userID uuid.UUID) ([]Row, error) {
	query := `SELECT ` + columns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	return scanRows(rows)
}

// GetByPrefix returns candidate keys matching the given prefix. The caller
// verifies hashed_secret via a constant-time comparison, since multiple
// rows could in principle share a short prefix.
func (s *Store) GetByPrefix(ctx context.Context, prefix string) ([]Row, error) {
	query := `SELECT ` + columns + ` FROM api_keys WHERE prefix = $1 AND revoked_at IS NULL`
	rows, err := s.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("looking up api key by prefix: %w", err)
	}
	return scanRows(rows)
}

// Create inserts a new API key and returns the created row.
func (s *Store) Create(ctx context.Context, p CreateParams) (Row, error) {
	query := `INSERT INTO api_keys (user_id, prefix, hashed_secret, name)
	VALUES ($1, $2, $3, $4)
	RETURNING ` + columns
	row := s.pool.QueryRow(ctx, query, p.UserID, p.Prefix, p.HashedSecret, p.Name)
	return scanRow(row)
}

// TouchLastUsed updates last_used_at to now for the given key.
func (s *Store) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching api key last_used_at: %w", err)
	}
	return nil
}

// Revoke marks an API key as revoked, scoped to its owning user. Returns
// pgx.ErrNoRows if no matching, non-revoked key exists, including a key that
// was already revoked.
func (s *Store) Revoke(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`,
		id, userID)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
