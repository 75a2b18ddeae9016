package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sandboxplatform/sandboxd/internal/store"
)

// Store provides database operations for users.
type Store struct {
	dbtx store.DBTX
}

// NewStore creates a user Store backed by the given database connection.
func NewStore(dbtx store.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const userColumns = `id, email, password_verifier, created_at`

// Row represents a row returned from the users table.
type Row struct {
	ID               uuid.UUID
	Email            string
	PasswordVerifier string
	CreatedAt        time.Time
}

// ToResponse converts a Row to a Response DTO.
func (u *Row) ToResponse() Response {
	return Response{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

func scanRow(row pgx.Row) (Row, error) {
	var u Row
	err := row.Scan(&u.ID, &u.Email, &u.PasswordVerifier, &u.CreatedAt)
	return u, err
}

// GetByEmail looks up a user by case-folded email. Returns pgx.ErrNoRows if
// absent.
func (s *Store) GetByEmail(ctx context.Context, email string) (Row, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	row := s.dbtx.QueryRow(ctx, query, normalizeEmail(email))
	return scanRow(row)
}

// GetByID looks up a user by ID.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Row, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	row := s.dbtx.QueryRow(ctx, query, id)
	return scanRow(row)
}

// Create inserts a new user. Returns a wrapped unique-violation error the
// caller maps to a Conflict if the email is already taken.
func (s *Store) Create(ctx context.Context, email, passwordVerifier string) (Row, error) {
	query := `INSERT INTO users (email, password_verifier) VALUES ($1, $2) RETURNING ` + userColumns
	row := s.dbtx.QueryRow(ctx, query, normalizeEmail(email), passwordVerifier)
	u, err := scanRow(row)
	if err != nil {
		return Row{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// normalizeEmail case-folds an email address per the unique, case-folded
// invariant on users.email.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
