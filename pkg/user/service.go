package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
)

// Service encapsulates user signup/login business logic.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a user Service backed by the given pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{store: NewStore(pool), logger: logger}
}

// Signup creates a new user with a bcrypt-hashed password verifier.
// Returns apperr.KindConflict if the email is already registered.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (Response, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Response{}, fmt.Errorf("hashing password: %w", err)
	}

	row, err := s.store.Create(ctx, req.Email, string(hash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Response{}, apperr.Conflict("an account with this email already exists")
		}
		return Response{}, fmt.Errorf("signing up user: %w", err)
	}
	return row.ToResponse(), nil
}

// Authenticate verifies an email/password pair and returns the user on
// success. Returns apperr.KindAuth on any mismatch, without disclosing
// whether the email itself is registered.
func (s *Service) Authenticate(ctx context.Context, req LoginRequest) (Response, error) {
	row, err := s.store.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, apperr.Auth("invalid email or password")
		}
		return Response{}, fmt.Errorf("looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordVerifier), []byte(req.Password)); err != nil {
		return Response{}, apperr.Auth("invalid email or password")
	}
	return row.ToResponse(), nil
}

// Get returns a single user by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, apperr.NotFound("user not found")
		}
		return Response{}, fmt.Errorf("getting user: %w", err)
	}
	return row.ToResponse(), nil
}
