package apikey

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// CreateRequest is the JSON body for POST /api/v1/api-keys.
type CreateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

// Response is the JSON response for a single API key (never includes the secret).
type Response struct {
	ID         uuid.UUID  `json:"id"`
	Prefix     string     `json:"prefix"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// CreateResponse includes the raw key, shown exactly once at creation time.
type CreateResponse struct {
	Response
	RawKey string `json:"raw_key"`
}

// Row represents a row from the api_keys table.
type Row struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Prefix       string
	HashedSecret string
	Name         string
	CreatedAt    time.Time
	LastUsedAt   pgtype.Timestamptz
	RevokedAt    pgtype.Timestamptz
}

// ToResponse converts a Row to its public Response DTO.
func (r *Row) ToResponse() Response {
	resp := Response{
		ID:        r.ID,
		Prefix:    r.Prefix,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
	}
	if r.LastUsedAt.Valid {
		t := r.LastUsedAt.Time
		resp.LastUsedAt = &t
	}
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time
		resp.RevokedAt = &t
	}
	return resp
}

// Revoked reports whether the key has been revoked and must not authenticate.
func (r *Row) Revoked() bool {
	return r.RevokedAt.Valid
}
