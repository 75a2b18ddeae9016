// Package user implements the User entity: signup and login against the
// store, and the minimal profile response. Users are created on signup and
// never deleted by the control plane.
package user

import (
	"time"

	"github.com/google/uuid"
)

// SignupRequest is the JSON body for POST /users/signup.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginRequest is the JSON body for POST /users/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Response is the JSON response for a single user.
type Response struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
