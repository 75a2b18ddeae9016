// Package environment implements the Environment Service (C4): immutable,
// versioned container configuration templates owned by a user.
package environment

import (
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var (
	imagePattern     = regexp.MustCompile(`(?i)^[a-z0-9][a-z0-9._\-/]*(:[\w][\w.\-]*)?$`)
	secretKeyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

var (
	errExactlyOneOf     = errors.New("exactly one of image or dockerfile must be set")
	errInvalidImage     = errors.New("image name is not a valid image reference")
	errInvalidSecretKey = errors.New("secret key must match ^[A-Z_][A-Z0-9_]*$ and be 1-100 characters")
)

const (
	maxEnvironmentsPerUser = 5
	defaultCPU             = 2.0
	defaultMemoryMB        = 512
)

// PortMapping is a container-to-host port binding declared on a version.
type PortMapping struct {
	Container int `json:"container" validate:"required,gte=1,lte=65535"`
	Host      int `json:"host" validate:"required,gte=1024,lte=65535"`
}

// CreateRequest is the JSON body for POST /environments.
type CreateRequest struct {
	Name       string            `json:"name" validate:"required,min=1,max=100"`
	Image      *string           `json:"image" validate:"omitempty,max=500"`
	Dockerfile *string           `json:"dockerfile" validate:"omitempty,max=100000"`
	BuildFiles map[string]string `json:"build_files"`
	Command    []string          `json:"command"`
	CPU        float64           `json:"cpu" validate:"omitempty,gte=0.25,lte=4"`
	MemoryMB   int               `json:"memory" validate:"omitempty,gte=128,lte=2048"`
	Ports      []PortMapping     `json:"ports" validate:"max=10,dive"`
	Env        map[string]string `json:"env"`
}

// UpdateRequest is the JSON body for PUT /environments/{id}. Any unset field
// carries over the current version's value into the new version.
type UpdateRequest struct {
	Image      *string           `json:"image" validate:"omitempty,max=500"`
	Dockerfile *string           `json:"dockerfile" validate:"omitempty,max=100000"`
	BuildFiles map[string]string `json:"build_files"`
	Command    []string          `json:"command"`
	CPU        *float64          `json:"cpu" validate:"omitempty,gte=0.25,lte=4"`
	MemoryMB   *int              `json:"memory" validate:"omitempty,gte=128,lte=2048"`
	Ports      []PortMapping     `json:"ports" validate:"omitempty,max=10,dive"`
	Env        map[string]string `json:"env"`
}

// SetSecretRequest is the JSON body for POST /environments/{id}/secrets.
type SetSecretRequest struct {
	Key   string `json:"key" validate:"required,max=100"`
	Value string `json:"value" validate:"required"`
}

// SecretInfo is how a secret is presented in API responses: the value never
// leaves the vault once stored.
type SecretInfo struct {
	Key      string `json:"key"`
	Redacted bool   `json:"redacted"`
}

// VersionResponse is the JSON shape of an environment version.
type VersionResponse struct {
	ID         uuid.UUID     `json:"id"`
	Version    int           `json:"version"`
	Image      *string       `json:"image,omitempty"`
	Dockerfile *string       `json:"dockerfile,omitempty"`
	Command    []string      `json:"command,omitempty"`
	CPU        float64       `json:"cpu"`
	MemoryMB   int           `json:"memory"`
	Ports      []PortMapping `json:"ports"`
	Env        map[string]string `json:"env"`
	Secrets    []SecretInfo  `json:"secrets"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Response is the JSON shape of an environment with its current version.
type Response struct {
	ID             uuid.UUID        `json:"id"`
	Name           string           `json:"name"`
	CurrentVersion *VersionResponse `json:"current_version,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func validateImageOrDockerfile(image, dockerfile *string) error {
	hasImage := image != nil && *image != ""
	hasDockerfile := dockerfile != nil && *dockerfile != ""
	switch {
	case hasImage == hasDockerfile:
		return errExactlyOneOf
	case hasImage && !imagePattern.MatchString(*image):
		return errInvalidImage
	}
	return nil
}

func validateSecretKey(key string) error {
	if !secretKeyPattern.MatchString(key) || len(key) == 0 || len(key) > 100 {
		return errInvalidSecretKey
	}
	return nil
}
