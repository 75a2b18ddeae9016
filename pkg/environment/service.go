package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
	"github.com/sandboxplatform/sandboxd/internal/store"
	"github.com/sandboxplatform/sandboxd/internal/vault"
)

// SandboxDestroyer is the subset of the Sandbox Service the Environment
// Service needs to cascade a delete: tearing down every sandbox built from
// an environment via the sandbox state machine before the environment row
// itself is removed. Satisfied by *sandbox.Service; wired in after both
// services exist, since sandbox.Service also depends on environment.Service
// to resolve versions.
type SandboxDestroyer interface {
	DestroyAllForEnvironment(ctx context.Context, userID, environmentID uuid.UUID) error
}

// Service encapsulates environment and version business logic.
type Service struct {
	db        *store.Store
	vault     *vault.Vault
	logger    *slog.Logger
	sandboxes SandboxDestroyer
}

// NewService creates an environment Service.
func NewService(pool *pgxpool.Pool, v *vault.Vault, logger *slog.Logger) *Service {
	return &Service{db: store.New(pool), vault: v, logger: logger}
}

// SetSandboxDestroyer wires the Sandbox Service in after both services are
// constructed, breaking the circular dependency between them (sandbox needs
// environment to resolve versions; environment needs sandbox to cascade
// deletes).
func (s *Service) SetSandboxDestroyer(d SandboxDestroyer) {
	s.sandboxes = d
}

// Create provisions a new environment and its first version (version 1) in
// a single transaction. Enforces the per-user environment quota and the
// exactly-one-of-image/dockerfile invariant.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (Response, error) {
	if err := validateImageOrDockerfile(req.Image, req.Dockerfile); err != nil {
		return Response{}, apperr.Validation(err.Error())
	}

	cpu := req.CPU
	if cpu == 0 {
		cpu = defaultCPU
	}
	memoryMB := req.MemoryMB
	if memoryMB == 0 {
		memoryMB = defaultMemoryMB
	}

	var resp Response
	err := s.db.Transaction(ctx, func(tx pgx.Tx) error {
		envStore := NewStore(tx)

		count, err := envStore.CountByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("counting environments: %w", err)
		}
		if count >= maxEnvironmentsPerUser {
			return apperr.Quota(fmt.Sprintf("maximum of %d environments per user", maxEnvironmentsPerUser))
		}

		encryptedSecrets := map[string]string{}

		env, err := envStore.CreateEnvironment(ctx, userID, req.Name)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return apperr.Conflict("an environment with this name already exists")
			}
			return fmt.Errorf("creating environment: %w", err)
		}

		version, err := envStore.CreateVersion(ctx, CreateVersionParams{
			EnvironmentID:    env.ID,
			Version:          1,
			Image:            req.Image,
			Dockerfile:       req.Dockerfile,
			BuildFiles:       req.BuildFiles,
			Command:          req.Command,
			CPU:              cpu,
			MemoryMB:         memoryMB,
			Ports:            req.Ports,
			Env:              req.Env,
			SecretsEncrypted: encryptedSecrets,
		})
		if err != nil {
			return fmt.Errorf("creating initial version: %w", err)
		}

		if err := envStore.SetCurrentVersion(ctx, env.ID, version.ID); err != nil {
			return fmt.Errorf("setting current version: %w", err)
		}
		env.CurrentVersionID = &version.ID

		resp = toResponse(env, &version)
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Update appends a new version to an environment, carrying over any field
// left unset in the patch from the current version, and retaining the
// existing encrypted secrets map unchanged. The environment row is locked
// for the duration of the transaction so concurrent updates serialize.
func (s *Service) Update(ctx context.Context, userID, envID uuid.UUID, req UpdateRequest) (Response, error) {
	if req.Image != nil || req.Dockerfile != nil {
		if err := validateImageOrDockerfile(req.Image, req.Dockerfile); err != nil {
			return Response{}, apperr.Validation(err.Error())
		}
	}

	var resp Response
	err := s.db.Transaction(ctx, func(tx pgx.Tx) error {
		envStore := NewStore(tx)

		env, err := envStore.GetForUpdate(ctx, envID, userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("environment not found")
			}
			return fmt.Errorf("locking environment: %w", err)
		}
		if env.CurrentVersionID == nil {
			return apperr.Internal("environment has no current version")
		}

		current, err := envStore.GetVersion(ctx, *env.CurrentVersionID)
		if err != nil {
			return fmt.Errorf("loading current version: %w", err)
		}

		next := CreateVersionParams{
			EnvironmentID:    envID,
			Version:          current.Version + 1,
			Image:            current.Image,
			Dockerfile:       current.Dockerfile,
			BuildFiles:       current.BuildFiles,
			Command:          current.Command,
			CPU:              current.CPU,
			MemoryMB:         current.MemoryMB,
			Ports:            current.Ports,
			Env:              current.Env,
			SecretsEncrypted: current.SecretsEncrypted,
		}
		if req.Image != nil {
			next.Image = req.Image
			next.Dockerfile = nil
		}
		if req.Dockerfile != nil {
			next.Dockerfile = req.Dockerfile
			next.Image = nil
		}
		if req.BuildFiles != nil {
			next.BuildFiles = req.BuildFiles
		}
		if req.Command != nil {
			next.Command = req.Command
		}
		if req.CPU != nil {
			next.CPU = *req.CPU
		}
		if req.MemoryMB != nil {
			next.MemoryMB = *req.MemoryMB
		}
		if req.Ports != nil {
			next.Ports = req.Ports
		}
		if req.Env != nil {
			next.Env = req.Env
		}

		version, err := envStore.CreateVersion(ctx, next)
		if err != nil {
			return fmt.Errorf("creating next version: %w", err)
		}
		if err := envStore.SetCurrentVersion(ctx, envID, version.ID); err != nil {
			return fmt.Errorf("setting current version: %w", err)
		}
		env.CurrentVersionID = &version.ID

		resp = toResponse(env, &version)
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Get returns a single environment with its current version, secrets
// redacted.
func (s *Service) Get(ctx context.Context, userID, envID uuid.UUID) (Response, error) {
	envStore := NewStore(s.db.Pool)
	env, err := envStore.Get(ctx, envID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, apperr.NotFound("environment not found")
		}
		return Response{}, fmt.Errorf("getting environment: %w", err)
	}

	var version *VersionRow
	if env.CurrentVersionID != nil {
		v, err := envStore.GetVersion(ctx, *env.CurrentVersionID)
		if err != nil {
			return Response{}, fmt.Errorf("getting current version: %w", err)
		}
		version = &v
	}
	return toResponse(env, version), nil
}

// List returns every environment owned by a user.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Response, error) {
	envStore := NewStore(s.db.Pool)
	envs, err := envStore.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing environments: %w", err)
	}

	out := make([]Response, 0, len(envs))
	for _, env := range envs {
		var version *VersionRow
		if env.CurrentVersionID != nil {
			v, err := envStore.GetVersion(ctx, *env.CurrentVersionID)
			if err != nil {
				return nil, fmt.Errorf("getting version for environment %s: %w", env.ID, err)
			}
			version = &v
		}
		out = append(out, toResponse(env, version))
	}
	return out, nil
}

// Delete destroys every sandbox built from this environment via the sandbox
// state machine, then removes the environment (and its versions, via FK
// cascade). No sandbox is ever left running unmanaged: destruction always
// happens through Sandbox Service.Destroy, never a bare row delete.
func (s *Service) Delete(ctx context.Context, userID, envID uuid.UUID) error {
	if s.sandboxes != nil {
		if err := s.sandboxes.DestroyAllForEnvironment(ctx, userID, envID); err != nil {
			return fmt.Errorf("destroying sandboxes before environment delete: %w", err)
		}
	}

	envStore := NewStore(s.db.Pool)
	if err := envStore.Delete(ctx, envID, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("environment not found")
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperr.Conflict("environment still has sandboxes referencing it")
		}
		return fmt.Errorf("deleting environment: %w", err)
	}
	return nil
}

// SetSecret encrypts and stores a secret value on the environment's current
// version, mutating the encrypted-secrets map of that version in place
// rather than creating a new version.
func (s *Service) SetSecret(ctx context.Context, userID, envID uuid.UUID, req SetSecretRequest) (Response, error) {
	if err := validateSecretKey(req.Key); err != nil {
		return Response{}, apperr.Validation(err.Error())
	}

	encrypted, err := s.vault.Encrypt(req.Value)
	if err != nil {
		return Response{}, fmt.Errorf("encrypting secret: %w", err)
	}

	var resp Response
	err = s.db.Transaction(ctx, func(tx pgx.Tx) error {
		envStore := NewStore(tx)

		env, err := envStore.GetForUpdate(ctx, envID, userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("environment not found")
			}
			return fmt.Errorf("locking environment: %w", err)
		}
		if env.CurrentVersionID == nil {
			return apperr.Internal("environment has no current version")
		}

		current, err := envStore.GetVersion(ctx, *env.CurrentVersionID)
		if err != nil {
			return fmt.Errorf("loading current version: %w", err)
		}

		if current.SecretsEncrypted == nil {
			current.SecretsEncrypted = map[string]string{}
		}
		current.SecretsEncrypted[req.Key] = encrypted

		if err := envStore.updateSecrets(ctx, current.ID, current.SecretsEncrypted); err != nil {
			return fmt.Errorf("updating secrets: %w", err)
		}

		resp = toResponse(env, &current)
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// DeleteSecret removes a key from the environment's current version.
func (s *Service) DeleteSecret(ctx context.Context, userID, envID uuid.UUID, key string) (Response, error) {
	var resp Response
	err := s.db.Transaction(ctx, func(tx pgx.Tx) error {
		envStore := NewStore(tx)

		env, err := envStore.GetForUpdate(ctx, envID, userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound("environment not found")
			}
			return fmt.Errorf("locking environment: %w", err)
		}
		if env.CurrentVersionID == nil {
			return apperr.Internal("environment has no current version")
		}

		current, err := envStore.GetVersion(ctx, *env.CurrentVersionID)
		if err != nil {
			return fmt.Errorf("loading current version: %w", err)
		}

		delete(current.SecretsEncrypted, key)

		if err := envStore.updateSecrets(ctx, current.ID, current.SecretsEncrypted); err != nil {
			return fmt.Errorf("updating secrets: %w", err)
		}

		resp = toResponse(env, &current)
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// DecryptSecrets returns the plaintext secrets for a version. Used only by
// the sandbox provisioner at container-creation time.
func (s *Service) DecryptSecrets(ctx context.Context, versionID uuid.UUID) (map[string]string, error) {
	envStore := NewStore(s.db.Pool)
	version, err := envStore.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("loading version: %w", err)
	}
	plaintext, err := s.vault.DecryptMap(version.SecretsEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypting secrets: %w", err)
	}
	return plaintext, nil
}

func toResponse(env EnvironmentRow, version *VersionRow) Response {
	resp := Response{
		ID:        env.ID,
		Name:      env.Name,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}
	if version != nil {
		secrets := make([]SecretInfo, 0, len(version.SecretsEncrypted))
		for key := range version.SecretsEncrypted {
			secrets = append(secrets, SecretInfo{Key: key, Redacted: true})
		}
		resp.CurrentVersion = &VersionResponse{
			ID:         version.ID,
			Version:    version.Version,
			Image:      version.Image,
			Dockerfile: version.Dockerfile,
			Command:    version.Command,
			CPU:        version.CPU,
			MemoryMB:   version.MemoryMB,
			Ports:      version.Ports,
			Env:        version.Env,
			Secrets:    secrets,
			CreatedAt:  version.CreatedAt,
		}
	}
	return resp
}
