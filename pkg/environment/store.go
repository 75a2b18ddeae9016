package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sandboxplatform/sandboxd/internal/store"
)

// Store provides database operations for environments and their versions.
type Store struct {
	dbtx store.DBTX
}

// NewStore creates an environment Store backed by the given connection.
func NewStore(dbtx store.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// WithTx returns a Store bound to an open transaction, for use inside
// Store.Transaction callbacks.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{dbtx: tx}
}

const environmentColumns = `id, user_id, name, current_version_id, created_at, updated_at`

// EnvironmentRow is a row from the environments table.
type EnvironmentRow struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Name              string
	CurrentVersionID  *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func scanEnvironmentRow(row pgx.Row) (EnvironmentRow, error) {
	var e EnvironmentRow
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.CurrentVersionID, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

const versionColumns = `id, environment_id, version, image, dockerfile, build_files, command, cpu, memory_mb, ports, env, secrets_encrypted, mounts, created_at`

// VersionRow is a row from the environment_versions table.
type VersionRow struct {
	ID               uuid.UUID
	EnvironmentID    uuid.UUID
	Version          int
	Image            *string
	Dockerfile       *string
	BuildFiles       map[string]string
	Command          []string
	CPU              float64
	MemoryMB         int
	Ports            []PortMapping
	Env              map[string]string
	SecretsEncrypted map[string]string
	Mounts           json.RawMessage
	CreatedAt        time.Time
}

func scanVersionRow(row pgx.Row) (VersionRow, error) {
	var v VersionRow
	var buildFiles, command, ports, env, secrets, mounts []byte
	err := row.Scan(&v.ID, &v.EnvironmentID, &v.Version, &v.Image, &v.Dockerfile,
		&buildFiles, &command, &v.CPU, &v.MemoryMB, &ports, &env, &secrets, &mounts, &v.CreatedAt)
	if err != nil {
		return VersionRow{}, err
	}
	if err := unmarshalIfPresent(buildFiles, &v.BuildFiles); err != nil {
		return VersionRow{}, fmt.Errorf("decoding build_files: %w", err)
	}
	if err := unmarshalIfPresent(command, &v.Command); err != nil {
		return VersionRow{}, fmt.Errorf("decoding command: %w", err)
	}
	if err := unmarshalIfPresent(ports, &v.Ports); err != nil {
		return VersionRow{}, fmt.Errorf("decoding ports: %w", err)
	}
	if err := unmarshalIfPresent(env, &v.Env); err != nil {
		return VersionRow{}, fmt.Errorf("decoding env: %w", err)
	}
	if err := unmarshalIfPresent(secrets, &v.SecretsEncrypted); err != nil {
		return VersionRow{}, fmt.Errorf("decoding secrets_encrypted: %w", err)
	}
	v.Mounts = mounts
	return v, nil
}

func unmarshalIfPresent(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// CountByUser returns how many environments a user owns, for quota checks.
func (s *Store) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.dbtx.QueryRow(ctx, `SELECT COUNT(*) FROM environments WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

// GetForUpdate locks an environment row for the duration of the enclosing
// transaction, returning pgx.ErrNoRows if absent or not owned by userID.
func (s *Store) GetForUpdate(ctx context.Context, id, userID uuid.UUID) (EnvironmentRow, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE id = $1 AND user_id = $2 FOR UPDATE`
	return scanEnvironmentRow(s.dbtx.QueryRow(ctx, query, id, userID))
}

// Get returns an environment by ID, scoped to its owning user.
func (s *Store) Get(ctx context.Context, id, userID uuid.UUID) (EnvironmentRow, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE id = $1 AND user_id = $2`
	return scanEnvironmentRow(s.dbtx.QueryRow(ctx, query, id, userID))
}

// List returns every environment owned by a user, most recently updated first.
func (s *Store) List(ctx context.Context, userID uuid.UUID) ([]EnvironmentRow, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE user_id = $1 ORDER BY updated_at DESC`
	rows, err := s.dbtx.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnvironmentRow
	for rows.Next() {
		e, err := scanEnvironmentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateEnvironment inserts a new environment row with no current version
// set yet; the caller sets it once the first version is inserted.
func (s *Store) CreateEnvironment(ctx context.Context, userID uuid.UUID, name string) (EnvironmentRow, error) {
	query := `INSERT INTO environments (user_id, name) VALUES ($1, $2) RETURNING ` + environmentColumns
	return scanEnvironmentRow(s.dbtx.QueryRow(ctx, query, userID, name))
}

// SetCurrentVersion points an environment at a version and bumps updated_at.
func (s *Store) SetCurrentVersion(ctx context.Context, environmentID, versionID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE environments SET current_version_id = $1, updated_at = now() WHERE id = $2`,
		versionID, environmentID)
	return err
}

// Delete removes an environment; environment_versions cascade via FK.
func (s *Store) Delete(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM environments WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// LatestVersion returns the highest-numbered version for an environment.
func (s *Store) LatestVersion(ctx context.Context, environmentID uuid.UUID) (VersionRow, error) {
	query := `SELECT ` + versionColumns + ` FROM environment_versions WHERE environment_id = $1 ORDER BY version DESC LIMIT 1`
	return scanVersionRow(s.dbtx.QueryRow(ctx, query, environmentID))
}

// GetVersion returns a specific version of an environment.
func (s *Store) GetVersion(ctx context.Context, versionID uuid.UUID) (VersionRow, error) {
	query := `SELECT ` + versionColumns + ` FROM environment_versions WHERE id = $1`
	return scanVersionRow(s.dbtx.QueryRow(ctx, query, versionID))
}

// CreateVersionParams bundles the fields needed to insert a new version.
type CreateVersionParams struct {
	EnvironmentID    uuid.UUID
	Version          int
	Image            *string
	Dockerfile       *string
	BuildFiles       map[string]string
	Command          []string
	CPU              float64
	MemoryMB         int
	Ports            []PortMapping
	Env              map[string]string
	SecretsEncrypted map[string]string
}

// updateSecrets mutates the encrypted-secrets map of an existing version
// in place. This is the one exception to version immutability: secrets are
// attached to the current version directly rather than minting a new one,
// per the chosen resolution of the secrets-mutability question.
func (s *Store) updateSecrets(ctx context.Context, versionID uuid.UUID, secrets map[string]string) error {
	encoded, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("encoding secrets_encrypted: %w", err)
	}
	_, err = s.dbtx.Exec(ctx, `UPDATE environment_versions SET secrets_encrypted = $1 WHERE id = $2`, encoded, versionID)
	return err
}

// CreateVersion inserts an immutable version row. Versions are never
// updated once written; updates always insert a new version.
func (s *Store) CreateVersion(ctx context.Context, p CreateVersionParams) (VersionRow, error) {
	buildFiles, err := json.Marshal(p.BuildFiles)
	if err != nil {
		return VersionRow{}, fmt.Errorf("encoding build_files: %w", err)
	}
	command, err := json.Marshal(p.Command)
	if err != nil {
		return VersionRow{}, fmt.Errorf("encoding command: %w", err)
	}
	ports, err := json.Marshal(p.Ports)
	if err != nil {
		return VersionRow{}, fmt.Errorf("encoding ports: %w", err)
	}
	env, err := json.Marshal(p.Env)
	if err != nil {
		return VersionRow{}, fmt.Errorf("encoding env: %w", err)
	}
	secrets, err := json.Marshal(p.SecretsEncrypted)
	if err != nil {
		return VersionRow{}, fmt.Errorf("encoding secrets_encrypted: %w", err)
	}

	query := `INSERT INTO environment_versions
		(environment_id, version, image, dockerfile, build_files, command, cpu, memory_mb, ports, env, secrets_encrypted, mounts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '{}'::jsonb)
		RETURNING ` + versionColumns
	return scanVersionRow(s.dbtx.QueryRow(ctx, query,
		p.EnvironmentID, p.Version, p.Image, p.Dockerfile, buildFiles, command, p.CPU, p.MemoryMB, ports, env, secrets))
}
