package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sandboxplatform/sandboxd/internal/store"
)

// Store provides database operations for sandboxes and their logs.
type Store struct {
	dbtx store.DBTX
}

// NewStore creates a sandbox Store backed by the given connection.
func NewStore(dbtx store.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const sandboxColumns = `id, user_id, environment_id, environment_version_id, name, container_ref,
	status, phase, ports, env, created_at, started_at, stopped_at, expires_at,
	provision_progress, provision_status_text`

// Row is a row from the sandboxes table.
type Row struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	EnvironmentID        uuid.UUID
	EnvironmentVersionID uuid.UUID
	Name                 string
	ContainerRef         *string
	Status               Status
	Phase                Phase
	Ports                []PortMapping
	Env                  map[string]string
	CreatedAt            time.Time
	StartedAt            *time.Time
	StoppedAt            *time.Time
	ExpiresAt            *time.Time
	ProvisionProgress    int
	ProvisionStatusText  string
}

// ToResponse converts a Row to a Response DTO.
func (r *Row) ToResponse() Response {
	return Response{
		ID:                   r.ID,
		EnvironmentID:        r.EnvironmentID,
		EnvironmentVersionID: r.EnvironmentVersionID,
		Name:                 r.Name,
		Status:               r.Status,
		Phase:                r.Phase,
		Ports:                r.Ports,
		ProvisionProgress:    r.ProvisionProgress,
		ProvisionStatusText:  r.ProvisionStatusText,
		CreatedAt:            r.CreatedAt,
		StartedAt:            r.StartedAt,
		StoppedAt:            r.StoppedAt,
		ExpiresAt:            r.ExpiresAt,
	}
}

func scanRow(row pgx.Row) (Row, error) {
	var r Row
	var ports, env []byte
	err := row.Scan(&r.ID, &r.UserID, &r.EnvironmentID, &r.EnvironmentVersionID, &r.Name, &r.ContainerRef,
		&r.Status, &r.Phase, &ports, &env, &r.CreatedAt, &r.StartedAt, &r.StoppedAt, &r.ExpiresAt,
		&r.ProvisionProgress, &r.ProvisionStatusText)
	if err != nil {
		return Row{}, err
	}
	if len(ports) > 0 {
		if err := json.Unmarshal(ports, &r.Ports); err != nil {
			return Row{}, fmt.Errorf("decoding ports: %w", err)
		}
	}
	if len(env) > 0 {
		if err := json.Unmarshal(env, &r.Env); err != nil {
			return Row{}, fmt.Errorf("decoding env: %w", err)
		}
	}
	return r, nil
}

// CountNonTerminalByUser counts sandboxes owned by a user whose status is
// not in {stopped, expired, error}, for the create-time quota check.
func (s *Store) CountNonTerminalByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM sandboxes WHERE user_id = $1 AND status NOT IN ('stopped', 'expired', 'error')`
	err := s.dbtx.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}

// FindByIdempotencyKey returns the existing sandbox for (user, environment,
// name) if one exists, for create-time idempotency.
func (s *Store) FindByIdempotencyKey(ctx context.Context, userID, envID uuid.UUID, name string) (Row, error) {
	query := `SELECT ` + sandboxColumns + ` FROM sandboxes WHERE user_id = $1 AND environment_id = $2 AND name = $3`
	return scanRow(s.dbtx.QueryRow(ctx, query, userID, envID, name))
}

// Create inserts a new sandbox row in pending/creating state.
func (s *Store) Create(ctx context.Context, r Row) (Row, error) {
	ports, err := json.Marshal(r.Ports)
	if err != nil {
		return Row{}, fmt.Errorf("encoding ports: %w", err)
	}
	env, err := json.Marshal(r.Env)
	if err != nil {
		return Row{}, fmt.Errorf("encoding env: %w", err)
	}
	query := `INSERT INTO sandboxes
		(user_id, environment_id, environment_version_id, name, status, phase, ports, env, expires_at, provision_progress, provision_status_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, '')
		RETURNING ` + sandboxColumns
	return scanRow(s.dbtx.QueryRow(ctx, query,
		r.UserID, r.EnvironmentID, r.EnvironmentVersionID, r.Name, r.Status, r.Phase, ports, env, r.ExpiresAt))
}

// GetForUpdate locks a sandbox row for the duration of the enclosing
// transaction, scoped to the owning user. Returns pgx.ErrNoRows if absent.
func (s *Store) GetForUpdate(ctx context.Context, id, userID uuid.UUID) (Row, error) {
	query := `SELECT ` + sandboxColumns + ` FROM sandboxes WHERE id = $1 AND user_id = $2 FOR UPDATE`
	return scanRow(s.dbtx.QueryRow(ctx, query, id, userID))
}

// Get returns a sandbox scoped to its owning user.
func (s *Store) Get(ctx context.Context, id, userID uuid.UUID) (Row, error) {
	query := `SELECT ` + sandboxColumns + ` FROM sandboxes WHERE id = $1 AND user_id = $2`
	return scanRow(s.dbtx.QueryRow(ctx, query, id, userID))
}

// GetByID returns a sandbox by ID without a user scope, for use by
// background work that operates across tenants (the provisioner, and
// Service.ContainerRef for the hub's log tail).
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Row, error) {
	query := `SELECT ` + sandboxColumns + ` FROM sandboxes WHERE id = $1`
	return scanRow(s.dbtx.QueryRow(ctx, query, id))
}

// ListFilter narrows List to a subset of a user's sandboxes.
type ListFilter struct {
	Status        *Status
	EnvironmentID *uuid.UUID
}

// List returns sandboxes owned by a user, optionally filtered.
func (s *Store) List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Row, error) {
	query := `SELECT ` + sandboxColumns + ` FROM sandboxes WHERE user_id = $1`
	args := []any{userID}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.EnvironmentID != nil {
		args = append(args, *filter.EnvironmentID)
		query += fmt.Sprintf(" AND environment_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListExpiredNonTerminal returns sandboxes past their expiry that have not
// already reached a terminal or expired state, for the TTL sweeper.
func (s *Store) ListExpiredNonTerminal(ctx context.Context) ([]Row, error) {
	query := `SELECT ` + sandboxColumns + ` FROM sandboxes
		WHERE expires_at IS NOT NULL AND expires_at < now()
		AND status NOT IN ('expired', 'stopped', 'error')`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateTransition updates status/phase and the fields that accompany a
// state transition. Pass nil for fields that shouldn't change.
type UpdateTransition struct {
	Status              Status
	Phase               Phase
	ContainerRef        *string
	Ports               []PortMapping
	StartedAt           *time.Time
	StoppedAt           *time.Time
	ProvisionProgress   *int
	ProvisionStatusText *string
	ClearStartedAt      bool
	ClearStoppedAt      bool
}

// ApplyTransition writes a new status/phase and any accompanying fields.
func (s *Store) ApplyTransition(ctx context.Context, id uuid.UUID, t UpdateTransition) error {
	query := `UPDATE sandboxes SET status = $1, phase = $2`
	args := []any{t.Status, t.Phase}

	if t.ContainerRef != nil {
		args = append(args, *t.ContainerRef)
		query += fmt.Sprintf(", container_ref = $%d", len(args))
	}
	if t.Ports != nil {
		encoded, err := json.Marshal(t.Ports)
		if err != nil {
			return fmt.Errorf("encoding ports: %w", err)
		}
		args = append(args, encoded)
		query += fmt.Sprintf(", ports = $%d", len(args))
	}
	if t.StartedAt != nil {
		args = append(args, *t.StartedAt)
		query += fmt.Sprintf(", started_at = $%d", len(args))
	}
	if t.ClearStartedAt {
		query += ", started_at = NULL"
	}
	if t.StoppedAt != nil {
		args = append(args, *t.StoppedAt)
		query += fmt.Sprintf(", stopped_at = $%d", len(args))
	}
	if t.ClearStoppedAt {
		query += ", stopped_at = NULL"
	}
	if t.ProvisionProgress != nil {
		args = append(args, *t.ProvisionProgress)
		query += fmt.Sprintf(", provision_progress = $%d", len(args))
	}
	if t.ProvisionStatusText != nil {
		args = append(args, *t.ProvisionStatusText)
		query += fmt.Sprintf(", provision_status_text = $%d", len(args))
	}

	args = append(args, id)
	query += fmt.Sprintf(" WHERE id = $%d", len(args))

	_, err := s.dbtx.Exec(ctx, query, args...)
	return err
}

// Delete removes a sandbox row; sandbox_logs cascade via FK. Returns
// whether a row existed.
func (s *Store) Delete(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM sandboxes WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AppendLog persists one log line and then enforces the per-sandbox
// retention bound (keep newest N) with a second DELETE statement.
func (s *Store) AppendLog(ctx context.Context, sandboxID uuid.UUID, stream, text string, ts time.Time) error {
	_, err := s.dbtx.Exec(ctx,
		`INSERT INTO sandbox_logs (sandbox_id, stream, text, timestamp) VALUES ($1, $2, $3, $4)`,
		sandboxID, stream, text, ts)
	if err != nil {
		return fmt.Errorf("inserting log: %w", err)
	}

	_, err = s.dbtx.Exec(ctx, `DELETE FROM sandbox_logs WHERE sandbox_id = $1 AND id NOT IN (
		SELECT id FROM sandbox_logs WHERE sandbox_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2
	)`, sandboxID, logRetentionPerSandbox)
	if err != nil {
		return fmt.Errorf("trimming logs: %w", err)
	}
	return nil
}

// RecentLogs returns the newest n log entries for a sandbox, in
// chronological order.
func (s *Store) RecentLogs(ctx context.Context, sandboxID uuid.UUID, n int) ([]LogEntry, error) {
	query := `SELECT stream, text, timestamp FROM (
		SELECT stream, text, timestamp FROM sandbox_logs WHERE sandbox_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2
	) recent ORDER BY timestamp ASC`
	rows, err := s.dbtx.Query(ctx, query, sandboxID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Stream, &e.Text, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TailLogs returns up to n of the newest log entries for GET .../logs?tail=N.
func (s *Store) TailLogs(ctx context.Context, sandboxID uuid.UUID, n int) ([]LogEntry, error) {
	return s.RecentLogs(ctx, sandboxID, n)
}

// DeleteLogsOlderThan removes sandbox_logs entries older than the cutoff,
// for the daily log-retention background worker.
func (s *Store) DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM sandbox_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
