package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandboxplatform/sandboxd/internal/apperr"
	"github.com/sandboxplatform/sandboxd/internal/audit"
	"github.com/sandboxplatform/sandboxd/internal/runtime"
	"github.com/sandboxplatform/sandboxd/internal/store"
	"github.com/sandboxplatform/sandboxd/pkg/environment"
)

// EnvironmentResolver is the subset of the Environment Service the sandbox
// service needs: resolving a version's runtime spec and decrypting its
// secrets. Satisfied by *environment.Service.
type EnvironmentResolver interface {
	Get(ctx context.Context, userID, envID uuid.UUID) (environment.Response, error)
	DecryptSecrets(ctx context.Context, versionID uuid.UUID) (map[string]string, error)
}

// Service implements the sandbox lifecycle state machine (C5).
type Service struct {
	db     *store.Store
	rt     runtime.Adapter
	env    EnvironmentResolver
	audit  *audit.Writer
	logger *slog.Logger

	mu          sync.Mutex
	provisioning map[uuid.UUID]bool // active provisioner registry, guards against double-spawn
	collecting   map[uuid.UUID]context.CancelFunc
}

// NewService creates a sandbox Service.
func NewService(pool *pgxpool.Pool, rt runtime.Adapter, env EnvironmentResolver, auditWriter *audit.Writer, logger *slog.Logger) *Service {
	return &Service{
		db:           store.New(pool),
		rt:           rt,
		env:          env,
		audit:        auditWriter,
		logger:       logger,
		provisioning: make(map[uuid.UUID]bool),
		collecting:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Create enforces quota and idempotency, inserts the sandbox row in
// pending/creating, and enqueues an async provisioner.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (Response, error) {
	envID, err := uuid.Parse(req.EnvironmentID)
	if err != nil {
		return Response{}, apperr.Validation("invalid environment ID")
	}

	name := req.Name
	if name == "" {
		envResp, err := s.env.Get(ctx, userID, envID)
		if err != nil {
			return Response{}, err
		}
		name = envResp.Name + "-" + randomHex(4)
	}

	var resp Response
	var isNew bool
	err = s.db.Transaction(ctx, func(tx pgx.Tx) error {
		sbStore := NewStore(tx)

		existing, err := sbStore.FindByIdempotencyKey(ctx, userID, envID, name)
		if err == nil {
			resp = existing.ToResponse()
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("checking idempotency: %w", err)
		}

		count, err := sbStore.CountNonTerminalByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("counting sandboxes: %w", err)
		}
		if count >= maxNonTerminalSandboxesPerUser {
			return apperr.Quota(fmt.Sprintf("maximum of %d active sandboxes per user", maxNonTerminalSandboxesPerUser))
		}

		envResp, err := s.env.Get(ctx, userID, envID)
		if err != nil {
			return err
		}

		versionID := envResp.CurrentVersion.ID
		if req.VersionID != nil {
			parsed, err := uuid.Parse(*req.VersionID)
			if err != nil {
				return apperr.Validation("invalid version ID")
			}
			versionID = parsed
		}

		ports := req.Ports
		if ports == nil && envResp.CurrentVersion != nil {
			ports = make([]PortMapping, 0, len(envResp.CurrentVersion.Ports))
			for _, p := range envResp.CurrentVersion.Ports {
				ports = append(ports, PortMapping{Container: p.Container, Host: p.Host})
			}
		}

		var expiresAt *time.Time
		if req.TTLSeconds != nil {
			t := time.Now().Add(time.Duration(*req.TTLSeconds) * time.Second)
			expiresAt = &t
		}

		created, err := sbStore.Create(ctx, Row{
			UserID:               userID,
			EnvironmentID:        envID,
			EnvironmentVersionID: versionID,
			Name:                 name,
			Status:               StatusPending,
			Phase:                PhaseCreating,
			Ports:                ports,
			Env:                  req.Env,
			ExpiresAt:            expiresAt,
		})
		if err != nil {
			return fmt.Errorf("creating sandbox: %w", err)
		}

		resp = created.ToResponse()
		isNew = true
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	if isNew {
		if s.audit != nil {
			s.audit.Log(audit.Entry{UserID: userID, Action: "sandbox.created", Resource: "sandbox", ResourceID: resp.ID})
		}
		s.spawnProvisioner(resp.ID)
	}
	return resp, nil
}

// spawnProvisioner starts the async provisioner for a sandbox id, unless
// one is already running for it.
func (s *Service) spawnProvisioner(sandboxID uuid.UUID) {
	s.mu.Lock()
	if s.provisioning[sandboxID] {
		s.mu.Unlock()
		return
	}
	s.provisioning[sandboxID] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.provisioning, sandboxID)
			s.mu.Unlock()
		}()
		s.provision(context.Background(), sandboxID)
	}()
}

// provision runs the async create_container pipeline for one sandbox.
func (s *Service) provision(ctx context.Context, sandboxID uuid.UUID) {
	row, err := NewStore(s.db.Pool).GetByID(ctx, sandboxID)
	if err != nil {
		s.logger.Error("provisioner: reloading sandbox", "sandbox_id", sandboxID, "error", err)
		return
	}

	secrets, err := s.env.DecryptSecrets(ctx, row.EnvironmentVersionID)
	if err != nil {
		s.logger.Error("provisioner: decrypting secrets", "sandbox_id", sandboxID, "error", err)
		s.failProvisioning(ctx, sandboxID)
		return
	}

	envResp, err := s.env.Get(ctx, row.UserID, row.EnvironmentID)
	if err != nil {
		s.logger.Error("provisioner: resolving environment", "sandbox_id", sandboxID, "error", err)
		s.failProvisioning(ctx, sandboxID)
		return
	}
	version := envResp.CurrentVersion
	if version == nil {
		s.logger.Error("provisioner: environment has no current version", "sandbox_id", sandboxID)
		s.failProvisioning(ctx, sandboxID)
		return
	}

	env := mergeEnv(version.Env, secrets, row.Env, sandboxID)

	var portBindings []runtime.PortBinding
	for _, p := range row.Ports {
		portBindings = append(portBindings, runtime.PortBinding{ContainerPort: p.Container, HostPort: p.Host})
	}

	image := ""
	if version.Image != nil {
		image = *version.Image
	}

	lastReported := -1
	progress := func(pct int, status string) {
		if pct-lastReported < 5 && pct != 100 {
			return
		}
		lastReported = pct
		_ = NewStore(s.db.Pool).ApplyTransition(ctx, sandboxID, UpdateTransition{
			Status:              StatusPending,
			Phase:               PhaseCreating,
			ProvisionProgress:   &pct,
			ProvisionStatusText: &status,
		})
	}

	if err := s.rt.EnsureImage(ctx, image, progress); err != nil {
		s.logger.Error("provisioner: ensuring image", "sandbox_id", sandboxID, "error", err)
		s.failProvisioning(ctx, sandboxID)
		return
	}

	ref, err := s.rt.CreateContainer(ctx, runtime.ContainerSpec{
		Name:     "sandbox-" + sandboxID.String(),
		Image:    image,
		Command:  version.Command,
		Env:      env,
		Ports:    portBindings,
		CPU:      version.CPU,
		MemoryMB: version.MemoryMB,
		Labels: map[string]string{
			runtime.LabelPlatform: "true",
			"sandbox-id":          sandboxID.String(),
			"user-id":             row.UserID.String(),
		},
	})
	if err != nil {
		s.logger.Error("provisioner: creating container", "sandbox_id", sandboxID, "error", err)
		s.failProvisioning(ctx, sandboxID)
		return
	}

	refStr := string(ref)
	if err := NewStore(s.db.Pool).ApplyTransition(ctx, sandboxID, UpdateTransition{
		Status:       StatusPending,
		Phase:        PhaseStarting,
		ContainerRef: &refStr,
	}); err != nil {
		s.logger.Error("provisioner: writing container ref", "sandbox_id", sandboxID, "error", err)
		return
	}

	if err := s.rt.Start(ctx, ref); err != nil {
		s.logger.Error("provisioner: starting container", "sandbox_id", sandboxID, "error", err)
		s.failProvisioning(ctx, sandboxID)
		return
	}

	healthy, err := s.rt.WaitRunning(ctx, ref, healthWaitDeadline)
	if err != nil || !healthy {
		s.logger.Error("provisioner: container did not become healthy", "sandbox_id", sandboxID, "error", err)
		s.failProvisioning(ctx, sandboxID)
		return
	}

	now := time.Now()
	if err := NewStore(s.db.Pool).ApplyTransition(ctx, sandboxID, UpdateTransition{
		Status:    StatusRunning,
		Phase:     PhaseHealthy,
		StartedAt: &now,
	}); err != nil {
		s.logger.Error("provisioner: marking running", "sandbox_id", sandboxID, "error", err)
		return
	}

	if s.audit != nil {
		s.audit.Log(audit.Entry{UserID: row.UserID, Action: "sandbox.running", Resource: "sandbox", ResourceID: sandboxID})
	}

	s.startCollector(sandboxID, ref)
}

func (s *Service) failProvisioning(ctx context.Context, sandboxID uuid.UUID) {
	if err := NewStore(s.db.Pool).ApplyTransition(ctx, sandboxID, UpdateTransition{
		Status: StatusError,
		Phase:  PhaseFailed,
	}); err != nil {
		s.logger.Error("provisioner: marking failed", "sandbox_id", sandboxID, "error", err)
	}
}

// mergeEnv computes version.env ⊕ decrypted_secrets ⊕ override.env ⊕
// {SANDBOX_ID: id}, right-biased (later sources win on key conflicts).
func mergeEnv(versionEnv, secrets, override map[string]string, sandboxID uuid.UUID) []string {
	merged := map[string]string{}
	for k, v := range versionEnv {
		merged[k] = v
	}
	for k, v := range secrets {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	merged["SANDBOX_ID"] = sandboxID.String()

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// Get loads a sandbox, reconciling it against runtime truth first.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (Response, error) {
	if err := s.Sync(ctx, userID, id); err != nil && !errors.Is(err, errSyncSkipped) {
		s.logger.Warn("sync before get failed", "sandbox_id", id, "error", err)
	}

	sbStore := NewStore(s.db.Pool)
	row, err := sbStore.Get(ctx, id, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, apperr.NotFound("sandbox not found")
		}
		return Response{}, fmt.Errorf("getting sandbox: %w", err)
	}

	resp := row.ToResponse()
	logs, err := sbStore.RecentLogs(ctx, id, LogReplayCount)
	if err == nil {
		resp.LogsPreview = logs
	}
	return resp, nil
}

// List returns a user's sandboxes, optionally filtered.
func (s *Service) List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Response, error) {
	rows, err := NewStore(s.db.Pool).List(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("listing sandboxes: %w", err)
	}
	out := make([]Response, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToResponse())
	}
	return out, nil
}

var errSyncSkipped = errors.New("sandbox: sync skipped, no container ref")

// Sync inspects the runtime and aligns the row with observed truth.
func (s *Service) Sync(ctx context.Context, userID, id uuid.UUID) error {
	sbStore := NewStore(s.db.Pool)
	row, err := sbStore.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	if row.ContainerRef == nil || row.Status == StatusStopped || row.Status == StatusExpired {
		return errSyncSkipped
	}

	result, err := s.rt.Inspect(ctx, runtime.Ref(*row.ContainerRef))
	if err != nil {
		return fmt.Errorf("inspecting container: %w", err)
	}

	switch {
	case result == nil:
		return sbStore.ApplyTransition(ctx, id, UpdateTransition{Status: StatusError, Phase: PhaseFailed})
	case result.Status == "running":
		if row.Status == StatusRunning {
			return nil
		}
		return sbStore.ApplyTransition(ctx, id, UpdateTransition{Status: StatusRunning, Phase: PhaseHealthy})
	case result.Status == "exited":
		if row.Status == StatusStopped {
			return nil
		}
		return sbStore.ApplyTransition(ctx, id, UpdateTransition{Status: StatusStopped, Phase: PhaseStopped})
	case result.Status == "dead":
		return sbStore.ApplyTransition(ctx, id, UpdateTransition{Status: StatusError, Phase: PhaseFailed})
	}
	return nil
}

// Start transitions a stopped sandbox back to running.
func (s *Service) Start(ctx context.Context, userID, id uuid.UUID) (Response, error) {
	row, err := s.loadForTransition(ctx, userID, id)
	if err != nil {
		return Response{}, err
	}
	if row.Status != StatusStopped {
		return row.ToResponse(), nil
	}
	if row.ContainerRef == nil {
		return Response{}, apperr.NoContainer("sandbox has no container")
	}

	ref := runtime.Ref(*row.ContainerRef)
	if err := s.rt.Start(ctx, ref); err != nil {
		return Response{}, apperr.SandboxError(fmt.Sprintf("starting container: %v", err))
	}

	now := time.Now()
	if err := NewStore(s.db.Pool).ApplyTransition(ctx, id, UpdateTransition{
		Status: StatusRunning, Phase: PhaseHealthy, StartedAt: &now, ClearStoppedAt: true,
	}); err != nil {
		return Response{}, fmt.Errorf("updating sandbox: %w", err)
	}

	s.startCollector(id, ref)
	if s.audit != nil {
		s.audit.Log(audit.Entry{UserID: userID, Action: "sandbox.started", Resource: "sandbox", ResourceID: id})
	}
	row.Status, row.Phase = StatusRunning, PhaseHealthy
	return row.ToResponse(), nil
}

// Stop transitions a running sandbox to stopped.
func (s *Service) Stop(ctx context.Context, userID, id uuid.UUID) (Response, error) {
	row, err := s.loadForTransition(ctx, userID, id)
	if err != nil {
		return Response{}, err
	}
	if row.Status != StatusRunning {
		return row.ToResponse(), nil
	}
	if row.ContainerRef == nil {
		return Response{}, apperr.NoContainer("sandbox has no container")
	}

	s.stopCollector(id)

	ref := runtime.Ref(*row.ContainerRef)
	if err := s.rt.Stop(ctx, ref, stopGracePeriod); err != nil {
		return Response{}, apperr.SandboxError(fmt.Sprintf("stopping container: %v", err))
	}

	now := time.Now()
	if err := NewStore(s.db.Pool).ApplyTransition(ctx, id, UpdateTransition{
		Status: StatusStopped, Phase: PhaseStopped, StoppedAt: &now,
	}); err != nil {
		return Response{}, fmt.Errorf("updating sandbox: %w", err)
	}

	if s.audit != nil {
		s.audit.Log(audit.Entry{UserID: userID, Action: "sandbox.stopped", Resource: "sandbox", ResourceID: id})
	}
	row.Status, row.Phase = StatusStopped, PhaseStopped
	return row.ToResponse(), nil
}

// Restart restarts a running sandbox's container in place.
func (s *Service) Restart(ctx context.Context, userID, id uuid.UUID) (Response, error) {
	row, err := s.loadForTransition(ctx, userID, id)
	if err != nil {
		return Response{}, err
	}
	if row.Status != StatusRunning {
		return Response{}, apperr.NotRunning("sandbox is not running")
	}
	if row.ContainerRef == nil {
		return Response{}, apperr.NoContainer("sandbox has no container")
	}

	ref := runtime.Ref(*row.ContainerRef)
	if err := s.rt.Restart(ctx, ref, stopGracePeriod); err != nil {
		return Response{}, apperr.SandboxError(fmt.Sprintf("restarting container: %v", err))
	}

	now := time.Now()
	if err := NewStore(s.db.Pool).ApplyTransition(ctx, id, UpdateTransition{
		Status: StatusRunning, Phase: PhaseHealthy, StartedAt: &now,
	}); err != nil {
		return Response{}, fmt.Errorf("updating sandbox: %w", err)
	}

	if s.audit != nil {
		s.audit.Log(audit.Entry{UserID: userID, Action: "sandbox.restarted", Resource: "sandbox", ResourceID: id})
	}
	row.StartedAt = &now
	return row.ToResponse(), nil
}

// Destroy removes the container (if any) and hard-deletes the row.
// Returns whether a row existed.
func (s *Service) Destroy(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	sbStore := NewStore(s.db.Pool)
	row, err := sbStore.Get(ctx, id, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("getting sandbox: %w", err)
	}

	s.stopCollector(id)

	if row.ContainerRef != nil {
		if err := s.rt.Remove(ctx, runtime.Ref(*row.ContainerRef), true); err != nil {
			s.logger.Warn("destroy: removing container", "sandbox_id", id, "error", err)
		}
	}

	existed, err := sbStore.Delete(ctx, id, userID)
	if err != nil {
		return false, fmt.Errorf("deleting sandbox: %w", err)
	}
	if existed && s.audit != nil {
		s.audit.Log(audit.Entry{UserID: userID, Action: "sandbox.destroyed", Resource: "sandbox", ResourceID: id})
	}
	return existed, nil
}

// DestroyAllForEnvironment destroys every sandbox a user has built from one
// environment, via the same Destroy path a direct API call would take
// (container removal, collector teardown, row delete). Used by the
// Environment Service before it deletes an environment, so no sandbox is
// ever silently orphaned outside the state machine.
func (s *Service) DestroyAllForEnvironment(ctx context.Context, userID, envID uuid.UUID) error {
	rows, err := NewStore(s.db.Pool).List(ctx, userID, ListFilter{EnvironmentID: &envID})
	if err != nil {
		return fmt.Errorf("listing sandboxes for environment: %w", err)
	}
	for _, row := range rows {
		if _, err := s.Destroy(ctx, userID, row.ID); err != nil {
			return fmt.Errorf("destroying sandbox %s: %w", row.ID, err)
		}
	}
	return nil
}

// Replicate creates a new sandbox from the same environment/version,
// probing for free host ports starting one above each original mapping.
func (s *Service) Replicate(ctx context.Context, userID, id uuid.UUID, req ReplicateRequest) (Response, error) {
	orig, err := NewStore(s.db.Pool).Get(ctx, id, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Response{}, apperr.NotFound("sandbox not found")
		}
		return Response{}, fmt.Errorf("getting sandbox: %w", err)
	}

	name := req.Name
	if name == "" {
		name = orig.Name + "-replica-" + randomHex(2)
	}

	ports := req.Ports
	if ports == nil {
		ports = make([]PortMapping, 0, len(orig.Ports))
		for _, p := range orig.Ports {
			freeHost, err := probeFreePort(p.Host + 1)
			if err != nil {
				return Response{}, apperr.Conflict(fmt.Sprintf("no free host port found above %d", p.Host))
			}
			ports = append(ports, PortMapping{Container: p.Container, Host: freeHost})
		}
	}

	versionID := orig.EnvironmentVersionID.String()
	return s.Create(ctx, userID, CreateRequest{
		EnvironmentID: orig.EnvironmentID.String(),
		VersionID:     &versionID,
		Name:          name,
		Ports:         ports,
	})
}

// probeFreePort finds the first available TCP port at or above start,
// trying up to replicatePortProbeAttempts candidates.
func probeFreePort(start int) (int, error) {
	for port := start; port < start+replicatePortProbeAttempts; port++ {
		if port > 65535 {
			break
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			_ = ln.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port found in range [%d, %d)", start, start+replicatePortProbeAttempts)
}

func (s *Service) loadForTransition(ctx context.Context, userID, id uuid.UUID) (Row, error) {
	row, err := NewStore(s.db.Pool).Get(ctx, id, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, apperr.NotFound("sandbox not found")
		}
		return Row{}, fmt.Errorf("getting sandbox: %w", err)
	}
	return row, nil
}

// Metrics returns a one-shot resource usage sample for a running sandbox.
func (s *Service) Metrics(ctx context.Context, userID, id uuid.UUID) (MetricsResponse, error) {
	row, err := s.loadForTransition(ctx, userID, id)
	if err != nil {
		return MetricsResponse{}, err
	}
	if row.ContainerRef == nil {
		return MetricsResponse{}, apperr.NoContainer("sandbox has no container")
	}

	m, err := s.rt.Stats(ctx, runtime.Ref(*row.ContainerRef))
	if err != nil || m == nil {
		return MetricsResponse{}, apperr.MetricsUnavailable("metrics unavailable for this sandbox")
	}
	return MetricsResponse{
		CPUPercent:      m.CPUPercent,
		MemUsageBytes:   m.MemUsageBytes,
		MemLimitBytes:   m.MemLimitBytes,
		MemPercent:      m.MemPercent,
		NetRxBytes:      m.NetRxBytes,
		NetTxBytes:      m.NetTxBytes,
		BlockReadBytes:  m.BlockReadBytes,
		BlockWriteBytes: m.BlockWriteBytes,
	}, nil
}

// Exec runs a batch command inside a running sandbox's container.
func (s *Service) Exec(ctx context.Context, userID, id uuid.UUID, req ExecRequest) (ExecResponse, error) {
	row, err := s.loadForTransition(ctx, userID, id)
	if err != nil {
		return ExecResponse{}, err
	}
	if row.Status != StatusRunning || row.ContainerRef == nil {
		return ExecResponse{}, apperr.NotRunning("sandbox is not running")
	}

	result, err := s.rt.ExecBatch(ctx, runtime.Ref(*row.ContainerRef), req.Command)
	if err != nil {
		return ExecResponse{}, apperr.SandboxError(fmt.Sprintf("exec failed: %v", err))
	}
	return ExecResponse{ExitCode: result.ExitCode, Output: result.Output}, nil
}

// Logs returns a bounded recent tail of stored log entries.
func (s *Service) Logs(ctx context.Context, userID, id uuid.UUID, tail int) ([]LogEntry, error) {
	if _, err := s.loadForTransition(ctx, userID, id); err != nil {
		return nil, err
	}
	return NewStore(s.db.Pool).TailLogs(ctx, id, tail)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// RecentLogsForHub returns the stored log replay for a fresh WebSocket log
// viewer. Unlike Logs, it does not require the loadForTransition ownership
// check twice per connection; the hub already resolved ownership via Get.
func (s *Service) RecentLogsForHub(ctx context.Context, id uuid.UUID, n int) ([]LogEntry, error) {
	return NewStore(s.db.Pool).RecentLogs(ctx, id, n)
}

// Runtime exposes the underlying runtime adapter so the WebSocket hub can
// stream logs and open PTY sessions directly against a container, without
// routing every frame through the service.
func (s *Service) Runtime() runtime.Adapter {
	return s.rt
}

// ContainerRef resolves a sandbox to its current runtime container
// reference. userID scopes ownership for foreground calls; a nil UUID
// skips the ownership check for the hub's background log tail, which
// runs unattended once a viewer has already been authorized by Get.
func (s *Service) ContainerRef(ctx context.Context, userID, id uuid.UUID) (runtime.Ref, bool, error) {
	var row Row
	var err error
	if userID == uuid.Nil {
		row, err = NewStore(s.db.Pool).GetByID(ctx, id)
	} else {
		row, err = NewStore(s.db.Pool).Get(ctx, id, userID)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolving container ref: %w", err)
	}
	if row.ContainerRef == nil {
		return "", false, nil
	}
	return runtime.Ref(*row.ContainerRef), true, nil
}
