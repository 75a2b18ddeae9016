// Package sandbox implements the Sandbox Service (C5): the lifecycle state
// machine, async provisioner, log collector, TTL sweeper, and status
// reconciliation for sandbox container instances.
package sandbox

import (
	"time"

	"github.com/google/uuid"
)

// Status is the coarse, user-visible lifecycle state of a sandbox.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
	StatusExpired Status = "expired"
)

// Phase is the finer provisioning sub-state within a Status.
type Phase string

const (
	PhaseCreating Phase = "creating"
	PhaseStarting Phase = "starting"
	PhaseHealthy  Phase = "healthy"
	PhaseStopping Phase = "stopping"
	PhaseStopped  Phase = "stopped"
	PhaseFailed   Phase = "failed"
)

const (
	maxNonTerminalSandboxesPerUser = 10
	healthWaitDeadline             = 30 * time.Second
	stopGracePeriod                = 10 * time.Second
	logRetentionPerSandbox         = 10_000
	ttlSweepInterval               = 60 * time.Second
	replicatePortProbeAttempts     = 100
)

// LogReplayCount is how many recent log entries a fresh WebSocket log
// connection replays before switching to the live tail.
const LogReplayCount = 100

// PortMapping is a container-to-host port binding on a sandbox.
type PortMapping struct {
	Container int `json:"container"`
	Host      int `json:"host"`
}

// CreateRequest is the JSON body for POST /sandboxes.
type CreateRequest struct {
	EnvironmentID string            `json:"environmentId" validate:"required,uuid"`
	VersionID     *string           `json:"versionId" validate:"omitempty,uuid"`
	Name          string            `json:"name" validate:"omitempty,max=100"`
	Ports         []PortMapping     `json:"ports" validate:"omitempty,max=10,dive"`
	Env           map[string]string `json:"env"`
	TTLSeconds    *int              `json:"ttlSeconds" validate:"omitempty,gte=60,lte=604800"`
}

// ReplicateRequest is the JSON body for POST /sandboxes/{id}/replicate.
type ReplicateRequest struct {
	Name  string        `json:"name" validate:"omitempty,max=100"`
	Ports []PortMapping `json:"ports" validate:"omitempty,max=10,dive"`
}

// ExecRequest is the JSON body for POST /sandboxes/{id}/exec.
type ExecRequest struct {
	Command []string `json:"command" validate:"required,min=1"`
}

// Response is the JSON shape of a sandbox.
type Response struct {
	ID                   uuid.UUID     `json:"id"`
	EnvironmentID        uuid.UUID     `json:"environmentId"`
	EnvironmentVersionID uuid.UUID     `json:"environmentVersionId"`
	Name                 string        `json:"name"`
	Status               Status        `json:"status"`
	Phase                Phase         `json:"phase"`
	Ports                []PortMapping `json:"ports"`
	ProvisionProgress    int           `json:"provisionProgress"`
	ProvisionStatusText  string        `json:"provisionStatusText"`
	CreatedAt            time.Time     `json:"createdAt"`
	StartedAt            *time.Time    `json:"startedAt,omitempty"`
	StoppedAt            *time.Time    `json:"stoppedAt,omitempty"`
	ExpiresAt            *time.Time    `json:"expiresAt,omitempty"`
	LogsPreview          []LogEntry    `json:"logsPreview,omitempty"`
}

// LogEntry is the JSON shape of a stored sandbox log line.
type LogEntry struct {
	Stream    string    `json:"stream"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricsResponse is the JSON shape of a one-shot stats sample.
type MetricsResponse struct {
	CPUPercent      float64 `json:"cpuPercent"`
	MemUsageBytes   uint64  `json:"memUsageBytes"`
	MemLimitBytes   uint64  `json:"memLimitBytes"`
	MemPercent      float64 `json:"memPercent"`
	NetRxBytes      uint64  `json:"netRxBytes"`
	NetTxBytes      uint64  `json:"netTxBytes"`
	BlockReadBytes  uint64  `json:"blockReadBytes"`
	BlockWriteBytes uint64  `json:"blockWriteBytes"`
}

// ExecResponse is the JSON shape of a batch exec result.
type ExecResponse struct {
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
}

// legalTransitions enumerates every (from, to) status/phase pair allowed by
// the state machine. Any transition outside this table is a bug.
var legalTransitions = map[string]bool{
	"pending/creating->pending/starting": true,
	"pending/creating->error/failed":     true,
	"pending/starting->running/healthy":  true,
	"pending/starting->error/failed":     true,
	"running/healthy->stopped/stopped":   true,
	"running/healthy->expired/stopped":   true,
	"running/healthy->error/failed":      true,
	"stopped/stopped->running/healthy":   true,
}

func transitionKey(fromStatus Status, fromPhase Phase, toStatus Status, toPhase Phase) string {
	return string(fromStatus) + "/" + string(fromPhase) + "->" + string(toStatus) + "/" + string(toPhase)
}

// isLegalTransition reports whether moving from (fromStatus, fromPhase) to
// (toStatus, toPhase) is permitted by the state machine in §4.5.
func isLegalTransition(fromStatus Status, fromPhase Phase, toStatus Status, toPhase Phase) bool {
	return legalTransitions[transitionKey(fromStatus, fromPhase, toStatus, toPhase)]
}
