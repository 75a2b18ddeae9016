// Package runtime abstracts the container engine used to back sandboxes:
// pull, create, start, stop, remove, inspect, stats, log streaming, and
// batch/interactive exec. The Docker-backed Adapter is the production
// implementation; DevAdapter is a process-tree fallback used in tests and
// local demos without a Docker daemon.
package runtime

import (
	"context"
	"errors"
	"time"
)

// Ref identifies a container instance in the underlying runtime.
type Ref string

// Categorized failure kinds. Callers translate these into sandbox lifecycle
// transitions rather than branching on runtime-specific error types.
var (
	ErrNotFound    = errors.New("runtime: not found")
	ErrConflict    = errors.New("runtime: conflict")
	ErrUnavailable = errors.New("runtime: unavailable")
)

// PortBinding maps a container port to a host port.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string // "tcp" if empty
}

// ContainerSpec describes a container to be created.
type ContainerSpec struct {
	Name     string
	Image    string
	Command  []string
	Env      []string
	Ports    []PortBinding
	CPU      float64 // cores, e.g. 1.5
	MemoryMB int
	Labels   map[string]string
}

// ProgressFunc reports image-pull progress: pct in [0,100], status a short
// human-readable description ("downloading", "extracting", ...).
type ProgressFunc func(pct int, status string)

// InspectResult is the point-in-time state of a container.
type InspectResult struct {
	Status   string // "running", "exited", "dead", "created", ...
	Running  bool
	ExitCode int
}

// ContainerMetrics is a one-shot resource usage sample.
type ContainerMetrics struct {
	CPUPercent      float64
	MemUsageBytes   uint64
	MemLimitBytes   uint64
	MemPercent      float64
	NetRxBytes      uint64
	NetTxBytes      uint64
	BlockReadBytes  uint64
	BlockWriteBytes uint64
}

// LogEvent is a single demultiplexed log line.
type LogEvent struct {
	Stream    string // "stdout" | "stderr"
	Text      string
	Timestamp time.Time
}

// ExecResult is the outcome of a blocking batch exec.
type ExecResult struct {
	ExitCode int
	Output   string
}

// PTYSession is a bidirectional, resizable interactive exec session.
type PTYSession interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Close() error
}

// Adapter is the C1 Runtime Adapter contract. All methods accept a context
// and MUST treat it as a cancellation/suspension point.
type Adapter interface {
	EnsureImage(ctx context.Context, image string, progress ProgressFunc) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (Ref, error)
	Start(ctx context.Context, ref Ref) error
	Stop(ctx context.Context, ref Ref, grace time.Duration) error
	Restart(ctx context.Context, ref Ref, grace time.Duration) error
	Remove(ctx context.Context, ref Ref, force bool) error
	Inspect(ctx context.Context, ref Ref) (*InspectResult, error)
	WaitRunning(ctx context.Context, ref Ref, deadline time.Duration) (bool, error)
	Stats(ctx context.Context, ref Ref) (*ContainerMetrics, error)
	StreamLogs(ctx context.Context, ref Ref, since time.Time) (<-chan LogEvent, error)
	GetLogs(ctx context.Context, ref Ref, tail int) ([]LogEvent, error)
	ExecBatch(ctx context.Context, ref Ref, argv []string) (*ExecResult, error)
	ExecInteractive(ctx context.Context, ref Ref, cols, rows int) (PTYSession, error)
	ListOwned(ctx context.Context) ([]Ref, error)
}

// LabelPlatform marks every container this control plane owns, so shutdown
// and sweeps can enumerate them without tracking refs in memory.
const LabelPlatform = "sandbox-platform"

// CPUQuotaPeriod is the CFS scheduler period (microseconds) CPU quota is
// computed against: quota = floor(cpu * CPUQuotaPeriod).
const CPUQuotaPeriod = 100_000

// BytesPerMB converts a memory_mb spec field into bytes.
const BytesPerMB = 1_048_576
