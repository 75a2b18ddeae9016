package runtime

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// DevAdapter is a process-tree-backed Adapter used for tests and local
// demos when no Docker daemon is available. Each "container" is a local
// shell process; image pulls are no-ops. It satisfies the same Adapter
// interface as DockerAdapter so the rest of the sandbox pipeline is
// runtime-agnostic.
type DevAdapter struct {
	mu    sync.Mutex
	procs map[Ref]*devProcess
	next  int
}

type devProcess struct {
	cmd     *exec.Cmd
	spec    ContainerSpec
	started bool
	exited  bool
	exitErr error
	logs    []LogEvent
	subs    []chan LogEvent
}

// NewDevAdapter creates an empty in-memory process registry.
func NewDevAdapter() *DevAdapter {
	return &DevAdapter{procs: map[Ref]*devProcess{}}
}

func (a *DevAdapter) EnsureImage(_ context.Context, _ string, progress ProgressFunc) error {
	if progress != nil {
		progress(100, "dev runtime: images are not pulled")
	}
	return nil
}

func (a *DevAdapter) CreateContainer(_ context.Context, spec ContainerSpec) (Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	ref := Ref(fmt.Sprintf("dev-%d", a.next))
	a.procs[ref] = &devProcess{spec: spec}
	return ref, nil
}

func (a *DevAdapter) Start(_ context.Context, ref Ref) error {
	a.mu.Lock()
	p, ok := a.procs[ref]
	a.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	argv := p.spec.Command
	if len(argv) == 0 {
		argv = []string{"/bin/sh", "-c", "sleep infinity"}
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = p.spec.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attaching stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting dev process: %w", err)
	}

	a.mu.Lock()
	p.cmd = cmd
	p.started = true
	a.mu.Unlock()

	go a.pump(ref, p, "stdout", stdout)
	go a.pump(ref, p, "stderr", stderr)
	go func() {
		err := cmd.Wait()
		a.mu.Lock()
		p.exited = true
		p.exitErr = err
		a.mu.Unlock()
	}()

	return nil
}

func (a *DevAdapter) pump(_ Ref, p *devProcess, stream string, r interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		ev := LogEvent{Stream: stream, Text: scanner.Text(), Timestamp: time.Now().UTC()}
		a.mu.Lock()
		p.logs = append(p.logs, ev)
		for _, ch := range p.subs {
			select {
			case ch <- ev:
			default:
			}
		}
		a.mu.Unlock()
	}
}

func (a *DevAdapter) Stop(_ context.Context, ref Ref, _ time.Duration) error {
	a.mu.Lock()
	p, ok := a.procs[ref]
	a.mu.Unlock()
	if !ok || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Kill()
	return nil
}

func (a *DevAdapter) Restart(ctx context.Context, ref Ref, grace time.Duration) error {
	if err := a.Stop(ctx, ref, grace); err != nil {
		return err
	}
	return a.Start(ctx, ref)
}

func (a *DevAdapter) Remove(ctx context.Context, ref Ref, _ bool) error {
	_ = a.Stop(ctx, ref, 0)
	a.mu.Lock()
	delete(a.procs, ref)
	a.mu.Unlock()
	return nil
}

func (a *DevAdapter) Inspect(_ context.Context, ref Ref) (*InspectResult, error) {
	a.mu.Lock()
	p, ok := a.procs[ref]
	a.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if !p.started {
		return &InspectResult{Status: "created", Running: false}, nil
	}
	if p.exited {
		code := 0
		if p.exitErr != nil {
			code = 1
		}
		return &InspectResult{Status: "exited", Running: false, ExitCode: code}, nil
	}
	return &InspectResult{Status: "running", Running: true}, nil
}

func (a *DevAdapter) WaitRunning(ctx context.Context, ref Ref, deadline time.Duration) (bool, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		info, err := a.Inspect(deadlineCtx, ref)
		if err != nil {
			return false, err
		}
		if info != nil && info.Running {
			return true, nil
		}
		if info != nil && info.Status == "exited" {
			return false, nil
		}
		select {
		case <-deadlineCtx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}

func (a *DevAdapter) Stats(_ context.Context, ref Ref) (*ContainerMetrics, error) {
	a.mu.Lock()
	_, ok := a.procs[ref]
	a.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	// The dev runtime has no cgroup accounting; report a zeroed sample
	// rather than fabricating plausible-looking numbers.
	return &ContainerMetrics{}, nil
}

func (a *DevAdapter) StreamLogs(ctx context.Context, ref Ref, _ time.Time) (<-chan LogEvent, error) {
	a.mu.Lock()
	p, ok := a.procs[ref]
	if !ok {
		a.mu.Unlock()
		return nil, ErrNotFound
	}
	ch := make(chan LogEvent, 256)
	p.subs = append(p.subs, ch)
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, sub := range p.subs {
			if sub == ch {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (a *DevAdapter) GetLogs(_ context.Context, ref Ref, tail int) ([]LogEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.procs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	if tail <= 0 || tail >= len(p.logs) {
		return append([]LogEvent(nil), p.logs...), nil
	}
	return append([]LogEvent(nil), p.logs[len(p.logs)-tail:]...), nil
}

func (a *DevAdapter) ExecBatch(_ context.Context, ref Ref, argv []string) (*ExecResult, error) {
	a.mu.Lock()
	_, ok := a.procs[ref]
	a.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("exec: command required")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("running exec: %w", err)
		}
	}
	return &ExecResult{ExitCode: exitCode, Output: string(out)}, nil
}

func (a *DevAdapter) ExecInteractive(_ context.Context, ref Ref, cols, rows int) (PTYSession, error) {
	a.mu.Lock()
	_, ok := a.procs[ref]
	a.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	cmd := exec.Command("/bin/sh")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("starting pty: %w", err)
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})

	return &devPTYSession{cmd: cmd, ptmx: ptmx}, nil
}

type devPTYSession struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func (s *devPTYSession) Read(p []byte) (int, error)  { return s.ptmx.Read(p) }
func (s *devPTYSession) Write(p []byte) (int, error) { return s.ptmx.Write(p) }

func (s *devPTYSession) Resize(cols, rows int) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (s *devPTYSession) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.ptmx.Close()
}

func (a *DevAdapter) ListOwned(_ context.Context) ([]Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	refs := make([]Ref, 0, len(a.procs))
	for ref := range a.procs {
		refs = append(refs, ref)
	}
	return refs, nil
}
