package hub

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxplatform/sandboxd/internal/runtime"
	"github.com/sandboxplatform/sandboxd/pkg/sandbox"
)

// fakeAdapter implements runtime.Adapter with only StreamLogs doing
// anything; every other method is unused by these tests.
type fakeAdapter struct {
	events chan runtime.LogEvent
}

func (f *fakeAdapter) EnsureImage(ctx context.Context, image string, progress runtime.ProgressFunc) error {
	return nil
}
func (f *fakeAdapter) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (runtime.Ref, error) {
	return "", nil
}
func (f *fakeAdapter) Start(ctx context.Context, ref runtime.Ref) error                     { return nil }
func (f *fakeAdapter) Stop(ctx context.Context, ref runtime.Ref, grace time.Duration) error { return nil }
func (f *fakeAdapter) Restart(ctx context.Context, ref runtime.Ref, grace time.Duration) error {
	return nil
}
func (f *fakeAdapter) Remove(ctx context.Context, ref runtime.Ref, force bool) error { return nil }
func (f *fakeAdapter) Inspect(ctx context.Context, ref runtime.Ref) (*runtime.InspectResult, error) {
	return nil, nil
}
func (f *fakeAdapter) WaitRunning(ctx context.Context, ref runtime.Ref, deadline time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) Stats(ctx context.Context, ref runtime.Ref) (*runtime.ContainerMetrics, error) {
	return nil, nil
}
func (f *fakeAdapter) StreamLogs(ctx context.Context, ref runtime.Ref, since time.Time) (<-chan runtime.LogEvent, error) {
	return f.events, nil
}
func (f *fakeAdapter) GetLogs(ctx context.Context, ref runtime.Ref, tail int) ([]runtime.LogEvent, error) {
	return nil, nil
}
func (f *fakeAdapter) ExecBatch(ctx context.Context, ref runtime.Ref, argv []string) (*runtime.ExecResult, error) {
	return nil, nil
}
func (f *fakeAdapter) ExecInteractive(ctx context.Context, ref runtime.Ref, cols, rows int) (runtime.PTYSession, error) {
	return nil, nil
}
func (f *fakeAdapter) ListOwned(ctx context.Context) ([]runtime.Ref, error) { return nil, nil }

// fakeAccessor implements sandboxAccessor with a fixed container ref and a
// fake runtime adapter.
type fakeAccessor struct {
	rt  *fakeAdapter
	ref runtime.Ref
}

func (f *fakeAccessor) Get(ctx context.Context, userID, id uuid.UUID) (sandbox.Response, error) {
	return sandbox.Response{}, nil
}
func (f *fakeAccessor) RecentLogsForHub(ctx context.Context, id uuid.UUID, n int) ([]sandbox.LogEntry, error) {
	return nil, nil
}
func (f *fakeAccessor) Runtime() runtime.Adapter { return f.rt }
func (f *fakeAccessor) ContainerRef(ctx context.Context, userID, id uuid.UUID) (runtime.Ref, bool, error) {
	return f.ref, true, nil
}

// TestEnsureTailingRedactsSecrets confirms the hub's live log tail redacts
// secret-shaped text before publishing to viewers, matching the redaction
// already applied to persisted log storage.
func TestEnsureTailingRedactsSecrets(t *testing.T) {
	events := make(chan runtime.LogEvent, 1)
	adapter := &fakeAdapter{events: events}
	h := &Hub{
		sandboxes: &fakeAccessor{rt: adapter, ref: "container-1"},
		brokers:   make(map[uuid.UUID]*logBroker),
	}

	sandboxID := uuid.New()
	broker := newLogBroker()
	viewer := make(chan logData, 4)
	broker.subscribe(viewer)

	h.ensureTailing(context.Background(), sandboxID, broker)

	events <- runtime.LogEvent{Stream: "stdout", Text: "API_KEY=sk_live_abcdef1234567890", Timestamp: time.Now()}
	close(events)

	select {
	case got := <-viewer:
		if got.Text != "API_KEY=[REDACTED]" {
			t.Errorf("published log text = %q, want redacted secret", got.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published log event")
	}
}
