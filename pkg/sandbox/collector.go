package sandbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxplatform/sandboxd/internal/runtime"
)

// startCollector launches the per-sandbox log collector, replacing any
// collector already running for this id. It consumes stream_logs from
// "now", redacts each line, and persists it with retention enforcement.
func (s *Service) startCollector(sandboxID uuid.UUID, ref runtime.Ref) {
	s.stopCollector(sandboxID)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.collecting[sandboxID] = cancel
	s.mu.Unlock()

	go s.runCollector(ctx, sandboxID, ref)
}

// stopCollector cancels the collector for a sandbox, if one is running.
// Safe to call when none is running.
func (s *Service) stopCollector(sandboxID uuid.UUID) {
	s.mu.Lock()
	cancel, ok := s.collecting[sandboxID]
	if ok {
		delete(s.collecting, sandboxID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) runCollector(ctx context.Context, sandboxID uuid.UUID, ref runtime.Ref) {
	defer func() {
		s.mu.Lock()
		delete(s.collecting, sandboxID)
		s.mu.Unlock()
	}()

	events, err := s.rt.StreamLogs(ctx, ref, time.Now())
	if err != nil {
		s.logger.Warn("collector: starting log stream", "sandbox_id", sandboxID, "error", err)
		return
	}

	sbStore := NewStore(s.db.Pool)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			text := redactSecrets(event.Text)
			if err := sbStore.AppendLog(ctx, sandboxID, event.Stream, text, event.Timestamp); err != nil {
				s.logger.Warn("collector: persisting log line", "sandbox_id", sandboxID, "error", err)
			}
		}
	}
}
