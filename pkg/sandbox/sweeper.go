package sandbox

import (
	"context"
	"time"

	"github.com/sandboxplatform/sandboxd/internal/audit"
	"github.com/sandboxplatform/sandboxd/internal/runtime"
)

const logRetentionDays = 7

// RunTTLSweeper runs the TTL enforcer loop until ctx is canceled: every
// ttlSweepInterval, sandboxes past expires_at are stopped, their container
// removed, and the row marked expired/stopped. Errors are logged and do not
// interrupt the loop; the next sweep re-attempts.
func (s *Service) RunTTLSweeper(ctx context.Context) {
	ticker := time.NewTicker(ttlSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	sbStore := NewStore(s.db.Pool)
	expired, err := sbStore.ListExpiredNonTerminal(ctx)
	if err != nil {
		s.logger.Error("ttl sweep: listing expired sandboxes", "error", err)
		return
	}

	for _, row := range expired {
		s.stopCollector(row.ID)

		if row.ContainerRef != nil {
			ref := runtime.Ref(*row.ContainerRef)
			if err := s.rt.Stop(ctx, ref, stopGracePeriod); err != nil {
				s.logger.Warn("ttl sweep: stopping container", "sandbox_id", row.ID, "error", err)
			}
			if err := s.rt.Remove(ctx, ref, true); err != nil {
				s.logger.Warn("ttl sweep: removing container", "sandbox_id", row.ID, "error", err)
			}
		}

		now := time.Now()
		if err := sbStore.ApplyTransition(ctx, row.ID, UpdateTransition{
			Status: StatusExpired, Phase: PhaseStopped, StoppedAt: &now,
		}); err != nil {
			s.logger.Error("ttl sweep: marking expired", "sandbox_id", row.ID, "error", err)
			continue
		}

		if s.audit != nil {
			s.audit.Log(audit.Entry{UserID: row.UserID, Action: "sandbox.expired", Resource: "sandbox", ResourceID: row.ID})
		}
	}
}

// RunLogRetentionCleaner runs the daily log-retention worker until ctx is
// canceled: deletes sandbox logs older than logRetentionDays.
func (s *Service) RunLogRetentionCleaner(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -logRetentionDays)
			if _, err := NewStore(s.db.Pool).DeleteLogsOlderThan(ctx, cutoff); err != nil {
				s.logger.Error("log retention: deleting old logs", "error", err)
			}
		}
	}
}
