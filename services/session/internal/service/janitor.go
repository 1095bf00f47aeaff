package service

import (
	"context"
	"time"

	"github.com/dkoroteev/socialnet/pkg/logging"
	"github.com/dkoroteev/socialnet/services/session/internal/metrics"
	"github.com/dkoroteev/socialnet/services/session/internal/models"
	"github.com/dkoroteev/socialnet/services/session/internal/repo"
)

// SweepReport is what one full janitor pass did.
type SweepReport struct {
	Demoted int `json:"demoted"`
	Revoked int `json:"revoked"`
	Deleted int `json:"deleted"`
}

// Janitor ages out dead sessions in three independent sweeps:
//
//  1. ACTIVE idle past IdleAfter       → INACTIVE
//  2. INACTIVE older than RetainAfter  → REVOKED
//  3. REVOKED older than PurgeAfter    → deleted
//
// Each row transitions through a conditional update, so a row that raced
// into another state is skipped, and a row that fails is picked up again on
// the next pass. Constructed with injected store, thresholds and clock so
// sweeps are testable without timers.
type Janitor struct {
	Sessions *repo.SessionRepo

	IdleAfter   time.Duration
	RetainAfter time.Duration
	PurgeAfter  time.Duration
	Interval    time.Duration

	Metrics *metrics.Registry

	// Now is the clock, injectable for tests. Nil means time.Now.
	Now func() time.Time
}

func (j *Janitor) now() time.Time {
	if j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}

// Run sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	l := logging.FromContext(ctx).With("svc", "session.janitor")
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	l.Info("janitor_started", "interval", j.Interval.String())
	for {
		select {
		case <-ctx.Done():
			l.Info("janitor_stopped")
			return
		case <-ticker.C:
			j.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs all three sweeps and reports the counts. It never fails:
// per-row errors are logged and counted, the batch always completes.
func (j *Janitor) SweepOnce(ctx context.Context) SweepReport {
	l := logging.FromContext(ctx).With("svc", "session.janitor")
	now := j.now()

	report := SweepReport{
		Demoted: j.demoteIdle(ctx, now),
		Revoked: j.revokeInactive(ctx, now),
		Deleted: j.purgeRevoked(ctx, now),
	}
	l.Info("sweep_complete", "demoted", report.Demoted, "revoked", report.Revoked, "deleted", report.Deleted)
	return report
}

func (j *Janitor) demoteIdle(ctx context.Context, now time.Time) int {
	l := logging.FromContext(ctx).With("sweep", "demote_idle")

	rows, err := j.Sessions.ListIdleActive(ctx, now.Add(-j.IdleAfter))
	if err != nil {
		l.Error("list_failed", "error", err)
		j.countFailure("demote_idle")
		return 0
	}

	count := 0
	for _, s := range rows {
		// A long-idle active session is an implicit logout; the demotion
		// instant becomes its last activity.
		ok, err := j.Sessions.UpdateIfStatus(ctx, s.ID, models.StatusActive, map[string]any{
			"status":            models.StatusInactive,
			"status_changed_at": now,
			"last_activity_at":  now,
		})
		if err != nil {
			l.Error("demote_failed", "session_id", s.ID, "error", err)
			j.countFailure("demote_idle")
			continue
		}
		if ok {
			count++
		}
	}
	j.countTransitions("demote_idle", count)
	return count
}

func (j *Janitor) revokeInactive(ctx context.Context, now time.Time) int {
	l := logging.FromContext(ctx).With("sweep", "revoke_inactive")

	rows, err := j.Sessions.ListInactiveBefore(ctx, now.Add(-j.RetainAfter))
	if err != nil {
		l.Error("list_failed", "error", err)
		j.countFailure("revoke_inactive")
		return 0
	}

	count := 0
	for _, s := range rows {
		ok, err := j.Sessions.UpdateIfStatus(ctx, s.ID, models.StatusInactive, map[string]any{
			"status":            models.StatusRevoked,
			"status_changed_at": now,
		})
		if err != nil {
			l.Error("revoke_failed", "session_id", s.ID, "error", err)
			j.countFailure("revoke_inactive")
			continue
		}
		if ok {
			count++
		}
	}
	j.countTransitions("revoke_inactive", count)
	return count
}

func (j *Janitor) purgeRevoked(ctx context.Context, now time.Time) int {
	l := logging.FromContext(ctx).With("sweep", "purge_revoked")

	rows, err := j.Sessions.ListRevokedBefore(ctx, now.Add(-j.PurgeAfter))
	if err != nil {
		l.Error("list_failed", "error", err)
		j.countFailure("purge_revoked")
		return 0
	}

	count := 0
	for _, s := range rows {
		ok, err := j.Sessions.DeleteIfRevoked(ctx, s.ID)
		if err != nil {
			l.Error("delete_failed", "session_id", s.ID, "error", err)
			j.countFailure("purge_revoked")
			continue
		}
		if ok {
			count++
		}
	}
	j.countTransitions("purge_revoked", count)
	return count
}

func (j *Janitor) countTransitions(sweep string, n int) {
	if j.Metrics != nil && n > 0 {
		j.Metrics.SweepTransitionsTotal.WithLabelValues(sweep).Add(float64(n))
	}
}

func (j *Janitor) countFailure(sweep string) {
	if j.Metrics != nil {
		j.Metrics.SweepFailuresTotal.WithLabelValues(sweep).Inc()
	}
}
