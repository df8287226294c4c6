package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/storeguard/internal/quota"
)

// Pruner drops entries older than maxAge and returns how many it removed.
// security.RateLimiter satisfies it, as does the HTTP gateway's activity
// tracker.
type Pruner interface {
	Prune(maxAge time.Duration) int
}

// Reconciler folds externally observed usage into the local quota.
// *quota.Tracker satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context) quota.Stats
}

// SweepJob periodically prunes an in-memory table so that one-off clients
// do not accumulate forever.
type SweepJob struct {
	// Label distinguishes sweeps in the job name ("sweep:<label>").
	Label        string
	Target       Pruner
	MaxAge       time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = "*/5 * * * *"
}

var _ Job = (*SweepJob)(nil)

// Name implements Job.
func (j *SweepJob) Name() string { return "sweep:" + j.Label }

// Schedule implements Job.
func (j *SweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run implements Job.
func (j *SweepJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cron: %s cancelled: %w", j.Name(), err)
	}
	if n := j.Target.Prune(j.MaxAge); n > 0 {
		j.Logger.Info("cron: pruned expired entries", "job", j.Name(), "count", n)
	}
	return nil
}

// UsageReconcileJob pulls usage from the oracle so the quota gate reflects
// traffic this process did not see.
type UsageReconcileJob struct {
	Tracker      Reconciler
	Logger       *slog.Logger
	ScheduleExpr string // empty = "*/10 * * * *"
}

var _ Job = (*UsageReconcileJob)(nil)

// Name implements Job.
func (j *UsageReconcileJob) Name() string { return "usage_reconcile" }

// Schedule implements Job.
func (j *UsageReconcileJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/10 * * * *"
}

// Run implements Job. Oracle failures are logged by the tracker and are
// not job errors.
func (j *UsageReconcileJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cron: usage reconcile cancelled: %w", err)
	}
	st := j.Tracker.Reconcile(ctx)
	j.Logger.Debug("cron: usage reconciled",
		"source", st.DataSource,
		"requests", st.RequestCount,
		"tokens", st.TokenCount)
	return nil
}
