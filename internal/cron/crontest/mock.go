// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/storeguard/internal/cron"
	"github.com/flemzord/storeguard/internal/quota"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu    sync.Mutex
	calls int
}

var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockPruner is a test double for cron.Pruner.
type MockPruner struct {
	PruneFunc  func(maxAge time.Duration) int
	PruneCalls atomic.Int32
}

var _ cron.Pruner = (*MockPruner)(nil)

// Prune implements cron.Pruner.
func (m *MockPruner) Prune(maxAge time.Duration) int {
	m.PruneCalls.Add(1)
	if m.PruneFunc != nil {
		return m.PruneFunc(maxAge)
	}
	return 0
}

// MockReconciler is a test double for cron.Reconciler.
type MockReconciler struct {
	Stats quota.Stats
	Calls atomic.Int32
}

var _ cron.Reconciler = (*MockReconciler)(nil)

// Reconcile implements cron.Reconciler.
func (m *MockReconciler) Reconcile(context.Context) quota.Stats {
	m.Calls.Add(1)
	return m.Stats
}
