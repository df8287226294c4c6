// Package cron runs the periodic housekeeping of the chat guard: sweeping
// expired rate-limit windows and idle activity histories, and reconciling
// the local provider quota with the usage oracle.
package cron

import "context"

// Job is a periodic background task.
type Job interface {
	// Name identifies the job in logs and must be unique per scheduler.
	Name() string

	// Schedule returns a 5-field cron expression (e.g. "*/5 * * * *").
	Schedule() string

	// Run executes one tick. Implementations should honor ctx.
	Run(ctx context.Context) error
}
