// Package provider defines the Provider interface for upstream chat
// completion backends, health tracking with exponential backoff, and a
// failover chain.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ChainEntry configures a single provider in the chain. Entries are tried
// in order.
type ChainEntry struct {
	Name     string
	Provider Provider
	Health   HealthConfig
}

type chainEntry struct {
	ChainEntry
	health *healthTracker
}

// Observer receives the outcome of every upstream attempt.
type Observer func(name string, elapsed time.Duration, err error)

// ChainOption configures optional Chain behavior.
type ChainOption func(*Chain)

// WithLogger injects a structured logger into the Chain.
// When nil or omitted, log output is discarded.
func WithLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// WithObserver registers a callback invoked after every provider attempt.
func WithObserver(o Observer) ChainOption {
	return func(c *Chain) { c.observe = o }
}

// EntryStatus is a point-in-time view of one chain entry.
type EntryStatus struct {
	Name     string      `json:"name"`
	Model    string      `json:"model"`
	State    HealthState `json:"state"`
	Failures int         `json:"failures"`
}

// Chain tries providers in order, skipping those in cooldown, and fails
// over on retryable errors.
type Chain struct {
	entries []*chainEntry
	logger  *slog.Logger
	observe Observer

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewChain creates a chain from the given entries.
func NewChain(entries []ChainEntry, opts ...ChainOption) (*Chain, error) {
	if len(entries) == 0 {
		return nil, ErrNoProvider
	}

	c := &Chain{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	for _, e := range entries {
		if e.Provider == nil {
			return nil, fmt.Errorf("%w: entry %q has nil provider", ErrNoProvider, e.Name)
		}
		ce := &chainEntry{ChainEntry: e, health: newHealthTracker(e.Health)}
		ce.health.onChange = c.logTransition(e.Name)
		c.entries = append(c.entries, ce)
	}
	return c, nil
}

func (c *Chain) logTransition(name string) func(from, to HealthState, failures int, backoff time.Duration) {
	return func(from, to HealthState, failures int, backoff time.Duration) {
		switch to {
		case HealthCooldown:
			c.logger.Warn("provider entered cooldown", "provider", name, "backoff", backoff, "failures", failures)
		case HealthDead:
			c.logger.Error("provider marked dead", "provider", name, "failures", failures)
		case HealthHealthy:
			c.logger.Info("provider revived", "provider", name, "previous_state", string(from))
		}
	}
}

// Start launches the background health probe loop. Calling Start twice is
// a no-op.
func (c *Chain) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	go c.probeLoop(ctx, c.probeInterval())
}

// Stop cancels background health checks.
func (c *Chain) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Complete sends req to the first available provider, failing over to the
// next one on retryable errors. Non-retryable errors are returned as is.
// The returned Usage always sums what every attempt reported, so tokens a
// provider billed for a failed call are still accounted for.
func (c *Chain) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var lastErr error
	var spent TokenUsage
	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			return CompletionResponse{Usage: spent}, err
		}
		if !e.health.available() {
			continue
		}

		start := time.Now()
		resp, err := e.Provider.Complete(ctx, req)
		if c.observe != nil {
			c.observe(e.Name, time.Since(start), err)
		}
		spent = spent.Add(resp.Usage)
		if err == nil {
			e.health.recordSuccess()
			resp.Provider = e.Name
			resp.Usage = spent
			return resp, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return CompletionResponse{Usage: spent}, fmt.Errorf("%s: %w", e.Name, err)
		}
		e.health.recordFailure()
		c.logger.Warn("provider failed, failing over", "provider", e.Name, "error", err)
	}

	if lastErr != nil {
		return CompletionResponse{Usage: spent}, fmt.Errorf("%w: last error: %w", ErrAllProviders, lastErr)
	}
	return CompletionResponse{}, fmt.Errorf("%w: all candidates unavailable", ErrAllProviders)
}

// Status reports the health of every entry in chain order.
func (c *Chain) Status() []EntryStatus {
	out := make([]EntryStatus, len(c.entries))
	for i, e := range c.entries {
		state, failures := e.health.snapshot()
		out[i] = EntryStatus{
			Name:     e.Name,
			Model:    e.Provider.ModelName(),
			State:    state,
			Failures: failures,
		}
	}
	return out
}

// Len returns the number of configured entries.
func (c *Chain) Len() int { return len(c.entries) }

func (c *Chain) probeInterval() time.Duration {
	interval := c.entries[0].health.cfg.CheckInterval
	for _, e := range c.entries[1:] {
		interval = min(interval, e.health.cfg.CheckInterval)
	}
	return interval
}

func (c *Chain) probeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

// probe health-checks every entry that is dead or whose cooldown expired.
func (c *Chain) probe(ctx context.Context) {
	for _, e := range c.entries {
		if !e.health.needsProbe() {
			continue
		}
		checker, ok := e.Provider.(HealthChecker)
		if !ok {
			continue
		}
		if err := checker.HealthCheck(ctx); err == nil {
			e.health.recordSuccess()
		} else {
			c.logger.Debug("health probe failed", "provider", e.Name, "error", err)
		}
	}
}
