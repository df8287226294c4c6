// Package quotatest provides test doubles for the quota package.
package quotatest

import (
	"context"
	"sync"

	"github.com/flemzord/storeguard/internal/quota"
)

// MockOracle is a configurable quota.UsageOracle and quota.Pinger.
type MockOracle struct {
	mu      sync.Mutex
	usage   quota.ExternalUsage
	err     error
	pingErr error
	windows []quota.Window

	// Block, if non-nil, is waited on (or ctx cancellation) before Usage returns.
	Block chan struct{}
	// OnUsage, if non-nil, runs at the start of every Usage call.
	OnUsage func()
}

// NewMockOracle returns an oracle that reports usage.
func NewMockOracle(usage quota.ExternalUsage) *MockOracle {
	return &MockOracle{usage: usage}
}

// SetUsage replaces the reported usage.
func (m *MockOracle) SetUsage(u quota.ExternalUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = u
}

// SetError makes Usage fail with err.
func (m *MockOracle) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPingError makes Ping fail with err.
func (m *MockOracle) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// Windows returns every window Usage was called with.
func (m *MockOracle) Windows() []quota.Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]quota.Window(nil), m.windows...)
}

// Usage implements quota.UsageOracle.
func (m *MockOracle) Usage(ctx context.Context, w quota.Window) (quota.ExternalUsage, error) {
	if m.OnUsage != nil {
		m.OnUsage()
	}
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return quota.ExternalUsage{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = append(m.windows, w)
	if m.err != nil {
		return quota.ExternalUsage{}, m.err
	}
	u := m.usage
	u.Window = w
	return u, nil
}

// Ping implements quota.Pinger.
func (m *MockOracle) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}
