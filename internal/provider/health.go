package provider

import (
	"sync"
	"time"
)

// HealthState is the availability of a chain entry as reported by Status.
type HealthState string

// HealthState values.
const (
	HealthHealthy  HealthState = "healthy"
	HealthCooldown HealthState = "cooldown" // transient failure, backing off
	HealthDead     HealthState = "dead"     // probed only, never routed to
)

// HealthConfig controls how the chain backs off a failing provider.
// Zero values take defaults.
type HealthConfig struct {
	// InitialBackoff is the cooldown after the first failure. Default: 1s.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the doubling backoff. Default: 60s.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// MaxFailures is the number of consecutive failures after which the
	// provider is dead until a health probe succeeds. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// CheckInterval is how often dead or expired providers are probed.
	// Default: 10s.
	CheckInterval time.Duration `yaml:"check_interval"`
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	return c
}

// healthTracker follows one provider through healthy → cooldown → dead.
type healthTracker struct {
	cfg HealthConfig

	// onChange is called outside the lock on every state transition.
	onChange func(from, to HealthState, failures int, backoff time.Duration)

	mu       sync.Mutex
	state    HealthState
	failures int
	backoff  time.Duration
	until    time.Time

	now func() time.Time
}

func newHealthTracker(cfg HealthConfig) *healthTracker {
	return &healthTracker{
		cfg:   cfg.withDefaults(),
		state: HealthHealthy,
		now:   time.Now,
	}
}

// available reports whether requests may be routed to the provider.
// A cooldown expires on its own; a dead provider needs a successful probe.
func (h *healthTracker) available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case HealthHealthy:
		return true
	case HealthCooldown:
		return !h.now().Before(h.until)
	default:
		return false
	}
}

// needsProbe reports whether a background health check should run.
func (h *healthTracker) needsProbe() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case HealthDead:
		return true
	case HealthCooldown:
		return !h.now().Before(h.until)
	default:
		return false
	}
}

func (h *healthTracker) recordSuccess() {
	h.mu.Lock()
	prev := h.state
	h.state = HealthHealthy
	h.failures = 0
	h.backoff = 0
	h.mu.Unlock()

	if prev != HealthHealthy && h.onChange != nil {
		h.onChange(prev, HealthHealthy, 0, 0)
	}
}

func (h *healthTracker) recordFailure() {
	h.mu.Lock()
	prev := h.state
	h.failures++
	if h.failures >= h.cfg.MaxFailures {
		h.state = HealthDead
	} else {
		h.state = HealthCooldown
		if h.backoff == 0 {
			h.backoff = h.cfg.InitialBackoff
		} else {
			h.backoff *= 2
		}
		h.backoff = min(h.backoff, h.cfg.MaxBackoff)
		h.until = h.now().Add(h.backoff)
	}
	next, failures, backoff := h.state, h.failures, h.backoff
	h.mu.Unlock()

	if prev != next && h.onChange != nil {
		h.onChange(prev, next, failures, backoff)
	}
}

func (h *healthTracker) snapshot() (HealthState, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.failures
}
