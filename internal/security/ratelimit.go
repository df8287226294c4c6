package security

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidLimit is returned when a Limit has a non-positive size or window.
var ErrInvalidLimit = errors.New("invalid rate limit")

// Scope names the identifier dimension a limit applies to.
type Scope string

// Rate-limit scopes used by the chat and usage endpoints.
const (
	ScopeChatByIP             Scope = "chat-by-ip"
	ScopeChatByUserGuest      Scope = "chat-by-user-guest"
	ScopeChatByUserRegistered Scope = "chat-by-user-registered"
	ScopeUsageByIP            Scope = "usage-stats-by-ip"
	ScopeUsageByUser          Scope = "usage-stats-by-user"
	ScopeAdminAuth            Scope = "admin-auth"
)

// Key namespaces id under the scope so that the same identifier can be
// limited independently per scope.
func (s Scope) Key(id string) string {
	return string(s) + ":" + id
}

// Limit is an immutable fixed-window budget.
type Limit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// Validate reports whether the limit can be enforced.
func (l Limit) Validate() error {
	if l.MaxRequests <= 0 {
		return fmt.Errorf("%w: max_requests must be > 0, got %d", ErrInvalidLimit, l.MaxRequests)
	}
	if l.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidLimit, l.Window)
	}
	return nil
}

// DefaultLimits returns the storefront's per-scope budgets.
func DefaultLimits() map[Scope]Limit {
	return map[Scope]Limit{
		ScopeChatByIP:             {MaxRequests: 5, Window: time.Minute},
		ScopeChatByUserGuest:      {MaxRequests: 20, Window: 24 * time.Hour},
		ScopeChatByUserRegistered: {MaxRequests: 50, Window: 24 * time.Hour},
		ScopeUsageByIP:            {MaxRequests: 10, Window: time.Hour},
		ScopeUsageByUser:          {MaxRequests: 20, Window: 24 * time.Hour},
		ScopeAdminAuth:            {MaxRequests: 30, Window: time.Minute},
	}
}

// RateLimitResult is the outcome of a single Check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before the window
// resets, rounded up to whole seconds. Zero when the request was allowed.
func (r RateLimitResult) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

// RateLimiter implements fixed-window rate limiting keyed by arbitrary
// strings. Entries are created lazily and reset lazily when their window
// elapses; Prune removes long-expired entries.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates an empty rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Check counts one request against key under limit.
// An invalid limit is a programming error and panics; limits are
// validated when configuration is loaded.
func (rl *RateLimiter) Check(key string, limit Limit) RateLimitResult {
	if err := limit.Validate(); err != nil {
		panic(fmt.Sprintf("security: RateLimiter.Check(%q): %v", key, err))
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.entries[key]
	if !ok {
		e = &entry{resetAt: now.Add(limit.Window)}
		rl.entries[key] = e
	} else if !now.Before(e.resetAt) {
		e.count = 0
		e.resetAt = now.Add(limit.Window)
	}

	if e.count >= limit.MaxRequests {
		return RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			Limit:     limit.MaxRequests,
			ResetAt:   e.resetAt,
		}
	}

	e.count++
	return RateLimitResult{
		Allowed:   true,
		Remaining: limit.MaxRequests - e.count,
		Limit:     limit.MaxRequests,
		ResetAt:   e.resetAt,
	}
}

// Prune removes entries whose window ended more than grace ago and returns
// how many were removed. A pruned key behaves exactly like a reset one.
func (rl *RateLimiter) Prune(grace time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-grace)
	removed := 0
	for key, e := range rl.entries {
		if e.resetAt.Before(cutoff) {
			delete(rl.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}
