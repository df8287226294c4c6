package chat

import (
	"sync"
	"time"

	"github.com/flemzord/storeguard/internal/security"
)

// DefaultActivityDepth is how many arrivals are kept per user key.
const DefaultActivityDepth = 5

// ActivityTracker remembers the last few accepted message arrivals per
// sender so that the bot-behavior detector can be fed a history the client
// did not supply itself.
type ActivityTracker struct {
	depth int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string][]security.TimedMessage
}

// NewActivityTracker keeps up to depth arrivals per key. A depth <= 0
// means DefaultActivityDepth.
func NewActivityTracker(depth int) *ActivityTracker {
	if depth <= 0 {
		depth = DefaultActivityDepth
	}
	return &ActivityTracker{
		depth:   depth,
		now:     time.Now,
		entries: make(map[string][]security.TimedMessage),
	}
}

// ActivityKey keys the arrival history of a sender. The client address is
// always part of the key so a rotating user ID cannot reset the history.
func ActivityKey(clientKey, userKey string) string {
	if userKey == "" {
		return "ip:" + clientKey
	}
	return "ip:" + clientKey + "|user:" + userKey
}

// Arrival stamps text with the tracker's clock.
func (a *ActivityTracker) Arrival(text string) security.TimedMessage {
	return security.TimedMessage{SentAt: a.now(), Text: text}
}

// Append adds m to key's history, dropping the oldest arrivals past depth.
func (a *ActivityTracker) Append(key string, m security.TimedMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := append(a.entries[key], m)
	if len(h) > a.depth {
		h = append(h[:0:0], h[len(h)-a.depth:]...)
	}
	a.entries[key] = h
}

// History returns a copy of key's history, oldest first.
func (a *ActivityTracker) History(key string) []security.TimedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]security.TimedMessage(nil), a.entries[key]...)
}

// Prune forgets keys whose newest arrival is older than maxIdle and
// returns how many were dropped.
func (a *ActivityTracker) Prune(maxIdle time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-maxIdle)
	removed := 0
	for key, h := range a.entries {
		if len(h) == 0 || h[len(h)-1].SentAt.Before(cutoff) {
			delete(a.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (a *ActivityTracker) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
