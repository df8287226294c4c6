// Package securitytest provides test helpers for packages that depend on
// the security package.
package securitytest

import (
	"sync"

	"github.com/flemzord/storeguard/internal/security"
)

// NewTestRedactor creates a Redactor with no patterns, so test strings
// that happen to look like keys are left intact.
func NewTestRedactor() *security.Redactor {
	return &security.Redactor{}
}

// NewTestCredentialStore creates a CredentialStore pre-populated with the
// given key-value pairs. Panics if an odd number of args is provided.
func NewTestCredentialStore(kvs ...string) *security.CredentialStore {
	if len(kvs)%2 != 0 {
		panic("securitytest: NewTestCredentialStore requires key, value pairs")
	}
	store := security.NewCredentialStore()
	for i := 0; i < len(kvs); i += 2 {
		store.Set(kvs[i], kvs[i+1])
	}
	return store
}

// NewTestEventLog creates a small SecurityEventLog and a function returning
// every event recorded so far, in order.
func NewTestEventLog() (*security.SecurityEventLog, func() []security.SecurityEvent) {
	var (
		mu     sync.Mutex
		events []security.SecurityEvent
	)
	log := security.NewSecurityEventLog(security.EventLogConfig{
		Capacity: 256,
		OnEvent: func(e security.SecurityEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
	})
	return log, func() []security.SecurityEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]security.SecurityEvent(nil), events...)
	}
}
