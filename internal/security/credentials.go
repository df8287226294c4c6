// Package security implements the request-screening primitives of
// storeguard: fixed-window rate limiting, content validation, bot-behavior
// detection, the in-memory security event log, and secret redaction for
// logs and admin output.
package security

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrCredentialMissing is returned by Require for unset or empty credentials.
var ErrCredentialMissing = errors.New("credential not configured")

// Service names under which the process-wide security objects are
// registered in the core service registry.
const (
	CredentialServiceName = "security.credentials"
	EventLogServiceName   = "security.events"
	RedactorServiceName   = "security.redactor"
)

// CredentialStore holds the secrets modules read from configuration
// (provider API keys, the admin token, metrics-source auth). Once bound
// to a Redactor, every stored value is redacted from logs.
type CredentialStore struct {
	mu       sync.RWMutex
	creds    map[string]string
	redactor *Redactor
}

// NewCredentialStore creates an empty credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]string)}
}

// Bind registers all current and future values with r.
func (s *CredentialStore) Bind(r *Redactor) {
	s.mu.Lock()
	s.redactor = r
	s.mu.Unlock()
	r.SyncCredentials(s)
}

// Set stores a credential, replacing any previous value under name.
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	s.creds[name] = value
	r := s.redactor
	s.mu.Unlock()

	if r != nil {
		r.AddLiteral(value)
	}
}

// Get returns the credential value and whether it exists.
func (s *CredentialStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.creds[name]
	return v, ok
}

// Require returns the credential or ErrCredentialMissing when it is unset
// or empty.
func (s *CredentialStore) Require(name string) (string, error) {
	v, ok := s.Get(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrCredentialMissing, name)
	}
	return v, nil
}

// Names returns the sorted credential names.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Values returns all non-empty credential values in no particular order.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]string, 0, len(s.creds))
	for _, v := range s.creds {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Len returns the number of stored credentials.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}
