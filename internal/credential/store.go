// Package credential persists the bearer token obtained by the device flow.
// It is the credential sink for login sessions and the credential source for
// usage refreshes.
package credential

import (
	"context"
	"sync"

	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
)

// Store defines the interface for credential storage
type Store interface {
	// Credential returns the stored credential, or an empty one when the
	// user has not signed in
	Credential(ctx context.Context) (oauth.Credential, error)

	// Save replaces the stored credential
	Save(ctx context.Context, cred oauth.Credential) error

	// Delete removes the stored credential
	Delete(ctx context.Context) error

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}

// MemoryStore keeps the credential for the lifetime of the process
type MemoryStore struct {
	mu   sync.RWMutex
	cred oauth.Credential
}

// NewMemoryStore creates an in-process store, optionally seeded
func NewMemoryStore(seed oauth.Credential) *MemoryStore {
	return &MemoryStore{cred: seed}
}

// Credential returns the stored credential
func (s *MemoryStore) Credential(ctx context.Context) (oauth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, nil
}

// Save replaces the stored credential
func (s *MemoryStore) Save(ctx context.Context, cred oauth.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	return nil
}

// Delete removes the stored credential
func (s *MemoryStore) Delete(ctx context.Context) error {
	return s.Save(ctx, "")
}

// CheckHealth always succeeds for the in-process store
func (s *MemoryStore) CheckHealth(ctx context.Context) error {
	return nil
}
