package store

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in a process-local map. Tokens do not
// survive a restart; useful for tests and short-lived runs.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (s *MemoryStore) Load(_ context.Context, userID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cred, nil
}

func (s *MemoryStore) Save(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[cred.UserID] = *cred
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, userID)
	return nil
}
