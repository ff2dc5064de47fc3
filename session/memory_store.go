package session

import (
	"context"
	"sync"
)

// MemoryStore is a process-local [CredentialStore].
type MemoryStore struct {
	mu    sync.RWMutex
	token string
	ok    bool
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Set(_ context.Context, token string) error {
	m.mu.Lock()
	m.token, m.ok = token, true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.ok, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.token, m.ok = "", false
	m.mu.Unlock()
	return nil
}
