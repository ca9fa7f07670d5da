package session

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps the session in process memory. It does not survive restarts.
type MemoryStore struct {
	mu sync.RWMutex
	s  Session
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored session.
func (m *MemoryStore) Save(_ context.Context, s Session) error {
	next, err := prepareSave(s)
	if err != nil {
		return err
	}
	next.User = cloneRaw(next.User)

	m.mu.Lock()
	m.s = next
	m.mu.Unlock()
	return nil
}

// CompareAndSave replaces the stored session if its renewal token is still renewalToken.
func (m *MemoryStore) CompareAndSave(_ context.Context, renewalToken string, s Session) (bool, error) {
	next, err := prepareSave(s)
	if err != nil {
		return false, err
	}
	next.User = cloneRaw(next.User)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.RenewalToken != renewalToken {
		return false, nil
	}
	m.s = next
	return true, nil
}

// Load returns a copy of the stored session.
func (m *MemoryStore) Load(_ context.Context) Session {
	m.mu.RLock()
	s := m.s
	m.mu.RUnlock()

	s.User = cloneRaw(s.User)
	return s
}

// Clear removes every stored field.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.s = Session{}
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
