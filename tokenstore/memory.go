package tokenstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the session in process memory. Several engines sharing one
// MemoryStore behave like tabs sharing a profile.
type MemoryStore struct {
	mu  sync.RWMutex
	rec *Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, token, email string) error {
	if err := checkRecord(token, email); err != nil {
		return err
	}
	m.mu.Lock()
	m.rec = &Record{Token: token, Email: email}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.rec = nil
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(context.Context) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec == nil {
		return Record{}, false, nil
	}
	return *m.rec, true, nil
}

func (m *MemoryStore) Token(ctx context.Context) (string, bool, error) {
	return tokenOf(ctx, m)
}

func (m *MemoryStore) UserEmail(ctx context.Context) (string, bool, error) {
	return emailOf(ctx, m)
}
