package idempotency

import (
	"context"
	"sync"
	"time"
)

// Record is a stored HTTP reply for a submit request.
type Record struct {
	StatusCode int
	Body       []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (r Record) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store keeps replies keyed by idempotency key. Get returns nil, nil for
// unknown or expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
}

// MemoryStore is the default single-process store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
		now:  time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	rec, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if rec.expired(m.now()) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = record
	return nil
}
