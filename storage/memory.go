package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps artifacts in memory
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (m *MemoryStore) Save(ctx context.Context, name string, data []byte) (Ref, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = append([]byte(nil), data...)
	m.saves++
	return Ref(name), nil
}

func (m *MemoryStore) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[ref.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return append([]byte(nil), data...), nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
