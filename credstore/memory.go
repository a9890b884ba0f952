package credstore

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps credentials for the life of the process.
type MemoryStore struct {
	values map[Key]string
	lock   sync.RWMutex
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		values: make(map[Key]string),
	}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.values[key], nil
}

func (m *MemoryStore) Save(_ context.Context, values map[Key]string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...Key) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *MemoryStore) Close(context.Context) error {
	return nil
}
