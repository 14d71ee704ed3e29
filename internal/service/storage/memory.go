package storage

import (
	"beacon_p2p/internal/model"
	"context"
	"sync"
)

// Memory is a process-local Storage and SecureStorage.
type Memory struct {
	mu      sync.RWMutex
	values  map[Key][]byte
	secrets map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		values:  make(map[Key][]byte),
		secrets: make(map[string][]byte),
	}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	m.mu.Lock()
	m.values[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetSecret(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[name]
	if !ok {
		return nil, model.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) SetSecret(_ context.Context, name string, value []byte) error {
	m.mu.Lock()
	m.secrets[name] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}
