// Package kvstore provides the two storage collaborators the engine needs: a
// durable key-value store for cross-session blobs (the muted-list cache) and
// an ephemeral in-memory store for per-session snapshots (the first feed
// page).
package kvstore

import (
	"context"
	"sync"
)

type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) (err error)
	Delete(ctx context.Context, key string) (err error)
}

// Memory is the ephemeral session store. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]

	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)

	return nil
}
