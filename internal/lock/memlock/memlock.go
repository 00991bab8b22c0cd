// Package memlock is the in-process lock.Manager fallback, used in
// single-instance deployments and tests. It mirrors the key-sliding
// in-memory map shape of the rate limiter's per-key window table, swapped
// here for per-key mutexes instead of token windows.
package memlock

import (
	"context"
	"sync"

	"github.com/vaultline/cashops/internal/lock"
)

type entry struct {
	mu       sync.Mutex
	refcount int
}

// Manager is an in-memory lock.Manager. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

var _ lock.Manager = (*Manager)(nil)

func New() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

func (m *Manager) get(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refcount++
	return e
}

func (m *Manager) put(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refcount--
	if e.refcount <= 0 {
		delete(m.entries, key)
	}
}

func (m *Manager) Acquire(ctx context.Context, key string) (func(), error) {
	e := m.get(key)
	done := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return func() {
			e.mu.Unlock()
			m.put(key, e)
		}, nil
	case <-ctx.Done():
		m.put(key, e)
		return nil, ctx.Err()
	}
}

func (m *Manager) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	e := m.get(key)
	if !e.mu.TryLock() {
		m.put(key, e)
		return nil, false, nil
	}
	return func() {
		e.mu.Unlock()
		m.put(key, e)
	}, true, nil
}
