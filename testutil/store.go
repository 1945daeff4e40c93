// Package testutil provides in-memory fakes and fixture helpers shared by
// FrameVault package tests. Nothing here is imported by production code.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/c360/framevault/errors"
)

// MemStore is an in-memory stand-in for the JetStream-backed frame store.
// Thread-safe for concurrent use from multiple goroutines.
type MemStore struct {
	mu        sync.RWMutex
	objects   map[string][]byte
	getCalls  map[string]int
	listCalls int

	// FailKeys makes Get return an error for the listed keys.
	FailKeys map[string]bool
	// ListErr makes List fail with this error when set.
	ListErr error
	// PutErr makes Put fail with this error when set.
	PutErr error
	// GetDelay, when set, is invoked before each Get returns. Tests use it
	// to randomize fetch completion order.
	GetDelay func(key string)
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects:  make(map[string][]byte),
		getCalls: make(map[string]int),
		FailKeys: make(map[string]bool),
	}
}

// Seed inserts an object without going through Put error injection.
func (m *MemStore) Seed(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

// Put stores data under key.
func (m *MemStore) Put(_ context.Context, key string, data []byte, _ string) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp
	return nil
}

// Get returns the object stored under key.
func (m *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetDelay != nil {
		m.GetDelay(key)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	m.getCalls[key]++
	failed := m.FailKeys[key]
	data, ok := m.objects[key]
	m.mu.Unlock()

	if failed {
		return nil, errors.WrapTransient(errors.ErrFetchFailed, "MemStore", "Get", key)
	}
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrKeyNotFound, "MemStore", "Get", key)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns stored keys matching any of the given prefixes in sorted
// order. No prefixes means every key.
func (m *MemStore) List(_ context.Context, prefixes ...string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var keys []string
	for k := range m.objects {
		if matchesAny(k, prefixes) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func matchesAny(key string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Delete removes the object stored under key.
func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return errors.WrapNotFound(errors.ErrKeyNotFound, "MemStore", "Delete", key)
	}
	delete(m.objects, key)
	return nil
}

// ListCalls reports how many times List was invoked.
func (m *MemStore) ListCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls
}

// GetCalls reports how many times Get was invoked for key.
func (m *MemStore) GetCalls(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCalls[key]
}

// Len returns the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
