package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is a mutex-guarded in-memory Provider. It backs tests and
// single-node deployments where an external Valkey is not available.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]memoryItem
	now  func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		data: make(map[string]memoryItem),
		now:  time.Now,
	}
}

// Get returns the value for key, or ErrKeyNotFound when absent or expired.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.liveItem(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

// Set stores value under key with an optional TTL.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = m.newItem(value, ttl)
	return nil
}

// SetNX stores the value only when the key does not already hold a live entry.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.liveItem(key); ok {
		return false, nil
	}
	m.data[key] = m.newItem(value, ttl)
	return true, nil
}

// Del removes a key.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Close is a no-op for the in-memory provider.
func (m *MemoryProvider) Close() error { return nil }

func (m *MemoryProvider) newItem(value []byte, ttl time.Duration) memoryItem {
	stored := make([]byte, len(value))
	copy(stored, value)
	it := memoryItem{value: stored}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	return it
}

// liveItem returns the entry for key, lazily dropping it when expired.
// Callers must hold the mutex.
func (m *MemoryProvider) liveItem(key string) (memoryItem, bool) {
	it, ok := m.data[key]
	if !ok {
		return memoryItem{}, false
	}
	if !it.expiresAt.IsZero() && m.now().After(it.expiresAt) {
		delete(m.data, key)
		return memoryItem{}, false
	}
	return it, true
}
