package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// SessionStorageKey is the key the Session Manager persists under unless
// ManagerConfig.StorageKey overrides it.
const SessionStorageKey = "com.app.auth.session"

// Storage is the persistence capability the Session Manager writes through.
// Implementations serialize values themselves (the bundled drivers use JSON)
// and report failures as plain errors; the manager wraps them as
// StorageFailed.
type Storage interface {
	// Get decodes the value stored under key into dst. found is false, with a
	// nil error, when nothing is stored.
	Get(ctx context.Context, key string, dst any) (found bool, err error)

	// Set encodes v and stores it under key, replacing any previous value.
	Set(ctx context.Context, key string, v any) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// MemoryStorage is an in-process Storage. Values are held JSON encoded so it
// exercises the same round trip as the persistent drivers.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte)}
}

func (m *MemoryStorage) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	data, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStorage) Set(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}

	m.mu.Lock()
	if m.items == nil {
		m.items = make(map[string][]byte)
	}
	m.items[key] = data
	m.mu.Unlock()

	return nil
}

func (m *MemoryStorage) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()

	return nil
}
