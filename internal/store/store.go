// Package store persists authentication sessions in an external key-value
// record store. Drivers under drivers/ implement Store; SessionStorage adapts
// any of them to the session manager's storage capability.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("store: not found")

// Store is the record level interface concrete drivers (sqlite, postgres,
// redis) implement. Values are opaque bytes; encoding is SessionStorage's job.
type Store interface {
	// GetRecord returns the value stored under key, or ErrNotFound.
	GetRecord(ctx context.Context, key string) ([]byte, error)

	// PutRecord inserts or replaces the value stored under key.
	PutRecord(ctx context.Context, key string, value []byte) error

	// DeleteRecord removes key. Deleting a missing key is not an error.
	DeleteRecord(ctx context.Context, key string) error

	// ApplyMigrations brings the schema up to date. A no-op for schemaless drivers.
	ApplyMigrations(ctx context.Context) error

	// Ping verifies the connection is still alive.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// SessionStorage stores JSON encoded values in a Store.
type SessionStorage struct {
	store Store
}

// NewSessionStorage wraps s.
func NewSessionStorage(s Store) *SessionStorage {
	return &SessionStorage{store: s}
}

func (s *SessionStorage) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.store.GetRecord(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %q: %w", key, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *SessionStorage) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	if err := s.store.PutRecord(ctx, key, data); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *SessionStorage) Remove(ctx context.Context, key string) error {
	if err := s.store.DeleteRecord(ctx, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
