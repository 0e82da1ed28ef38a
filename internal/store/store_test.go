package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authsession/internal/store"
	"github.com/aussiebroadwan/authsession/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// mapStore is an in-memory store.Store.
type mapStore struct {
	mu      sync.Mutex
	records map[string][]byte
	err     error
}

func newMapStore() *mapStore { return &mapStore{records: make(map[string][]byte)} }

func (m *mapStore) GetRecord(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.records[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (m *mapStore) PutRecord(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[key] = value
	return nil
}

func (m *mapStore) DeleteRecord(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.records, key)
	return nil
}

func (m *mapStore) ApplyMigrations(context.Context) error { return nil }
func (m *mapStore) Ping(context.Context) error            { return nil }
func (m *mapStore) Close() error                          { return nil }

var _ authsdk.Storage = (*store.SessionStorage)(nil)

func TestSessionStorage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := newMapStore()
	storage := store.NewSessionStorage(backing)

	expiresAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	want := authsdk.NewSession(
		authsdk.NewToken("at", authsdk.StringPtr("rt"), &expiresAt, "openid"),
		authsdk.ProviderOAuth,
		&authsdk.AuthUser{ID: "u1"},
	)

	var got authsdk.Session
	found, err := storage.Get(ctx, authsdk.SessionStorageKey, &got)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, storage.Set(ctx, authsdk.SessionStorageKey, want))
	require.Contains(t, string(backing.records[authsdk.SessionStorageKey]), `"accessToken":"at"`)

	found, err = storage.Get(ctx, authsdk.SessionStorageKey, &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want, got)

	require.NoError(t, storage.Remove(ctx, authsdk.SessionStorageKey))
	found, err = storage.Get(ctx, authsdk.SessionStorageKey, &got)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSessionStorage_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backing := newMapStore()
	storage := store.NewSessionStorage(backing)

	backing.records["bad"] = []byte("{not json")
	var got authsdk.Session
	_, err := storage.Get(ctx, "bad", &got)
	require.Error(t, err)

	boom := errors.New("connection reset")
	backing.err = boom

	_, err = storage.Get(ctx, "k", &got)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, storage.Set(ctx, "k", got), boom)
	require.ErrorIs(t, storage.Remove(ctx, "k"), boom)
}

func TestSessionStorage_WithManager(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := store.NewSessionStorage(newMapStore())

	first := authsdk.NewManager(authsdk.ManagerConfig{Storage: storage})
	first.SetSession(authsdk.NewSession(authsdk.NewToken("at", nil, nil), authsdk.ProviderCredentials, nil))
	require.NoError(t, first.PersistSession(ctx))

	second := authsdk.NewManager(authsdk.ManagerConfig{Storage: storage})
	loaded, err := second.LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, loaded)

	a, _ := first.CurrentSession()
	b, _ := second.CurrentSession()
	require.Equal(t, a, b)
}
