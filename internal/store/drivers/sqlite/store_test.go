package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/authsession/internal/store"
	"github.com/aussiebroadwan/authsession/internal/store/drivers/sqlite"
	"github.com/aussiebroadwan/authsession/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "sessions.db")
	s, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations(context.Background()))
	return s, dsn
}

func TestStore_Records(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Ping(ctx))

	_, err := s.GetRecord(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutRecord(ctx, "k", []byte(`{"v":1}`)))
	got, err := s.GetRecord(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":1}`), got)

	require.NoError(t, s.PutRecord(ctx, "k", []byte(`{"v":2}`)))
	got, err = s.GetRecord(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":2}`), got)

	require.NoError(t, s.DeleteRecord(ctx, "k"))
	require.NoError(t, s.DeleteRecord(ctx, "k"))

	_, err = s.GetRecord(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_MigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	require.NoError(t, s.ApplyMigrations(context.Background()))
}

func TestStore_SessionSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, dsn := newTestStore(t)

	writer := authsdk.NewManager(authsdk.ManagerConfig{Storage: store.NewSessionStorage(s)})
	writer.SetSession(authsdk.NewSession(
		authsdk.NewToken("at", authsdk.StringPtr("rt"), nil, "openid", "profile"),
		authsdk.ProviderOAuth,
		&authsdk.AuthUser{ID: "u1", Email: authsdk.StringPtr("u1@example.com")},
	))
	require.NoError(t, writer.PersistSession(ctx))
	require.NoError(t, s.Close())

	reopened, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.ApplyMigrations(ctx))

	reader := authsdk.NewManager(authsdk.ManagerConfig{Storage: store.NewSessionStorage(reopened)})
	loaded, err := reader.LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, loaded)

	want, _ := writer.CurrentSession()
	got, _ := reader.CurrentSession()
	require.Equal(t, want, got)
}
