package authsdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Clock == nil {
		cfg.Clock = fixedClock()
	}
	return NewManager(cfg)
}

func testSession(access string, expiresAt *time.Time, refresh *string) Session {
	return NewSessionAt(
		testNow.Add(-time.Hour),
		NewToken(access, refresh, expiresAt, "openid"),
		ProviderOAuth,
		&AuthUser{ID: "user-1", Email: StringPtr("user-1@example.com")},
	)
}

// failingStorage fails every call with err.
type failingStorage struct{ err error }

func (s failingStorage) Get(context.Context, string, any) (bool, error) { return false, s.err }
func (s failingStorage) Set(context.Context, string, any) error         { return s.err }
func (s failingStorage) Remove(context.Context, string) error           { return s.err }

// gatedStorage blocks Get until release is closed, signalling entered first.
type gatedStorage struct {
	*MemoryStorage
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStorage) Get(ctx context.Context, key string, dst any) (bool, error) {
	close(s.entered)
	<-s.release
	return s.MemoryStorage.Get(ctx, key, dst)
}

// countingRefresher hands out at-N tokens and counts calls.
type countingRefresher struct {
	calls   atomic.Int32
	gate    chan struct{}
	err     error
	rotate  bool
	expires time.Duration
}

func (r *countingRefresher) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	n := r.calls.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}
	if r.err != nil {
		return Token{}, r.err
	}

	var rotated *string
	if r.rotate {
		rotated = StringPtr(refreshToken + "-next")
	}
	expiresAt := testNow.Add(r.expires)
	return NewToken("refreshed-"+string(rune('0'+n)), rotated, &expiresAt), nil
}

func TestManager_InitialState(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{Storage: NewMemoryStorage()})

	require.False(t, m.IsAuthenticated())
	require.False(t, m.HasValidSession())
	require.Nil(t, m.CurrentUser())
	require.Nil(t, m.TokenExpiresAt())

	_, ok := m.CurrentSession()
	require.False(t, ok)

	_, ok = m.CurrentProvider()
	require.False(t, ok)

	_, err := m.CurrentToken()
	require.Equal(t, ErrNotAuthenticated, err)

	_, err = m.FreshToken(context.Background(), true, 0)
	require.Equal(t, ErrNotAuthenticated, err)

	require.Equal(t, ErrNotAuthenticated, m.PersistSession(context.Background()))
}

func TestManager_SetSession(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{})
	s := testSession("at", timePtr(testNow.Add(time.Hour)), nil)
	m.SetSession(s)

	current, ok := m.CurrentSession()
	require.True(t, ok)
	require.Equal(t, s, current)
	require.True(t, m.IsAuthenticated())
	require.True(t, m.HasValidSession())
	require.Equal(t, "user-1", m.CurrentUser().ID)
	require.Equal(t, testNow.Add(time.Hour), *m.TokenExpiresAt())

	provider, ok := m.CurrentProvider()
	require.True(t, ok)
	require.Equal(t, ProviderOAuth, provider)

	token, err := m.CurrentToken()
	require.NoError(t, err)
	require.Equal(t, "at", token.AccessToken)

	t.Run("empty id is generated", func(t *testing.T) {
		s := testSession("at", nil, nil)
		s.ID = ""
		m.SetSession(s)

		current, _ := m.CurrentSession()
		require.NotEmpty(t, current.ID)
	})

	t.Run("returned user is a copy", func(t *testing.T) {
		m.SetSession(testSession("at", nil, nil))
		m.CurrentUser().ID = "mutated"
		require.Equal(t, "user-1", m.CurrentUser().ID)
	})
}

func TestManager_UpdateToken(t *testing.T) {
	t.Parallel()

	t.Run("no-op when unauthenticated", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{})
		m.UpdateToken(NewToken("new", nil, nil))
		require.False(t, m.IsAuthenticated())
	})

	t.Run("keeps session identity", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{})
		s := testSession("old", nil, nil)
		m.SetSession(s)

		m.UpdateToken(NewToken("new", nil, nil))

		current, _ := m.CurrentSession()
		require.Equal(t, s.ID, current.ID)
		require.Equal(t, s.CreatedAt, current.CreatedAt)
		require.Equal(t, s.User, current.User)
		require.Equal(t, "new", current.Token.AccessToken)
	})
}

func TestManager_FreshTokenWithoutRefresher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		expiresAt *time.Time
		refresh   bool
		threshold time.Duration
		wantErr   error
	}{
		{"no expiry", nil, true, 0, nil},
		{"far from expiry", timePtr(testNow.Add(time.Hour)), true, 0, nil},
		{"within default threshold but live", timePtr(testNow.Add(time.Minute)), true, 0, nil},
		{"already expired", timePtr(testNow.Add(-time.Minute)), true, 0, ErrTokenExpired},
		{"expired at exactly now", timePtr(testNow), true, 0, ErrTokenExpired},
		{"expired but refresh not requested", timePtr(testNow.Add(-time.Minute)), false, 0, nil},
		{"custom threshold", timePtr(testNow.Add(time.Minute)), true, 30 * time.Second, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, ManagerConfig{})
			m.SetSession(testSession("at", tt.expiresAt, StringPtr("rt")))

			token, err := m.FreshToken(context.Background(), tt.refresh, tt.threshold)
			if tt.wantErr != nil {
				require.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "at", token.AccessToken)
		})
	}
}

func TestManager_FreshTokenRefreshes(t *testing.T) {
	t.Parallel()

	t.Run("inside threshold", func(t *testing.T) {
		refresher := &countingRefresher{expires: time.Hour}
		m := newTestManager(t, ManagerConfig{Refresher: refresher})
		s := testSession("at", timePtr(testNow.Add(2*time.Minute)), StringPtr("rt"))
		m.SetSession(s)

		token, err := m.FreshToken(context.Background(), true, 0)
		require.NoError(t, err)
		require.Equal(t, "refreshed-1", token.AccessToken)
		require.Equal(t, "rt", *token.RefreshToken, "refresh token kept when not rotated")

		current, _ := m.CurrentSession()
		require.Equal(t, s.ID, current.ID)
		require.Equal(t, token, current.Token)
	})

	t.Run("outside threshold is left alone", func(t *testing.T) {
		refresher := &countingRefresher{expires: time.Hour}
		m := newTestManager(t, ManagerConfig{Refresher: refresher})
		m.SetSession(testSession("at", timePtr(testNow.Add(10*time.Minute)), StringPtr("rt")))

		token, err := m.FreshToken(context.Background(), true, 0)
		require.NoError(t, err)
		require.Equal(t, "at", token.AccessToken)
		require.Zero(t, refresher.calls.Load())
	})

	t.Run("rotated refresh token is stored", func(t *testing.T) {
		refresher := &countingRefresher{expires: time.Hour, rotate: true}
		m := newTestManager(t, ManagerConfig{Refresher: refresher})
		m.SetSession(testSession("at", timePtr(testNow.Add(-time.Minute)), StringPtr("rt")))

		token, err := m.FreshToken(context.Background(), true, 0)
		require.NoError(t, err)
		require.Equal(t, "rt-next", *token.RefreshToken)
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		refresher := &countingRefresher{expires: time.Hour}
		m := newTestManager(t, ManagerConfig{Refresher: refresher})
		m.SetSession(testSession("at", timePtr(testNow.Add(-time.Minute)), nil))

		_, err := m.FreshToken(context.Background(), true, 0)
		require.Equal(t, ErrTokenExpired, err)
		require.Zero(t, refresher.calls.Load())
	})

	t.Run("failure leaves the session untouched", func(t *testing.T) {
		refresher := &countingRefresher{err: RefreshFailed(`{"error":"invalid_grant"}`)}
		m := newTestManager(t, ManagerConfig{Refresher: refresher})
		s := testSession("at", timePtr(testNow.Add(time.Minute)), StringPtr("rt"))
		m.SetSession(s)

		_, err := m.FreshToken(context.Background(), true, 0)
		require.Equal(t, RefreshFailed(`{"error":"invalid_grant"}`), err)

		current, _ := m.CurrentSession()
		require.Equal(t, s, current)
	})

	t.Run("plain errors are reported as refresh failed", func(t *testing.T) {
		refresher := &countingRefresher{err: errors.New("boom")}
		m := newTestManager(t, ManagerConfig{Refresher: refresher})
		m.SetSession(testSession("at", timePtr(testNow.Add(time.Minute)), StringPtr("rt")))

		_, err := m.FreshToken(context.Background(), true, 0)
		require.Equal(t, RefreshFailed("boom"), err)
	})
}

func TestManager_RefreshSingleFlight(t *testing.T) {
	t.Parallel()

	refresher := &countingRefresher{expires: time.Hour, gate: make(chan struct{})}
	m := newTestManager(t, ManagerConfig{Refresher: refresher})
	m.SetSession(testSession("at", timePtr(testNow.Add(-time.Minute)), StringPtr("rt")))

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]Token, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = m.FreshToken(context.Background(), true, 0)
		}()
	}

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(refresher.gate)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Equal(t, "refreshed-1", tokens[i].AccessToken)
	}
	require.Equal(t, int32(1), refresher.calls.Load())
}

func TestManager_RefreshDoesNotResurrect(t *testing.T) {
	t.Parallel()

	t.Run("sign out during refresh", func(t *testing.T) {
		refresher := &countingRefresher{expires: time.Hour, gate: make(chan struct{})}
		m := newTestManager(t, ManagerConfig{Refresher: refresher})
		m.SetSession(testSession("at", timePtr(testNow.Add(-time.Minute)), StringPtr("rt")))

		done := make(chan error, 1)
		go func() {
			_, err := m.Refresh(context.Background())
			done <- err
		}()

		require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)
		require.NoError(t, m.SignOut(context.Background(), false))
		close(refresher.gate)

		require.Equal(t, ErrNotAuthenticated, <-done)
		require.False(t, m.IsAuthenticated())
	})

	t.Run("newer session wins", func(t *testing.T) {
		refresher := &countingRefresher{expires: time.Hour, gate: make(chan struct{})}
		m := newTestManager(t, ManagerConfig{Refresher: refresher})
		m.SetSession(testSession("at", timePtr(testNow.Add(-time.Minute)), StringPtr("rt")))

		done := make(chan Token, 1)
		go func() {
			token, _ := m.Refresh(context.Background())
			done <- token
		}()

		require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)
		newer := testSession("newer", timePtr(testNow.Add(time.Hour)), nil)
		m.SetSession(newer)
		close(refresher.gate)

		require.Equal(t, "newer", (<-done).AccessToken)
		current, _ := m.CurrentSession()
		require.Equal(t, newer, current)
	})
}

func TestManager_RefreshCancelled(t *testing.T) {
	t.Parallel()

	refresher := &countingRefresher{expires: time.Hour, gate: make(chan struct{})}
	m := newTestManager(t, ManagerConfig{Refresher: refresher})
	s := testSession("at", timePtr(testNow.Add(-time.Minute)), StringPtr("rt"))
	m.SetSession(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.FreshToken(ctx, true, 0)
		done <- err
	}()

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	require.ErrorIs(t, <-done, ErrCancelled)
	current, _ := m.CurrentSession()
	require.Equal(t, s, current)

	// the abandoned refresh finishing later must not land in the slot
	close(refresher.gate)
	require.Never(t, func() bool {
		current, _ := m.CurrentSession()
		return current.Token.AccessToken != "at"
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestManager_RefreshCancelOnlyAffectsCaller(t *testing.T) {
	t.Parallel()

	refresher := &countingRefresher{expires: time.Hour, gate: make(chan struct{})}
	m := newTestManager(t, ManagerConfig{Refresher: refresher})
	m.SetSession(testSession("at", timePtr(testNow.Add(-time.Minute)), StringPtr("rt")))

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	doneA := make(chan error, 1)
	go func() {
		_, err := m.FreshToken(ctxA, true, 0)
		doneA <- err
	}()
	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		token Token
		err   error
	}
	doneB := make(chan result, 1)
	go func() {
		token, err := m.FreshToken(context.Background(), true, 0)
		doneB <- result{token, err}
	}()
	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, f := range m.flights {
			if f.waiters == 2 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-doneA, ErrCancelled)

	close(refresher.gate)
	b := <-doneB
	require.NoError(t, b.err)
	require.Equal(t, "refreshed-1", b.token.AccessToken)
	require.Equal(t, int32(1), refresher.calls.Load())

	current, _ := m.CurrentSession()
	require.Equal(t, "refreshed-1", current.Token.AccessToken)
}

func TestManager_RefreshTimeout(t *testing.T) {
	t.Parallel()

	refresher := &countingRefresher{expires: time.Hour, gate: make(chan struct{})}
	t.Cleanup(func() { close(refresher.gate) })

	m := newTestManager(t, ManagerConfig{Refresher: refresher, RefreshTimeout: 20 * time.Millisecond})
	s := testSession("at", timePtr(testNow.Add(-time.Minute)), StringPtr("rt"))
	m.SetSession(s)

	_, err := m.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNetworkError)

	current, _ := m.CurrentSession()
	require.Equal(t, s, current)
}

func TestManager_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("not authenticated", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{Refresher: &countingRefresher{}})
		_, err := m.Refresh(context.Background())
		require.Equal(t, ErrNotAuthenticated, err)
	})

	t.Run("no refresh token", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{Refresher: &countingRefresher{}})
		m.SetSession(testSession("at", nil, nil))
		_, err := m.Refresh(context.Background())
		require.Equal(t, RefreshFailed("no refresh token"), err)
	})

	t.Run("no refresher", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{})
		m.SetSession(testSession("at", nil, StringPtr("rt")))
		_, err := m.Refresh(context.Background())
		require.Equal(t, RefreshFailed("no refresher configured"), err)
	})

	t.Run("forced refresh of a live token", func(t *testing.T) {
		refresher := &countingRefresher{expires: time.Hour}
		m := newTestManager(t, ManagerConfig{Refresher: refresher})
		m.SetSession(testSession("at", nil, StringPtr("rt")))

		token, err := m.Refresh(context.Background())
		require.NoError(t, err)
		require.Equal(t, "refreshed-1", token.AccessToken)
		require.Equal(t, testNow.Add(time.Hour), *m.TokenExpiresAt())
	})
}

func TestManager_PersistAndLoad(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	s := testSession("at", timePtr(testNow.Add(time.Hour)), StringPtr("rt"))

	first := newTestManager(t, ManagerConfig{Storage: storage})
	first.SetSession(s)
	require.NoError(t, first.PersistSession(context.Background()))

	second := newTestManager(t, ManagerConfig{Storage: storage})
	loaded, err := second.LoadSession(context.Background())
	require.NoError(t, err)
	require.True(t, loaded)

	current, ok := second.CurrentSession()
	require.True(t, ok)
	require.Equal(t, s, current)
}

func TestManager_PersistAndLoadLiteralSession(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	aest := time.FixedZone("AEST", 10*3600)
	expiresAt := time.Now().In(aest).Add(time.Hour)
	s := Session{
		ID:        "literal-1",
		Token:     Token{AccessToken: "at", TokenType: DefaultTokenType, ExpiresAt: &expiresAt},
		Provider:  ProviderCredentials,
		CreatedAt: time.Now().In(aest),
	}

	first := newTestManager(t, ManagerConfig{Storage: storage})
	first.SetSession(s)
	require.NoError(t, first.PersistSession(context.Background()))

	set, _ := first.CurrentSession()
	require.True(t, s.CreatedAt.Equal(set.CreatedAt))
	require.Equal(t, time.UTC, set.CreatedAt.Location())

	second := newTestManager(t, ManagerConfig{Storage: storage})
	loaded, err := second.LoadSession(context.Background())
	require.NoError(t, err)
	require.True(t, loaded)

	current, _ := second.CurrentSession()
	require.Equal(t, set, current)
	require.True(t, reflect.DeepEqual(set, current))
}

func TestManager_LoadSession(t *testing.T) {
	t.Parallel()

	t.Run("empty storage", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{Storage: NewMemoryStorage()})
		loaded, err := m.LoadSession(context.Background())
		require.NoError(t, err)
		require.False(t, loaded)
		require.False(t, m.IsAuthenticated())
	})

	t.Run("no storage configured", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{})
		loaded, err := m.LoadSession(context.Background())
		require.NoError(t, err)
		require.False(t, loaded)
	})

	t.Run("expired session loads but is not valid", func(t *testing.T) {
		storage := NewMemoryStorage()
		expired := testSession("at", timePtr(testNow.Add(-time.Hour)), nil)
		require.NoError(t, storage.Set(context.Background(), SessionStorageKey, expired))

		m := newTestManager(t, ManagerConfig{Storage: storage})
		loaded, err := m.LoadSession(context.Background())
		require.NoError(t, err)
		require.True(t, loaded)
		require.True(t, m.IsAuthenticated())
		require.False(t, m.HasValidSession())
	})

	t.Run("in-memory session is never clobbered", func(t *testing.T) {
		storage := NewMemoryStorage()
		stored := testSession("stored", nil, nil)
		require.NoError(t, storage.Set(context.Background(), SessionStorageKey, stored))

		m := newTestManager(t, ManagerConfig{Storage: storage})
		live := testSession("live", nil, nil)
		m.SetSession(live)

		loaded, err := m.LoadSession(context.Background())
		require.NoError(t, err)
		require.False(t, loaded)

		current, _ := m.CurrentSession()
		require.Equal(t, live, current)
	})

	t.Run("session set while loading wins", func(t *testing.T) {
		storage := &gatedStorage{
			MemoryStorage: NewMemoryStorage(),
			entered:       make(chan struct{}),
			release:       make(chan struct{}),
		}
		require.NoError(t, storage.Set(context.Background(), SessionStorageKey, testSession("stored", nil, nil)))

		m := newTestManager(t, ManagerConfig{Storage: storage})

		type result struct {
			loaded bool
			err    error
		}
		done := make(chan result, 1)
		go func() {
			loaded, err := m.LoadSession(context.Background())
			done <- result{loaded, err}
		}()

		<-storage.entered
		live := testSession("live", nil, nil)
		m.SetSession(live)
		close(storage.release)

		res := <-done
		require.NoError(t, res.err)
		require.False(t, res.loaded)

		current, _ := m.CurrentSession()
		require.Equal(t, live, current)
	})

	t.Run("corrupt record is a storage failure", func(t *testing.T) {
		storage := NewMemoryStorage()
		require.NoError(t, storage.Set(context.Background(), SessionStorageKey, map[string]any{
			"id":       "x",
			"provider": "github",
		}))

		m := newTestManager(t, ManagerConfig{Storage: storage})
		_, err := m.LoadSession(context.Background())
		require.ErrorIs(t, err, ErrStorageFailed)
		require.False(t, m.IsAuthenticated())
	})

	t.Run("cancelled context", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{Storage: NewMemoryStorage()})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.LoadSession(ctx)
		require.ErrorIs(t, err, ErrCancelled)
	})

	t.Run("custom storage key", func(t *testing.T) {
		storage := NewMemoryStorage()
		s := testSession("at", nil, nil)

		writer := newTestManager(t, ManagerConfig{Storage: storage, StorageKey: "tenant-a"})
		writer.SetSession(s)
		require.NoError(t, writer.PersistSession(context.Background()))

		var raw Session
		found, err := storage.Get(context.Background(), SessionStorageKey, &raw)
		require.NoError(t, err)
		require.False(t, found)

		reader := newTestManager(t, ManagerConfig{Storage: storage, StorageKey: "tenant-a"})
		loaded, err := reader.LoadSession(context.Background())
		require.NoError(t, err)
		require.True(t, loaded)
	})
}

func TestManager_SignOut(t *testing.T) {
	t.Parallel()

	t.Run("clear persisted", func(t *testing.T) {
		storage := NewMemoryStorage()
		m := newTestManager(t, ManagerConfig{Storage: storage})
		m.SetSession(testSession("at", nil, nil))
		require.NoError(t, m.PersistSession(context.Background()))

		require.NoError(t, m.SignOut(context.Background(), true))
		require.False(t, m.IsAuthenticated())

		var stored Session
		found, err := storage.Get(context.Background(), SessionStorageKey, &stored)
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("keep persisted", func(t *testing.T) {
		storage := NewMemoryStorage()
		s := testSession("at", nil, nil)
		m := newTestManager(t, ManagerConfig{Storage: storage})
		m.SetSession(s)
		require.NoError(t, m.PersistSession(context.Background()))

		require.NoError(t, m.SignOut(context.Background(), false))
		_, ok := m.CurrentSession()
		require.False(t, ok)

		var stored Session
		found, err := storage.Get(context.Background(), SessionStorageKey, &stored)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, s, stored)
	})

	t.Run("storage failure still clears memory", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{Storage: failingStorage{err: errors.New("disk full")}})
		m.SetSession(testSession("at", nil, nil))

		err := m.SignOut(context.Background(), true)
		require.Equal(t, StorageFailed("disk full"), err)
		require.False(t, m.IsAuthenticated())
	})

	t.Run("when already signed out", func(t *testing.T) {
		m := newTestManager(t, ManagerConfig{Storage: NewMemoryStorage()})
		require.NoError(t, m.SignOut(context.Background(), true))
	})
}

func TestManager_StorageFailures(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, ManagerConfig{Storage: failingStorage{err: errors.New("locked")}})
	m.SetSession(testSession("at", nil, nil))

	require.Equal(t, StorageFailed("locked"), m.PersistSession(context.Background()))
	require.Equal(t, StorageFailed("locked"), m.ClearPersistedSession(context.Background()))

	m2 := newTestManager(t, ManagerConfig{Storage: failingStorage{err: errors.New("locked")}})
	_, err := m2.LoadSession(context.Background())
	require.Equal(t, StorageFailed("locked"), err)

	noStorage := newTestManager(t, ManagerConfig{})
	noStorage.SetSession(testSession("at", nil, nil))
	require.ErrorIs(t, noStorage.PersistSession(context.Background()), ErrStorageFailed)
}

func TestManager_ClearPersistedSession(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	m := newTestManager(t, ManagerConfig{Storage: storage})
	m.SetSession(testSession("at", nil, nil))
	require.NoError(t, m.PersistSession(context.Background()))

	require.NoError(t, m.ClearPersistedSession(context.Background()))
	require.True(t, m.IsAuthenticated())

	var stored Session
	found, err := storage.Get(context.Background(), SessionStorageKey, &stored)
	require.NoError(t, err)
	require.False(t, found)
}

func TestManager_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	storage := NewMemoryStorage()
	m := newTestManager(t, ManagerConfig{Storage: storage, Refresher: &countingRefresher{expires: time.Hour}})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()

			switch i % 5 {
			case 0:
				m.SetSession(testSession("at", timePtr(testNow.Add(time.Minute)), StringPtr("rt")))
			case 1:
				_, _ = m.FreshToken(ctx, true, 0)
			case 2:
				_ = m.PersistSession(ctx)
			case 3:
				_, _ = m.LoadSession(ctx)
			case 4:
				m.UpdateToken(NewToken("updated", nil, nil))
				_ = m.HasValidSession()
			}
		}()
	}
	wg.Wait()

	if s, ok := m.CurrentSession(); ok {
		require.NotEmpty(t, s.ID)
		require.Equal(t, ProviderOAuth, s.Provider)
	}
}
