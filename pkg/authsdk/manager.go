package authsdk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/authsession/pkg/cryptox"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshThreshold is how close to expiry FreshToken starts refreshing.
const DefaultRefreshThreshold = 300 * time.Second

// DefaultRefreshTimeout bounds a shared refresh once it no longer follows
// any single caller's context.
const DefaultRefreshTimeout = 30 * time.Second

// Refresher obtains a new Token from a refresh token. OAuthProvider is the
// usual implementation.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (Token, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	return f(ctx, refreshToken)
}

// ManagerConfig wires a Manager to its collaborators. Every field is optional.
type ManagerConfig struct {
	// Storage persists the session across restarts. nil disables persistence.
	Storage Storage

	// Refresher lets FreshToken and Refresh renew expiring tokens.
	Refresher Refresher

	// StorageKey defaults to SessionStorageKey.
	StorageKey string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time

	// RefreshTimeout defaults to DefaultRefreshTimeout.
	RefreshTimeout time.Duration
}

// Manager owns at most one current Session.
//
// Every operation reads or writes the session slot inside a single critical
// section. Storage and network I/O always happen outside the lock: the new
// value is computed first and then committed in one step, so no caller ever
// observes a half-updated session and a cancelled call leaves the slot as it
// was.
type Manager struct {
	storage   Storage
	refresher Refresher
	key       string
	logger    *slog.Logger
	clock     func() time.Time
	timeout   time.Duration

	mu      sync.RWMutex
	session *Session
	flights map[string]*refreshFlight // guarded by mu

	refreshGroup singleflight.Group
}

// refreshFlight counts the callers still waiting on one shared refresh.
type refreshFlight struct {
	waiters   int
	committed bool
}

// NewManager creates a Manager in the unauthenticated state.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		storage:   cfg.Storage,
		refresher: cfg.Refresher,
		key:       cfg.StorageKey,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		timeout:   cfg.RefreshTimeout,
		flights:   make(map[string]*refreshFlight),
	}

	if m.key == "" {
		m.key = SessionStorageKey
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.timeout <= 0 {
		m.timeout = DefaultRefreshTimeout
	}

	return m
}

// ============================================================================
// In-memory state
// ============================================================================

// SetSession makes s the current session, replacing any previous one. It
// does not touch storage. An empty s.ID is filled with a fresh ULID and
// timestamps are stored in UTC.
func (m *Manager) SetSession(s Session) {
	s = s.normalized()

	m.mu.Lock()
	m.session = &s
	m.mu.Unlock()

	m.logger.Info("session set",
		"session_id", s.ID,
		"provider", s.Provider,
		"token_fp", cryptox.FingerprintToken(s.Token.AccessToken),
	)
}

// CurrentSession returns the current session, if any.
func (m *Manager) CurrentSession() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// IsAuthenticated reports whether a session is held, expired or not.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil
}

// HasValidSession reports whether a session is held and its token is live.
func (m *Manager) HasValidSession() bool {
	now := m.clock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil && m.session.IsValidAt(now)
}

// CurrentUser returns the signed in user, nil when unauthenticated or when the
// session carries no profile.
func (m *Manager) CurrentUser() *AuthUser {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil || m.session.User == nil {
		return nil
	}
	user := *m.session.User
	return &user
}

// CurrentProvider returns the provider of the current session.
func (m *Manager) CurrentProvider() (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return "", false
	}
	return m.session.Provider, true
}

// TokenExpiresAt returns the current token's expiry. nil when
// unauthenticated or when the token never expires.
func (m *Manager) TokenExpiresAt() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil || m.session.Token.ExpiresAt == nil {
		return nil
	}
	expiresAt := *m.session.Token.ExpiresAt
	return &expiresAt
}

// UpdateToken swaps the token of the current session, keeping its identity.
// It is a silent no-op when unauthenticated.
func (m *Manager) UpdateToken(t Token) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	updated := m.session.WithUpdatedToken(t)
	m.session = &updated
	m.mu.Unlock()

	m.logger.Debug("session token updated",
		"session_id", updated.ID,
		"token_fp", cryptox.FingerprintToken(t.AccessToken),
	)
}

// ============================================================================
// Token access
// ============================================================================

// CurrentToken returns the current token as-is, without looking at expiry.
func (m *Manager) CurrentToken() (Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return Token{}, ErrNotAuthenticated
	}
	return m.session.Token, nil
}

// FreshToken returns a token that is safe to use right now.
//
// When refreshIfNeeded is false, or the token will not expire within
// threshold (DefaultRefreshThreshold when threshold <= 0), the current token
// is returned unchanged. Otherwise, with a Refresher configured and a refresh
// token available, the token is renewed, committed to the session and
// returned. Without a way to refresh, an already expired token fails with
// TokenExpired while a token that is merely close to expiry is still returned.
//
// A refresh failure is returned to the caller and the session is left
// untouched.
func (m *Manager) FreshToken(ctx context.Context, refreshIfNeeded bool, threshold time.Duration) (Token, error) {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}

	current, ok := m.CurrentSession()
	if !ok {
		return Token{}, ErrNotAuthenticated
	}

	now := m.clock()
	if !refreshIfNeeded || !current.Token.WillExpireWithinAt(now, threshold) {
		return current.Token, nil
	}

	if m.refresher == nil || !current.Token.CanRefresh() {
		if current.Token.IsExpiredAt(now) {
			return Token{}, ErrTokenExpired
		}
		return current.Token, nil
	}

	return m.refresh(ctx, current)
}

// Refresh renews the current token unconditionally.
func (m *Manager) Refresh(ctx context.Context) (Token, error) {
	current, ok := m.CurrentSession()
	if !ok {
		return Token{}, ErrNotAuthenticated
	}
	if !current.Token.CanRefresh() {
		return Token{}, RefreshFailed("no refresh token")
	}
	if m.refresher == nil {
		return Token{}, RefreshFailed("no refresher configured")
	}

	return m.refresh(ctx, current)
}

// refresh runs at most one refresh per session token at a time; concurrent
// callers share the result of the first. The shared work is detached from
// every caller's context: a caller that gives up gets Cancelled without
// affecting the others, and a result nobody waits for any more is dropped.
func (m *Manager) refresh(ctx context.Context, snapshot Session) (Token, error) {
	key := snapshot.ID + ":" + cryptox.FingerprintToken(snapshot.Token.AccessToken)

	m.mu.Lock()
	flight := m.flights[key]
	if flight == nil {
		flight = &refreshFlight{}
		m.flights[key] = flight
	}
	flight.waiters++
	m.mu.Unlock()

	results := m.refreshGroup.DoChan(key, func() (any, error) {
		return m.runRefresh(context.WithoutCancel(ctx), key, snapshot)
	})

	select {
	case res := <-results:
		m.leaveFlight(key, flight)
		return refreshResult(res)

	case <-ctx.Done():
		m.mu.Lock()
		if flight.committed {
			// too late to back out, the slot already holds the outcome
			m.mu.Unlock()
			res := <-results
			m.leaveFlight(key, flight)
			return refreshResult(res)
		}
		m.leaveFlightLocked(key, flight)
		m.mu.Unlock()
		return Token{}, newError(KindCancelled, ctx.Err().Error())
	}
}

func refreshResult(res singleflight.Result) (Token, error) {
	if res.Err != nil {
		return Token{}, res.Err
	}
	return res.Val.(Token), nil
}

func (m *Manager) leaveFlight(key string, flight *refreshFlight) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveFlightLocked(key, flight)
}

func (m *Manager) leaveFlightLocked(key string, flight *refreshFlight) {
	flight.waiters--
	if flight.waiters == 0 && m.flights[key] == flight {
		delete(m.flights, key)
	}
}

// runRefresh is the shared half of refresh.
func (m *Manager) runRefresh(ctx context.Context, key string, snapshot Session) (Token, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	token, err := m.refresher.Refresh(ctx, *snapshot.Token.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh failed", "session_id", snapshot.ID, "error", err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Token{}, NetworkError("token refresh timed out after " + m.timeout.String())
		}
		return Token{}, classify(err, KindRefreshFailed)
	}

	// RFC 6749 6: the old refresh token stays valid when no new one is issued
	if token.RefreshToken == nil {
		token.RefreshToken = snapshot.Token.RefreshToken
	}

	return m.commitRefreshed(key, snapshot, token)
}

// commitRefreshed stores token only if snapshot is still the current session
// with the same token and someone is still waiting for it. A session replaced
// in the meantime wins.
func (m *Manager) commitRefreshed(key string, snapshot Session, token Token) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	flight := m.flights[key]
	if flight == nil || flight.waiters == 0 {
		m.logger.Debug("discarding refreshed token, every caller gave up", "session_id", snapshot.ID)
		return Token{}, newError(KindCancelled, "refresh abandoned")
	}
	flight.committed = true

	if m.session == nil {
		return Token{}, ErrNotAuthenticated
	}
	if m.session.ID != snapshot.ID || m.session.Token.AccessToken != snapshot.Token.AccessToken {
		m.logger.Debug("discarding refreshed token, session changed", "session_id", snapshot.ID)
		return m.session.Token, nil
	}

	updated := m.session.WithUpdatedToken(token)
	m.session = &updated

	m.logger.Info("token refreshed",
		"session_id", updated.ID,
		"token_fp", cryptox.FingerprintToken(token.AccessToken),
	)
	return token, nil
}

// ============================================================================
// Persistence
// ============================================================================

// PersistSession writes the current session to storage.
func (m *Manager) PersistSession(ctx context.Context) error {
	current, ok := m.CurrentSession()
	if !ok {
		return ErrNotAuthenticated
	}
	if m.storage == nil {
		return StorageFailed("no storage configured")
	}
	if err := ctx.Err(); err != nil {
		return newError(KindCancelled, err.Error())
	}

	if err := m.storage.Set(ctx, m.key, current); err != nil {
		m.logger.Error("failed to persist session", "session_id", current.ID, "error", err)
		return StorageFailed(err.Error())
	}

	m.logger.Debug("session persisted", "session_id", current.ID)
	return nil
}

// LoadSession restores a persisted session on cold start.
//
// A session already held in memory always wins: LoadSession then returns
// false without reading storage, and it re-checks before committing so a
// SetSession racing with the read is never overwritten. An expired session
// loads fine; IsAuthenticated becomes true while HasValidSession stays false.
func (m *Manager) LoadSession(ctx context.Context) (bool, error) {
	if m.IsAuthenticated() || m.storage == nil {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, newError(KindCancelled, err.Error())
	}

	var stored Session
	found, err := m.storage.Get(ctx, m.key, &stored)
	if err != nil {
		m.logger.Error("failed to load session", "error", err)
		return false, StorageFailed(err.Error())
	}
	if !found {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, newError(KindCancelled, err.Error())
	}

	stored = stored.normalized()

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return false, nil
	}
	m.session = &stored
	m.mu.Unlock()

	m.logger.Info("session loaded",
		"session_id", stored.ID,
		"provider", stored.Provider,
		"valid", stored.IsValidAt(m.clock()),
	)
	return true, nil
}

// ClearPersistedSession removes the stored session. In-memory state is not
// touched.
func (m *Manager) ClearPersistedSession(ctx context.Context) error {
	if m.storage == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return newError(KindCancelled, err.Error())
	}

	if err := m.storage.Remove(ctx, m.key); err != nil {
		m.logger.Error("failed to clear persisted session", "error", err)
		return StorageFailed(err.Error())
	}
	return nil
}

// SignOut clears the in-memory session and, when clearPersisted is true, the
// stored one. The in-memory session is gone even if removing the stored copy
// fails; that failure is still returned as StorageFailed.
func (m *Manager) SignOut(ctx context.Context, clearPersisted bool) error {
	m.mu.Lock()
	previous := m.session
	m.session = nil
	m.mu.Unlock()

	if previous != nil {
		m.logger.Info("signed out", "session_id", previous.ID, "clear_persisted", clearPersisted)
	}

	if !clearPersisted || m.storage == nil {
		return nil
	}

	if err := m.storage.Remove(ctx, m.key); err != nil {
		m.logger.Error("failed to clear persisted session on sign out", "error", err)
		return StorageFailed(err.Error())
	}
	return nil
}

// ============================================================================
// External capabilities
// ============================================================================

// SignInWithCredential runs a native sign-in capability and makes the
// resulting session current. Capability failures are reported as
// ProviderError (or Cancelled); the current session is only replaced on
// success.
func (m *Manager) SignInWithCredential(ctx context.Context, provider Provider, auth Authenticator) (Session, error) {
	cred, err := auth.Authenticate(ctx)
	if err != nil {
		return Session{}, classify(err, KindProviderError)
	}
	if err := ctx.Err(); err != nil {
		return Session{}, newError(KindCancelled, err.Error())
	}

	session, err := SessionFromCredential(m.clock(), provider, cred)
	if err != nil {
		return Session{}, err
	}

	m.SetSession(session)
	return session, nil
}

// UnlockWithBiometrics gates access to the current session behind a
// biometric prompt. It returns the session on success and never changes it.
func (m *Manager) UnlockWithBiometrics(ctx context.Context, bio BiometricAuthenticator, reason string) (Session, error) {
	current, ok := m.CurrentSession()
	if !ok {
		return Session{}, ErrNotAuthenticated
	}
	if !bio.Available(ctx) {
		return Session{}, ErrBiometricNotAvailable
	}

	cred, err := bio.Evaluate(ctx, reason)
	if err != nil {
		return Session{}, classify(err, KindBiometricFailed)
	}

	if current.User != nil && cred.UserID != "" && cred.UserID != current.User.ID {
		return Session{}, BiometricFailed("credential does not belong to the session user")
	}

	current, ok = m.CurrentSession()
	if !ok {
		return Session{}, ErrNotAuthenticated
	}
	return current, nil
}
