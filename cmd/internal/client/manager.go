package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Manager owns one session: credential material, proactive renewal, the
// inactivity watchdog, and the cross-context storage watcher. All operations
// are safe for concurrent use.
type Manager struct {
	log     *slog.Logger
	cfg     Config
	storage Storage

	// raw talks to the auth endpoints directly; api carries the
	// authTransport decoration for application traffic.
	raw *http.Client
	api *http.Client

	renewFlight singleflight.Group

	mu         sync.Mutex
	gen        uint64
	sess       *sessionState
	renewTimer *time.Timer
	idleTimer  *time.Timer
	closed     bool

	observers *logoutObservers

	watchStop chan struct{}
	watchOnce sync.Once
}

// sessionState lives behind Manager.mu.
type sessionState struct {
	session  Session
	identity Identity
	remember bool
}

// NewManager constructs a Manager. If storage holds a previously persisted
// session a renewal is scheduled immediately to re-validate it. Close must be
// called when the Manager is no longer needed.
func NewManager(cfg Config, storage Storage, log *slog.Logger) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		log:       log,
		cfg:       cfg,
		storage:   storage,
		raw:       &http.Client{Timeout: cfg.HTTPTimeout},
		observers: newLogoutObservers(),
		watchStop: make(chan struct{}),
	}
	m.api = &http.Client{Transport: &authTransport{base: http.DefaultTransport, m: m}}

	m.restoreFromStorage()

	if cfg.StorageWatchInterval > 0 {
		go m.watchStorage()
	}

	return m, nil
}

// restoreFromStorage adopts persisted credential material. The access token's
// expiry is unknown after a restart, so the proactive renewal fires at once
// and replaces it with a fresh pair.
func (m *Manager) restoreFromStorage() {
	access, okA := m.storage.Get(StorageKeyAccessToken)
	refresh, okR := m.storage.Get(StorageKeyRefreshToken)
	idJSON, okI := m.storage.Get(StorageKeyIdentity)
	if !okA || !okR || !okI || access == "" || refresh == "" {
		return
	}

	var id Identity
	if err := json.Unmarshal([]byte(idJSON), &id); err != nil {
		m.log.Warn("client.restore.identity_corrupt", "err", err)
		return
	}

	m.mu.Lock()
	m.sess = &sessionState{
		session:  Session{AccessToken: access, RefreshToken: refresh},
		identity: id,
	}
	m.scheduleRenewLocked(m.gen, time.Millisecond)
	m.armIdleLocked(m.gen)
	m.mu.Unlock()

	m.log.Info("client.restore.ok", "user_id", id.UserID)
}

// Close stops background work without ending the session or touching storage.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopTimersLocked()
	m.mu.Unlock()
	m.watchOnce.Do(func() { close(m.watchStop) })
}

// OnLogout registers an observer invoked whenever the session ends. The
// returned cancel func unregisters it.
func (m *Manager) OnLogout(fn func(LogoutReason)) (cancel func()) {
	return m.observers.add(fn)
}

// Client returns an http.Client that injects the access token and performs
// one coordinated renew-and-retry on 401 responses.
func (m *Manager) Client() *http.Client { return m.api }

// Do issues req through the decorated client.
func (m *Manager) Do(req *http.Request) (*http.Response, error) {
	return m.api.Do(req)
}

// AccessToken returns the current access token, if a session is active.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return "", false
	}
	return m.sess.session.AccessToken, true
}

// Identity returns the authenticated user snapshot, if a session is active.
func (m *Manager) Identity() (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return Identity{}, false
	}
	return m.sess.identity, true
}

// Activity signals user activity and re-arms the inactivity watchdog.
func (m *Manager) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || m.cfg.InactivityWindow <= 0 {
		return
	}
	m.armIdleLocked(m.gen)
}

// Login authenticates and installs a new session, replacing any current one.
func (m *Manager) Login(ctx context.Context, creds Credentials) (Identity, error) {
	body := map[string]any{
		"username":    creds.Username,
		"password":    creds.Password,
		"remember_me": creds.RememberMe,
	}
	resp, err := m.postJSON(ctx, "/auth/login", body)
	if err != nil {
		return Identity{}, fmt.Errorf("client: login request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		_ = apiErrorCode(resp)
		return Identity{}, ErrInvalidCredentials
	default:
		code := apiErrorCode(resp)
		return Identity{}, fmt.Errorf("client: login failed: status %d code %q", resp.StatusCode, code)
	}

	var lw loginWire
	if err := decodeWire(resp, &lw); err != nil {
		return Identity{}, err
	}

	id := lw.User.identity()
	sess := lw.Session.session()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.sess = &sessionState{session: sess, identity: id, remember: creds.RememberMe}
	m.stopTimersLocked()
	m.scheduleRenewLocked(gen, m.renewDelay(sess.AccessExpiresAt))
	m.armIdleLocked(gen)
	m.mu.Unlock()

	if err := m.persist(sess, id); err != nil {
		m.log.Warn("client.login.persist.fail", "err", err)
	}

	m.log.Info("client.login.ok", "user_id", id.UserID, "role", id.Role)
	return id, nil
}

// Verify confirms the session against the server. A stale access token is
// transparently renewed by the transport before the 401 surfaces.
func (m *Manager) Verify(ctx context.Context) (Identity, error) {
	m.mu.Lock()
	active := m.sess != nil
	m.mu.Unlock()
	if !active {
		return Identity{}, ErrLoggedOut
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/me", nil)
	if err != nil {
		return Identity{}, err
	}
	resp, err := m.api.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("client: verify request: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = apiErrorCode(resp)
		return Identity{}, ErrSessionRejected
	}
	if resp.StatusCode != http.StatusOK {
		code := apiErrorCode(resp)
		return Identity{}, fmt.Errorf("client: verify failed: status %d code %q", resp.StatusCode, code)
	}

	var mw meWire
	if err := decodeWire(resp, &mw); err != nil {
		return Identity{}, err
	}
	id := mw.User.identity()

	m.mu.Lock()
	if m.sess != nil {
		m.sess.identity = id
	}
	m.mu.Unlock()

	return id, nil
}

// Renew exchanges the refresh token for a fresh credential pair. Concurrent
// callers share a single in-flight exchange and observe its one outcome. A
// definitive server rejection destroys the session; transient network errors
// leave it untouched.
func (m *Manager) Renew(ctx context.Context) (Session, error) {
	// The flight outlives any single caller's context so a cancelled first
	// caller cannot fail the exchange for everyone sharing it. Session state
	// is read inside the flight fn: a caller that arrives after an earlier
	// flight committed starts its exchange from the current refresh token,
	// never a retired one the rotation server would treat as reuse.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := m.renewFlight.Do("renew", func() (any, error) {
		m.mu.Lock()
		if m.sess == nil {
			m.mu.Unlock()
			return Session{}, ErrLoggedOut
		}
		gen := m.gen
		refresh := m.sess.session.RefreshToken
		remember := m.sess.remember
		m.mu.Unlock()

		if refresh == "" {
			m.forceLogout(gen, ReasonRenewalFailed, true)
			return Session{}, ErrSessionRejected
		}
		return m.renewOnce(flightCtx, gen, refresh, remember)
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

// renewOnce performs one refresh exchange and commits it if the session
// generation is unchanged.
func (m *Manager) renewOnce(ctx context.Context, gen uint64, refresh string, remember bool) (Session, error) {
	body := map[string]any{
		"refresh_token": refresh,
		"remember_me":   remember,
	}
	resp, err := m.postJSON(ctx, "/auth/refresh", body)
	if err != nil {
		m.log.Warn("client.renew.network", "err", err)
		return Session{}, fmt.Errorf("client: renew request: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		code := apiErrorCode(resp)
		m.log.Warn("client.renew.rejected", "code", code)
		m.forceLogout(gen, ReasonRenewalFailed, true)
		return Session{}, ErrSessionRejected
	}
	if resp.StatusCode != http.StatusOK {
		code := apiErrorCode(resp)
		return Session{}, fmt.Errorf("client: renew failed: status %d code %q", resp.StatusCode, code)
	}

	var rw refreshWire
	if err := decodeWire(resp, &rw); err != nil {
		return Session{}, err
	}
	sess := rw.Session.session()

	m.mu.Lock()
	if m.gen != gen || m.sess == nil {
		// Logged out while the exchange was in flight; the fresh credential
		// must not resurrect the session.
		m.mu.Unlock()
		return Session{}, ErrLoggedOut
	}
	m.sess.session = sess
	id := m.sess.identity
	m.scheduleRenewLocked(gen, m.renewDelay(sess.AccessExpiresAt))
	m.mu.Unlock()

	if err := m.persist(sess, id); err != nil {
		m.log.Warn("client.renew.persist.fail", "err", err)
	}

	m.log.Info("client.renew.ok", "access_expires_at", sess.AccessExpiresAt)
	return sess, nil
}

// Logout revokes the refresh material (best effort), clears storage, and
// raises ReasonUserInitiated. Safe to call with no active session.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return nil
	}
	refresh := m.sess.session.RefreshToken
	m.gen++
	m.sess = nil
	m.stopTimersLocked()
	m.mu.Unlock()

	if err := m.storage.Clear(); err != nil {
		m.log.Warn("client.logout.storage.fail", "err", err)
	}

	if refresh != "" {
		resp, err := m.postJSON(ctx, "/auth/logout", map[string]any{"refresh_token": refresh})
		if err != nil {
			m.log.Warn("client.logout.revoke.fail", "err", err)
		} else {
			_ = apiErrorCode(resp)
		}
	}

	m.log.Info("client.logout.ok")
	m.observers.notify(ReasonUserInitiated)
	return nil
}

// forceLogout tears the session down for a non-user reason. The generation
// guard makes it a no-op when the session already changed. clearStorage is
// false for external logouts, where the other context already cleared it.
func (m *Manager) forceLogout(gen uint64, reason LogoutReason, clearStorage bool) {
	m.mu.Lock()
	if m.gen != gen || m.sess == nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.sess = nil
	m.stopTimersLocked()
	m.mu.Unlock()

	if clearStorage {
		if err := m.storage.Clear(); err != nil {
			m.log.Warn("client.logout.storage.fail", "err", err)
		}
	}

	m.log.Info("client.logout.forced", "reason", string(reason))
	m.observers.notify(reason)
}

// ---- scheduling ----

func (m *Manager) renewDelay(accessExp time.Time) time.Duration {
	d := time.Until(accessExp) - m.cfg.RenewalLead
	if d < time.Second {
		d = time.Second
	}
	return d
}

func (m *Manager) scheduleRenewLocked(gen uint64, d time.Duration) {
	if m.closed {
		return
	}
	if m.renewTimer != nil {
		m.renewTimer.Stop()
	}
	m.renewTimer = time.AfterFunc(d, func() { m.proactiveRenew(gen) })
}

func (m *Manager) proactiveRenew(gen uint64) {
	m.mu.Lock()
	stale := m.gen != gen || m.sess == nil
	m.mu.Unlock()
	if stale {
		return
	}

	_, err := m.Renew(context.Background())
	if err == nil || err == ErrLoggedOut || err == ErrSessionRejected {
		return
	}

	// Transient failure: the session survives, try again shortly.
	m.mu.Lock()
	if m.gen == gen && m.sess != nil {
		m.scheduleRenewLocked(gen, m.cfg.RenewalRetryInterval)
	}
	m.mu.Unlock()
}

func (m *Manager) armIdleLocked(gen uint64) {
	if m.closed || m.cfg.InactivityWindow <= 0 {
		return
	}
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = time.AfterFunc(m.cfg.InactivityWindow, func() {
		m.forceLogout(gen, ReasonInactivity, true)
	})
}

func (m *Manager) stopTimersLocked() {
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

// ---- storage ----

func (m *Manager) persist(sess Session, id Identity) error {
	idJSON, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return m.storage.SetAll(map[string]string{
		StorageKeyAccessToken:  sess.AccessToken,
		StorageKeyRefreshToken: sess.RefreshToken,
		StorageKeyIdentity:     string(idJSON),
	})
}

// watchStorage polls the shared storage and forces a local logout when
// another context cleared the session.
func (m *Manager) watchStorage() {
	ticker := time.NewTicker(m.cfg.StorageWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.watchStop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		gen := m.gen
		active := m.sess != nil
		m.mu.Unlock()
		if !active {
			continue
		}

		if v, ok := m.storage.Get(StorageKeyAccessToken); !ok || v == "" {
			m.forceLogout(gen, ReasonExternalLogout, false)
		}
	}
}

// ---- http ----

func (m *Manager) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return m.raw.Do(req)
}
