package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAuthServer simulates the server side of the auth contract: login issues
// numbered token pairs, refresh rotates them, and /data requires the current
// access token.
type fakeAuthServer struct {
	srv *httptest.Server

	mu           sync.Mutex
	seq          int
	accessToken  string
	refreshToken string
	revoked      bool

	refreshCalls atomic.Int64
	dataCalls    atomic.Int64

	// refreshGate, when set, blocks refresh handling until released.
	refreshGate chan struct{}
	// rejectRefresh forces 401 on every refresh.
	rejectRefresh atomic.Bool
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", f.handleLogin)
	mux.HandleFunc("/auth/refresh", f.handleRefresh)
	mux.HandleFunc("/auth/logout", f.handleLogout)
	mux.HandleFunc("/me", f.handleMe)
	mux.HandleFunc("/data", f.handleData)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuthServer) issueLocked() map[string]any {
	f.seq++
	f.accessToken = "access-" + itoa(f.seq)
	f.refreshToken = "refresh-" + itoa(f.seq)
	f.revoked = false
	return map[string]any{
		"session_id":         "sess-1",
		"access_token":       f.accessToken,
		"access_expires_at":  time.Now().Add(time.Hour).UTC(),
		"refresh_token":      f.refreshToken,
		"refresh_expires_at": time.Now().Add(24 * time.Hour).UTC(),
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (f *fakeAuthServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Username != "alice" || req.Password != "pw" {
		writeFakeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	f.mu.Lock()
	sess := f.issueLocked()
	f.mu.Unlock()

	writeFakeJSON(w, map[string]any{
		"success": true,
		"user": map[string]any{
			"id": "u1", "username": "alice", "display_name": "Alice", "role": "agent",
		},
		"session": sess,
	})
}

func (f *fakeAuthServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)

	if gate := f.refreshGate; gate != nil {
		<-gate
	}
	if f.rejectRefresh.Load() {
		writeFakeError(w, http.StatusUnauthorized, "invalid_refresh")
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked || req.RefreshToken != f.refreshToken {
		writeFakeError(w, http.StatusUnauthorized, "invalid_refresh")
		return
	}
	writeFakeJSON(w, map[string]any{"success": true, "session": f.issueLocked()})
}

func (f *fakeAuthServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.revoked = true
	f.mu.Unlock()
	writeFakeJSON(w, map[string]any{"success": true})
}

func (f *fakeAuthServer) handleMe(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		writeFakeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeFakeJSON(w, map[string]any{
		"success": true,
		"user": map[string]any{
			"id": "u1", "username": "alice", "display_name": "Alice", "role": "agent",
		},
	})
}

func (f *fakeAuthServer) handleData(w http.ResponseWriter, r *http.Request) {
	f.dataCalls.Add(1)
	if !f.authorized(r) {
		writeFakeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeFakeJSON(w, map[string]any{"success": true})
}

func (f *fakeAuthServer) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessToken != "" && r.Header.Get("Authorization") == "Bearer "+f.accessToken
}

// expireAccess invalidates the current access token without touching the
// refresh token, as a server-side expiry would.
func (f *fakeAuthServer) expireAccess() {
	f.mu.Lock()
	f.accessToken = "rotated-away"
	f.mu.Unlock()
}

func writeFakeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeFakeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]any{"code": code, "message": code},
	})
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.StorageWatchInterval = 0
	cfg.InactivityWindow = 0
	return cfg
}

func newTestManager(t *testing.T, f *fakeAuthServer, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, NewMemoryStorage(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func login(t *testing.T, m *Manager) Identity {
	t.Helper()
	id, err := m.Login(context.Background(), Credentials{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return id
}

func TestLoginStoresSession(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))

	id := login(t, m)
	if id.Username != "alice" || id.Role != "agent" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	tok, ok := m.AccessToken()
	if !ok || tok == "" {
		t.Fatalf("no access token after login")
	}
	if v, ok := m.storage.Get(StorageKeyAccessToken); !ok || v != tok {
		t.Fatalf("storage access token = %q, want %q", v, tok)
	}
	if _, ok := m.storage.Get(StorageKeyIdentity); !ok {
		t.Fatalf("identity not persisted")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))

	_, err := m.Login(context.Background(), Credentials{Username: "alice", Password: "nope"})
	if err != ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if _, ok := m.AccessToken(); ok {
		t.Fatalf("access token present after failed login")
	}
}

func TestConcurrentRenewalsShareOneFlight(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))
	login(t, m)

	gate := make(chan struct{})
	f.refreshGate = gate

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = m.Renew(context.Background())
		}(i)
	}

	// Let all callers pile onto the in-flight exchange, then release it.
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := f.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestRenewalsAcrossRotationsNeverReplayRetiredToken(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))
	login(t, m)

	// The fake server treats any non-current refresh token as reuse and
	// rejects it, which would tear the session down. Waves of renewals,
	// some racing a just-committed rotation, must only ever exchange the
	// token that rotation installed.
	var forced atomic.Bool
	m.OnLogout(func(LogoutReason) { forced.Store(true) })

	const rounds = 25
	for i := 0; i < rounds; i++ {
		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := m.Renew(context.Background()); err != nil {
					t.Errorf("Renew: %v", err)
				}
			}()
		}
		wg.Wait()
	}

	if forced.Load() {
		t.Fatalf("a renewal replayed a retired refresh token and destroyed the session")
	}
	if _, ok := m.AccessToken(); !ok {
		t.Fatalf("no access token after repeated rotations")
	}
}

func TestProactiveRenewalFiresWithoutTraffic(t *testing.T) {
	f := newFakeAuthServer(t)
	cfg := testConfig(f.srv.URL)
	// A lead longer than the token lifetime clamps the renewal delay to its
	// one-second floor, so the timer fires quickly.
	cfg.RenewalLead = 2 * time.Hour
	m := newTestManager(t, f, cfg)
	login(t, m)

	before, _ := m.AccessToken()

	deadline := time.Now().Add(3 * time.Second)
	for f.refreshCalls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("proactive renewal never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The rotation was driven entirely by the timer.
	if got := f.dataCalls.Load(); got != 0 {
		t.Fatalf("data calls = %d, want 0", got)
	}
	waitRotated := time.Now().Add(time.Second)
	for {
		after, ok := m.AccessToken()
		if ok && after != before {
			break
		}
		if time.Now().After(waitRotated) {
			t.Fatalf("access token not rotated by proactive renewal")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestTransportRenewsAndRetriesOnce(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))
	login(t, m)

	f.expireAccess()

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/data", nil)
	resp, err := m.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 after transparent renew", resp.StatusCode)
	}
	if got := f.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if got := f.dataCalls.Load(); got != 2 {
		t.Fatalf("data calls = %d, want 2 (401 then retry)", got)
	}
}

func TestTransportDoesNotRenewForAuthEndpoints(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))
	login(t, m)

	// A rejected refresh through the decorated client must surface the 401
	// without recursing into another renewal.
	f.rejectRefresh.Store(true)
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/auth/refresh", nil)
	resp, err := m.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := f.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want exactly the direct one", got)
	}
}

func TestRenewalRejectionDestroysSession(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))
	login(t, m)

	var gotReason LogoutReason
	done := make(chan struct{})
	m.OnLogout(func(r LogoutReason) {
		gotReason = r
		close(done)
	})

	f.rejectRefresh.Store(true)
	if _, err := m.Renew(context.Background()); err != ErrSessionRejected {
		t.Fatalf("err = %v, want ErrSessionRejected", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("logout observer not notified")
	}
	if gotReason != ReasonRenewalFailed {
		t.Fatalf("reason = %q, want %q", gotReason, ReasonRenewalFailed)
	}
	if _, ok := m.AccessToken(); ok {
		t.Fatalf("access token survived a rejected renewal")
	}
	if _, ok := m.storage.Get(StorageKeyAccessToken); ok {
		t.Fatalf("storage not cleared after rejected renewal")
	}
}

func TestRenewalAfterLogoutDoesNotResurrect(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))
	login(t, m)

	gate := make(chan struct{})
	f.refreshGate = gate

	renewErr := make(chan error, 1)
	go func() {
		_, err := m.Renew(context.Background())
		renewErr <- err
	}()

	// Let the exchange reach the server, then log out underneath it.
	time.Sleep(100 * time.Millisecond)
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	// Un-revoke so the gated exchange completes with a fresh credential pair;
	// the generation guard alone must keep it from being committed.
	f.mu.Lock()
	f.revoked = false
	f.mu.Unlock()
	close(gate)

	if err := <-renewErr; err != ErrLoggedOut {
		t.Fatalf("renew err = %v, want ErrLoggedOut", err)
	}
	if _, ok := m.AccessToken(); ok {
		t.Fatalf("session resurrected by late renewal")
	}
	if _, ok := m.storage.Get(StorageKeyAccessToken); ok {
		t.Fatalf("storage repopulated by late renewal")
	}
}

func TestLogoutClearsAndNotifies(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))
	login(t, m)

	var gotReason LogoutReason
	m.OnLogout(func(r LogoutReason) { gotReason = r })

	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if gotReason != ReasonUserInitiated {
		t.Fatalf("reason = %q, want %q", gotReason, ReasonUserInitiated)
	}
	if _, ok := m.AccessToken(); ok {
		t.Fatalf("access token present after logout")
	}
	if _, ok := m.storage.Get(StorageKeyRefreshToken); ok {
		t.Fatalf("refresh token persisted after logout")
	}

	// The refresh material was revoked server side.
	f.mu.Lock()
	revoked := f.revoked
	f.mu.Unlock()
	if !revoked {
		t.Fatalf("server refresh token not revoked")
	}

	// Idempotent.
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
}

func TestObserverCancelStopsNotifications(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))
	login(t, m)

	calls := 0
	cancel := m.OnLogout(func(LogoutReason) { calls++ })
	cancel()

	_ = m.Logout(context.Background())
	if calls != 0 {
		t.Fatalf("cancelled observer fired %d times", calls)
	}
}

func TestExternalLogoutPropagatesAcrossStorage(t *testing.T) {
	f := newFakeAuthServer(t)

	shared := NewMemoryStorage()
	cfg := testConfig(f.srv.URL)
	cfg.StorageWatchInterval = 10 * time.Millisecond

	a, err := NewManager(cfg, shared, nil)
	if err != nil {
		t.Fatalf("NewManager a: %v", err)
	}
	t.Cleanup(a.Close)
	login(t, a)

	// Second context adopts the persisted session.
	b, err := NewManager(cfg, shared, nil)
	if err != nil {
		t.Fatalf("NewManager b: %v", err)
	}
	t.Cleanup(b.Close)
	if _, ok := b.AccessToken(); !ok {
		t.Fatalf("second context did not adopt persisted session")
	}

	reasons := make(chan LogoutReason, 1)
	b.OnLogout(func(r LogoutReason) { reasons <- r })

	// Let the adopted session's immediate re-validation settle before the
	// first context logs out, so its commit cannot race the storage clear.
	time.Sleep(200 * time.Millisecond)

	if err := a.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	select {
	case r := <-reasons:
		if r != ReasonExternalLogout {
			t.Fatalf("reason = %q, want %q", r, ReasonExternalLogout)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("external logout not observed")
	}
	if _, ok := b.AccessToken(); ok {
		t.Fatalf("second context still holds credentials")
	}
}

func TestInactivityForcesLogout(t *testing.T) {
	f := newFakeAuthServer(t)
	cfg := testConfig(f.srv.URL)
	cfg.InactivityWindow = 150 * time.Millisecond
	m := newTestManager(t, f, cfg)
	login(t, m)

	reasons := make(chan LogoutReason, 1)
	m.OnLogout(func(r LogoutReason) { reasons <- r })

	// Activity within the window keeps the session alive.
	time.Sleep(80 * time.Millisecond)
	m.Activity()
	time.Sleep(80 * time.Millisecond)
	if _, ok := m.AccessToken(); !ok {
		t.Fatalf("session died despite activity")
	}

	select {
	case r := <-reasons:
		if r != ReasonInactivity {
			t.Fatalf("reason = %q, want %q", r, ReasonInactivity)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("inactivity logout never fired")
	}
}

func TestVerifyReturnsIdentity(t *testing.T) {
	f := newFakeAuthServer(t)
	m := newTestManager(t, f, testConfig(f.srv.URL))
	login(t, m)

	id, err := m.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Username != "alice" {
		t.Fatalf("verify username = %q, want alice", id.Username)
	}

	// A stale access token is renewed transparently before /me succeeds.
	f.expireAccess()
	if _, err := m.Verify(context.Background()); err != nil {
		t.Fatalf("Verify after expiry: %v", err)
	}
}
