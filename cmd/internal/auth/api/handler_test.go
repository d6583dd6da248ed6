package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aidanwoods.dev/go-paseto"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/auth/session"
)

func newTestServer(t *testing.T) (*httptest.Server, identity.Store, *session.Service) {
	t.Helper()

	users, err := identity.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	scfg := session.DefaultConfig()
	scfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	tokens, err := session.NewPasetoV4PublicManager(scfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	sessions := session.NewService(scfg, session.NewMemoryStore(), tokens)

	cfg := Config{
		MaxBodyBytes:  1 << 20,
		LoginIPMax:    100,
		LoginIPWindow: time.Minute,
	}

	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, users, sessions)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, users, sessions
}

func seedUser(t *testing.T, users identity.Store, username, password string) identity.User {
	t.Helper()
	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{
		Username:    username,
		DisplayName: "Test User",
		Password:    password,
		Role:        identity.RoleAgent,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestLoginIssuesSession(t *testing.T) {
	srv, users, _ := newTestServer(t)
	seedUser(t, users, "alice", "correct horse battery")

	resp := postJSON(t, srv.URL+"/auth/login", map[string]any{
		"username": "alice",
		"password": "correct horse battery",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody[loginResponse](t, resp)
	if !got.Success {
		t.Fatalf("success = false, want true")
	}
	if got.Session.AccessToken == "" || got.Session.RefreshToken == "" {
		t.Fatalf("missing tokens in login response: %+v", got.Session)
	}
	if got.User.Username != "alice" {
		t.Fatalf("username = %q, want alice", got.User.Username)
	}
	if !got.Session.AccessExpiresAt.After(time.Now()) {
		t.Fatalf("access token already expired: %v", got.Session.AccessExpiresAt)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, users, _ := newTestServer(t)
	seedUser(t, users, "alice", "correct horse battery")

	resp := postJSON(t, srv.URL+"/auth/login", map[string]any{
		"username": "alice",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login status = %d, want 401", resp.StatusCode)
	}
	got := decodeBody[errorResponse](t, resp)
	if got.Success {
		t.Fatalf("success = true on failed login")
	}
	if got.Error.Code != "invalid_credentials" {
		t.Fatalf("error code = %q, want invalid_credentials", got.Error.Code)
	}
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/auth/login", map[string]any{
		"username": "alice", "password": "x", "bogus": true,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("login status = %d, want 400", resp.StatusCode)
	}
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	srv, users, _ := newTestServer(t)
	seedUser(t, users, "alice", "correct horse battery")

	login := decodeBody[loginResponse](t, postJSON(t, srv.URL+"/auth/login", map[string]any{
		"username": "alice", "password": "correct horse battery",
	}))
	first := login.Session.RefreshToken

	resp := postJSON(t, srv.URL+"/auth/refresh", map[string]any{"refresh_token": first})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", resp.StatusCode)
	}
	rotated := decodeBody[refreshResponse](t, resp)
	if rotated.Session.RefreshToken == first {
		t.Fatalf("refresh token not rotated")
	}

	// Replaying the consumed token must trip reuse detection.
	resp = postJSON(t, srv.URL+"/auth/refresh", map[string]any{"refresh_token": first})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", resp.StatusCode)
	}
	got := decodeBody[errorResponse](t, resp)
	if got.Error.Code != "refresh_reuse" {
		t.Fatalf("error code = %q, want refresh_reuse", got.Error.Code)
	}

	// Reuse detection revokes the whole family, including the rotated token.
	resp = postJSON(t, srv.URL+"/auth/refresh", map[string]any{"refresh_token": rotated.Session.RefreshToken})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-reuse refresh status = %d, want 401", resp.StatusCode)
	}
}

func TestMeRequiresValidToken(t *testing.T) {
	srv, users, _ := newTestServer(t)
	seedUser(t, users, "alice", "correct horse battery")

	login := decodeBody[loginResponse](t, postJSON(t, srv.URL+"/auth/login", map[string]any{
		"username": "alice", "password": "correct horse battery",
	}))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Session.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /me: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/me status = %d, want 200", resp.StatusCode)
	}
	me := decodeBody[meResponse](t, resp)
	if me.User.Username != "alice" {
		t.Fatalf("/me username = %q, want alice", me.User.Username)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /me: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("/me with bad token status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	srv, users, _ := newTestServer(t)
	seedUser(t, users, "alice", "correct horse battery")

	login := decodeBody[loginResponse](t, postJSON(t, srv.URL+"/auth/login", map[string]any{
		"username": "alice", "password": "correct horse battery",
	}))

	resp := postJSON(t, srv.URL+"/auth/logout", map[string]any{"refresh_token": login.Session.RefreshToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/auth/refresh", map[string]any{"refresh_token": login.Session.RefreshToken})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutUnknownTokenIsIdempotent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/auth/logout", map[string]any{"refresh_token": "never-issued"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout of unknown token status = %d, want 200", resp.StatusCode)
	}
}

func TestLoginThrottleBlocksFlood(t *testing.T) {
	th := newIPThrottle(3, time.Minute)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !th.Allow("10.0.0.1", now) {
			t.Fatalf("attempt %d blocked, want allowed", i+1)
		}
	}
	if th.Allow("10.0.0.1", now) {
		t.Fatalf("4th attempt allowed, want blocked")
	}
	// Other IPs keep their own budget.
	if !th.Allow("10.0.0.2", now) {
		t.Fatalf("fresh ip blocked")
	}
	// The window slides: old attempts expire.
	if !th.Allow("10.0.0.1", now.Add(2*time.Minute)) {
		t.Fatalf("attempt after window blocked")
	}
}
