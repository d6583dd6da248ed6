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
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/signup"
)

func newSignupTestServer(t *testing.T) (*httptest.Server, identity.Store, *signup.Service) {
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

	codes, err := signup.NewService(signup.NewMemoryStore())
	if err != nil {
		t.Fatalf("signup.NewService: %v", err)
	}

	cfg := Config{
		MaxBodyBytes:  1 << 20,
		LoginIPMax:    100,
		LoginIPWindow: time.Minute,
	}
	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, users, sessions)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	h.EnableSignup(codes)

	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, users, codes
}

func seedAdmin(t *testing.T, users identity.Store, username, password string) identity.User {
	t.Helper()
	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{
		Username:    username,
		DisplayName: "Admin",
		Password:    password,
		Role:        identity.RoleAdmin,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func loginFor(t *testing.T, srv *httptest.Server, username, password string) loginResponse {
	t.Helper()
	resp := postJSON(t, srv.URL+"/auth/login", map[string]any{
		"username": username,
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	return decodeBody[loginResponse](t, resp)
}

func postJSONBearer(t *testing.T, url, bearer string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestMintAndRegisterFlow(t *testing.T) {
	srv, users, _ := newSignupTestServer(t)
	seedAdmin(t, users, "root", "very secret passphrase")
	admin := loginFor(t, srv, "root", "very secret passphrase")

	resp := postJSONBearer(t, srv.URL+"/auth/signup-codes", admin.Session.AccessToken, map[string]any{
		"role":       "agent",
		"department": "billing",
		"ttl_hours":  24,
		"max_uses":   1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("mint status = %d, want 201", resp.StatusCode)
	}
	minted := decodeBody[mintSignupCodeResponse](t, resp)
	if minted.Code == "" || minted.Role != "agent" {
		t.Fatalf("mint response: %+v", minted)
	}

	resp = postJSON(t, srv.URL+"/auth/register", map[string]any{
		"signup_code":  minted.Code,
		"username":     "bob",
		"password":     "another good passphrase",
		"display_name": "Bob",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	got := decodeBody[loginResponse](t, resp)
	if !got.Success || got.User.Role != "agent" || got.User.Department != "billing" {
		t.Fatalf("register response: %+v", got.User)
	}
	if got.Session.AccessToken == "" || got.Session.RefreshToken == "" {
		t.Fatal("register did not issue a session")
	}

	// Single-use code is spent.
	resp = postJSON(t, srv.URL+"/auth/register", map[string]any{
		"signup_code": minted.Code,
		"username":    "carol",
		"password":    "yet another passphrase",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("reused code status = %d, want 403", resp.StatusCode)
	}
	errResp := decodeBody[errorResponse](t, resp)
	if errResp.Error.Code != "invalid_signup_code" {
		t.Fatalf("error code = %q", errResp.Error.Code)
	}
}

func TestMintRequiresAdmin(t *testing.T) {
	srv, users, _ := newSignupTestServer(t)
	seedUser(t, users, "agent1", "agent passphrase one")
	agent := loginFor(t, srv, "agent1", "agent passphrase one")

	resp := postJSONBearer(t, srv.URL+"/auth/signup-codes", agent.Session.AccessToken, map[string]any{
		"role": "agent",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("agent mint status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/auth/signup-codes", map[string]any{"role": "agent"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous mint status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterRejectsUnknownCode(t *testing.T) {
	srv, _, _ := newSignupTestServer(t)

	resp := postJSON(t, srv.URL+"/auth/register", map[string]any{
		"signup_code": "not-a-real-code",
		"username":    "mallory",
		"password":    "whatever passphrase",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	errResp := decodeBody[errorResponse](t, resp)
	if errResp.Error.Code != "invalid_signup_code" {
		t.Fatalf("error code = %q", errResp.Error.Code)
	}
}

func TestRegisterDuplicateUsernameKeepsCode(t *testing.T) {
	srv, users, codes := newSignupTestServer(t)
	seedUser(t, users, "taken", "existing passphrase ok")

	_, plain, err := codes.MintCode(context.Background(), signup.MintInput{
		Role:    identity.RoleAgent,
		TTL:     time.Hour,
		MaxUses: 1,
		Now:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	resp := postJSON(t, srv.URL+"/auth/register", map[string]any{
		"signup_code": plain,
		"username":    "taken",
		"password":    "colliding passphrase aa",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	// The failed registration must not burn the code.
	resp = postJSON(t, srv.URL+"/auth/register", map[string]any{
		"signup_code": plain,
		"username":    "fresh",
		"password":    "fresh passphrase okay",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("retry status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()
}
