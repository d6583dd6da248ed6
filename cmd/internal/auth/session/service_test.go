package session

import (
	"context"
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()

	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()

	tokens, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	store := NewMemoryStore()
	return NewService(cfg, store, tokens), store
}

func TestPasetoV4_IssueAndVerify(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()

	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue("user-1", "sess-1", "agent", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.Verify(tok, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.SessionID != "sess-1" || claims.Role != "agent" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestPasetoV4_Verify_Expired(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.AccessTokenTTL = 1 * time.Minute
	cfg.ClockSkew = 0
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()

	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	issuedAt := time.Now().UTC().Add(-2 * time.Hour)
	tok, _, err := mgr.Issue("user-1", "sess-1", "agent", issuedAt)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = mgr.Verify(tok, time.Now().UTC())
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestPasetoV4_Verify_Malformed(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secret.ExportHex()

	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	_, err = mgr.Verify("v4.public.not-a-real-token", time.Now().UTC())
	if !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
}

func TestService_IssueAndValidate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.IssueSession(ctx, now, "user-1", "customer", false)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if issued.AccessToken == "" || issued.RefreshToken == "" {
		t.Fatalf("expected non-empty tokens")
	}

	claims, err := svc.ValidateAccessToken(ctx, issued.AccessToken, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.SessionID != issued.SessionID {
		t.Fatalf("session id mismatch")
	}
}

func TestService_ValidateAfterRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.IssueSession(ctx, now, "user-1", "customer", false)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if err := svc.RevokeSession(ctx, now, issued.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	_, err = svc.ValidateAccessToken(ctx, issued.AccessToken, now.Add(1*time.Second))
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestService_RotateRefresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.IssueSession(ctx, now, "user-1", "agent", false)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	rotated, err := svc.RotateRefresh(ctx, now.Add(time.Minute), issued.RefreshToken, false)
	if err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}
	if rotated.SessionID == issued.SessionID {
		t.Fatalf("expected a new session id")
	}
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	// The rotated access token still carries the original role.
	claims, err := svc.ValidateAccessToken(ctx, rotated.AccessToken, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Role != "agent" {
		t.Fatalf("expected role to survive rotation, got %q", claims.Role)
	}
}

func TestService_RotateRefresh_ReuseRevokesEverything(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.IssueSession(ctx, now, "user-1", "agent", false)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	rotated, err := svc.RotateRefresh(ctx, now.Add(time.Minute), issued.RefreshToken, false)
	if err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	// Presenting the old token again is reuse.
	_, err = svc.RotateRefresh(ctx, now.Add(2*time.Minute), issued.RefreshToken, false)
	if !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected ErrRefreshReuseDetected, got %v", err)
	}

	// Reuse revokes the whole chain, including the fresh session.
	_, err = svc.ValidateAccessToken(ctx, rotated.AccessToken, now.Add(3*time.Minute))
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after reuse, got %v", err)
	}
}

func TestService_RotateRefresh_UnknownToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RotateRefresh(context.Background(), time.Now().UTC(), "no-such-token", false)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestService_RevokeByRefreshToken_UnknownIsNoop(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.RevokeByRefreshToken(context.Background(), time.Now().UTC(), "no-such-token"); err != nil {
		t.Fatalf("expected nil for unknown token, got %v", err)
	}
}
