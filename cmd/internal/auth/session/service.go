package session

import (
	"context"
	"strings"
	"time"
)

// Service implements the high-level session operations.
//
// It issues sessions (access + refresh), validates access tokens against both
// the token codec and the server-side session state, and performs refresh
// rotation with reuse detection.
type Service struct {
	cfg    Config
	tokens AccessTokenManager
	store  Store
}

// Issued is the result of issuing or rotating a session.
// It includes a short-lived access token and an opaque refresh token.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service with the provided configuration, store, and
// token manager.
func NewService(cfg Config, store Store, tokens AccessTokenManager) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens}
}

func (s *Service) refreshTTL(remember bool) time.Duration {
	if remember {
		return s.cfg.RefreshTTLRemember
	}
	return s.cfg.RefreshTTL
}

// IssueSession creates a new session row and returns fresh tokens.
//
// Refresh tokens are opaque random strings and must never be persisted in
// plaintext; only the hash is stored.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID, role string, remember bool) (Issued, error) {
	refreshPlain, refreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}

	refreshExp := now.Add(s.refreshTTL(remember))

	sessionID, err := s.store.Create(ctx, now, userID, role, refreshHash, refreshExp)
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(userID, sessionID, role, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// ValidateAccessToken verifies an access token and ensures the backing session
// is still active. Token-level failures (ErrTokenMalformed, ErrTokenExpired)
// pass through untouched so callers can report precise reasons.
func (s *Service) ValidateAccessToken(ctx context.Context, token string, now time.Time) (AccessClaims, error) {
	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return AccessClaims{}, err
	}

	// Server-authoritative session check to honor revocations.
	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}

	if row.UserID != claims.UserID {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		return AccessClaims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return AccessClaims{}, ErrSessionExpired
	}

	return claims, nil
}

// RotateRefresh exchanges a refresh token for a new session.
//
// Security model:
//   - The store locks the session row keyed by refresh hash.
//   - A rotated token presented again is reuse: the store revokes all sessions
//     for the user and ErrRefreshReuseDetected is surfaced.
//   - Otherwise a new session is created, the old one revoked, and the chain
//     linked via replaced_by_session_id.
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, refreshTokenPlain string, remember bool) (Issued, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	// Basic sanity bounds to avoid pathological inputs.
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return Issued{}, ErrSessionNotFound
	}

	newPlain, newHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	newExp := now.Add(s.refreshTTL(remember))

	res, err := s.store.Rotate(ctx, RotateInput{
		Now:            now,
		RefreshHash:    hashRefreshTokenHex(refreshTokenPlain),
		NewRefreshHash: newHash,
		NewExpiresAt:   newExp,
	})
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(res.Old.UserID, res.NewSessionID, res.Old.Role, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    res.NewSessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newPlain,
		RefreshExp:   newExp,
	}, nil
}

// RevokeSession revokes a single session by ID (logout from one client).
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, now, sessionID, "logout")
}

// RevokeAll revokes all sessions for a user (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	return s.store.RevokeAll(ctx, now, userID, "logout")
}

// RevokeByRefreshToken revokes the session owning the given refresh token.
// Unknown tokens are a no-op: logout must not leak token validity.
func (s *Service) RevokeByRefreshToken(ctx context.Context, now time.Time, refreshTokenPlain string) error {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return nil
	}
	err := s.store.RevokeByRefreshHash(ctx, now, hashRefreshTokenHex(refreshTokenPlain), "logout")
	if err == ErrSessionNotFound {
		return nil
	}
	return err
}

// TouchSession updates last_used_at for a session (best-effort).
func (s *Service) TouchSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Touch(ctx, now, sessionID)
}
