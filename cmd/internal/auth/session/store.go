package session

import (
	"context"
	"time"
)

// Row mirrors a sessions row used by the session subsystem.
type Row struct {
	ID                  string
	UserID              string
	Role                string
	RefreshTokenHash    string
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
}

// RotateInput describes an atomic refresh rotation.
type RotateInput struct {
	Now            time.Time
	RefreshHash    string
	NewRefreshHash string
	NewExpiresAt   time.Time
}

// RotateResult carries the old row (for token re-issue) and the new session id.
type RotateResult struct {
	Old          Row
	NewSessionID string
}

// Store abstracts persistence for session state.
//
// Rotate must be atomic: there is no window where both the old and the new
// refresh token are usable. On reuse of an already-rotated token the store
// revokes ALL sessions for the user and returns ErrRefreshReuseDetected.
type Store interface {
	// Create creates a new session row and returns its id.
	Create(ctx context.Context, now time.Time, userID, role, refreshHash string, expiresAt time.Time) (sessionID string, err error)

	// GetByID loads a session row by ID.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Rotate atomically exchanges an active refresh token for a new session.
	// Errors: ErrSessionNotFound, ErrSessionExpired, ErrSessionRevoked,
	// ErrRefreshReuseDetected.
	Rotate(ctx context.Context, in RotateInput) (RotateResult, error)

	// Touch updates last_used_at for a session (best-effort).
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke revokes a single session.
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error

	// RevokeByRefreshHash revokes the session owning the given refresh hash.
	// Returns ErrSessionNotFound when no session matches.
	RevokeByRefreshHash(ctx context.Context, now time.Time, refreshHash string, reason string) error

	// RevokeAll revokes all sessions for a user.
	RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error
}
