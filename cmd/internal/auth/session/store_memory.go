package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity/ids"
)

// MemoryStore is an in-memory Store for dev mode and tests.
// A single mutex serializes rotation, which gives it the same atomicity
// guarantee the Postgres store gets from row locking.
type MemoryStore struct {
	mu            sync.Mutex
	rows          map[string]*Row // session id -> row
	byRefreshHash map[string]string
}

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:          make(map[string]*Row),
		byRefreshHash: make(map[string]string),
	}
}

// Create creates a new session row.
func (s *MemoryStore) Create(ctx context.Context, now time.Time, userID, role, refreshHash string, expiresAt time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[id] = &Row{
		ID:               id,
		UserID:           userID,
		Role:             role,
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
	}
	s.byRefreshHash[refreshHash] = id
	return id, nil
}

// GetByID loads a session row by ID.
func (s *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[strings.TrimSpace(sessionID)]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *row, nil
}

// Rotate atomically exchanges an active refresh token for a new session.
func (s *MemoryStore) Rotate(ctx context.Context, in RotateInput) (RotateResult, error) {
	if err := ctx.Err(); err != nil {
		return RotateResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRefreshHash[in.RefreshHash]
	if !ok {
		return RotateResult{}, ErrSessionNotFound
	}
	row := s.rows[id]

	if !row.ExpiresAt.After(in.Now) {
		return RotateResult{}, ErrSessionExpired
	}

	// Reuse detection: a rotated refresh token presented again.
	if row.RevokedAt != nil && row.ReplacedBySessionID != nil {
		s.revokeAllLocked(in.Now, row.UserID, "refresh_reuse")
		return RotateResult{}, ErrRefreshReuseDetected
	}
	if row.RevokedAt != nil {
		return RotateResult{}, ErrSessionRevoked
	}

	newID, err := ids.NewULID(in.Now)
	if err != nil {
		return RotateResult{}, err
	}

	s.rows[newID] = &Row{
		ID:               newID,
		UserID:           row.UserID,
		Role:             row.Role,
		RefreshTokenHash: in.NewRefreshHash,
		CreatedAt:        in.Now,
		ExpiresAt:        in.NewExpiresAt,
	}
	s.byRefreshHash[in.NewRefreshHash] = newID

	now := in.Now
	row.RevokedAt = &now
	row.ReplacedBySessionID = &newID
	row.LastUsedAt = &now

	return RotateResult{Old: *row, NewSessionID: newID}, nil
}

// Touch updates last_used_at for a session.
func (s *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.rows[sessionID]; ok {
		row.LastUsedAt = &now
	}
	return nil
}

// Revoke revokes a single session.
func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if row.RevokedAt == nil {
		row.RevokedAt = &now
	}
	return nil
}

// RevokeByRefreshHash revokes the session owning the given refresh hash.
func (s *MemoryStore) RevokeByRefreshHash(ctx context.Context, now time.Time, refreshHash string, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRefreshHash[refreshHash]
	if !ok {
		return ErrSessionNotFound
	}
	row := s.rows[id]
	if row.RevokedAt == nil {
		row.RevokedAt = &now
	}
	return nil
}

// RevokeAll revokes all sessions for a user.
func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeAllLocked(now, userID, reason)
	return nil
}

func (s *MemoryStore) revokeAllLocked(now time.Time, userID string, _ string) {
	for _, row := range s.rows {
		if row.UserID == userID && row.RevokedAt == nil {
			t := now
			row.RevokedAt = &t
		}
	}
}

var _ Store = (*MemoryStore)(nil)
