package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity/ids"
)

// PostgresStore implements Store using PostgreSQL (helpdesk.sessions).
// The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID, role, refreshHash string, expiresAt time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO helpdesk.sessions (
			id, user_id, role, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, revocation_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $5, $6, NULL,
			NULL, NULL
		)
	`, id, userID, role, refreshHash, now, expiresAt)
	if err != nil {
		return "", err
	}

	return id, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	var row Row

	err := s.pool.QueryRow(ctx, `
		SELECT
			id, user_id, role, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id
		FROM helpdesk.sessions
		WHERE id = $1
	`, sessionID).Scan(
		&row.ID,
		&row.UserID,
		&row.Role,
		&row.RefreshTokenHash,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}

	return row, nil
}

// Rotate runs the whole rotation in one transaction with the session row
// locked by refresh hash, so the old and new token are never valid together.
func (s *PostgresStore) Rotate(ctx context.Context, in RotateInput) (RotateResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RotateResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := getByRefreshHashForUpdateTx(ctx, tx, in.RefreshHash)
	if err != nil {
		return RotateResult{}, err
	}

	if !row.ExpiresAt.After(in.Now) {
		return RotateResult{}, ErrSessionExpired
	}

	// Reuse detection: a rotated refresh token presented again.
	// Revoking every session for the user is deliberate; this is an incident.
	if row.RevokedAt != nil && row.ReplacedBySessionID != nil {
		if err := revokeAllTx(ctx, tx, in.Now, row.UserID); err != nil {
			return RotateResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return RotateResult{}, err
		}
		return RotateResult{}, ErrRefreshReuseDetected
	}

	if row.RevokedAt != nil {
		return RotateResult{}, ErrSessionRevoked
	}

	newID, err := createTx(ctx, tx, in.Now, row.UserID, row.Role, in.NewRefreshHash, in.NewExpiresAt)
	if err != nil {
		return RotateResult{}, err
	}

	if err := markRotatedTx(ctx, tx, in.Now, row.ID, newID); err != nil {
		return RotateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RotateResult{}, err
	}

	return RotateResult{Old: row, NewSessionID: newID}, nil
}

// Touch updates last_used_at for a session.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE helpdesk.sessions
		SET last_used_at = $2
		WHERE id = $1
	`, sessionID, now)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE helpdesk.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

// RevokeByRefreshHash revokes the session owning the given refresh hash.
func (s *PostgresStore) RevokeByRefreshHash(ctx context.Context, now time.Time, refreshHash string, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE helpdesk.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE refresh_token_hash = $1
	`, refreshHash, now, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAll revokes all sessions for a user (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE helpdesk.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE user_id = $1
	`, userID, now, reason)
	return err
}

var _ Store = (*PostgresStore)(nil)
