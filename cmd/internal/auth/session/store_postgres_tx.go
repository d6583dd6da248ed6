package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity/ids"
)

func getByRefreshHashForUpdateTx(ctx context.Context, tx pgx.Tx, refreshHash string) (Row, error) {
	var row Row

	err := tx.QueryRow(ctx, `
		SELECT
			id, user_id, role, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id
		FROM helpdesk.sessions
		WHERE refresh_token_hash = $1
		FOR UPDATE
	`, refreshHash).Scan(
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

func createTx(ctx context.Context, tx pgx.Tx, now time.Time, userID, role, refreshHash string, expiresAt time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(ctx, `
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

func markRotatedTx(ctx context.Context, tx pgx.Tx, now time.Time, oldID string, newID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE helpdesk.sessions
		SET
			last_used_at = $2,
			revoked_at = $2,
			replaced_by_session_id = $3,
			revocation_reason = 'rotation'
		WHERE id = $1
	`, oldID, now, newID)
	return err
}

func revokeAllTx(ctx context.Context, tx pgx.Tx, now time.Time, userID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE helpdesk.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, 'reuse_detected')
		WHERE user_id = $1
	`, userID, now)
	return err
}
