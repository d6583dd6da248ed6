package signup

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists signup codes in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "helpdesk").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "helpdesk"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// Create inserts a new signup-code record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Code, error) {
	if s == nil || s.pool == nil {
		return Code{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.CodeHash) == "" || strings.TrimSpace(in.Role) == "" {
		return Code{}, ErrInvalidInput
	}
	if in.MaxUses <= 0 {
		return Code{}, ErrInvalidInput
	}

	codes := pgIdent(s.schema, "signup_codes")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+codes+` (
		     id, code_hash, role, department, created_by, created_at, expires_at,
		     max_uses, used_count, revoked_at, note, redeemed_at, redeemed_by
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		in.ID,
		in.CodeHash,
		in.Role,
		in.Department,
		in.CreatedBy,
		in.CreatedAt,
		in.ExpiresAt,
		in.MaxUses,
		in.UsedCount,
		in.RevokedAt,
		in.Note,
		in.RedeemedAt,
		in.RedeemedBy,
	)
	if err != nil {
		return Code{}, err
	}
	return recordToCode(in), nil
}

// GetByCodeHash fetches a signup code by its hash.
func (s *PostgresStore) GetByCodeHash(ctx context.Context, codeHash string) (Code, error) {
	if s == nil || s.pool == nil {
		return Code{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	codeHash = strings.TrimSpace(codeHash)
	if codeHash == "" {
		return Code{}, ErrInvalidInput
	}

	codes := pgIdent(s.schema, "signup_codes")
	var out Code
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, role, department, created_by, created_at, expires_at,
		        max_uses, used_count, revoked_at, note, redeemed_at, redeemed_by
		   FROM `+codes+`
		  WHERE code_hash = $1`,
		codeHash,
	).Scan(
		&out.ID,
		&role,
		&out.Department,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.MaxUses,
		&out.UsedCount,
		&out.RevokedAt,
		&out.Note,
		&out.RedeemedAt,
		&out.RedeemedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrNotFound
		}
		return Code{}, err
	}
	out.Role = identity.Role(role)
	return out, nil
}

// Redeem increments used_count and records the last redemption. The guarded
// UPDATE makes concurrent redemptions of a max_uses=N code succeed exactly
// N times.
func (s *PostgresStore) Redeem(ctx context.Context, in RedeemRecord) (Code, error) {
	if s == nil || s.pool == nil {
		return Code{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if strings.TrimSpace(in.CodeHash) == "" || in.RedeemedBy == nil {
		return Code{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	codes := pgIdent(s.schema, "signup_codes")
	var out Code
	var role string
	err := s.pool.QueryRow(ctx,
		`UPDATE `+codes+`
		    SET used_count = used_count + 1,
		        redeemed_at = $1,
		        redeemed_by = $2
		  WHERE code_hash = $3
		    AND revoked_at IS NULL
		    AND expires_at > $1
		    AND used_count < max_uses
		RETURNING id, role, department, created_by, created_at, expires_at,
		          max_uses, used_count, revoked_at, note, redeemed_at, redeemed_by`,
		in.Now,
		in.RedeemedBy,
		in.CodeHash,
	).Scan(
		&out.ID,
		&role,
		&out.Department,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.MaxUses,
		&out.UsedCount,
		&out.RevokedAt,
		&out.Note,
		&out.RedeemedAt,
		&out.RedeemedBy,
	)
	if err == nil {
		out.Role = identity.Role(role)
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Code{}, err
	}

	// Distinguish not-found vs not-active.
	if _, selErr := s.GetByCodeHash(ctx, in.CodeHash); selErr != nil {
		if errors.Is(selErr, ErrNotFound) {
			return Code{}, ErrNotFound
		}
		return Code{}, selErr
	}
	return Code{}, ErrNotActive
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
