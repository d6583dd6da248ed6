package signup

import (
	"context"
	"time"
)

// CreateRecord is a normalized signup-code insert payload.
type CreateRecord struct {
	ID         string
	CodeHash   string
	Role       string
	Department *string
	CreatedBy  *string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	MaxUses    int
	UsedCount  int
	RevokedAt  *time.Time
	Note       *string
	RedeemedAt *time.Time
	RedeemedBy *string
}

// RedeemRecord describes a code redemption.
type RedeemRecord struct {
	CodeHash   string
	RedeemedBy *string
	Now        time.Time
}

// Store is the persistence boundary for signup codes.
//
// Redeem must be atomic with respect to the use counter: concurrent
// redemptions of a code with max_uses=N succeed exactly N times.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Code, error)
	GetByCodeHash(ctx context.Context, codeHash string) (Code, error)
	Redeem(ctx context.Context, in RedeemRecord) (Code, error)
}
