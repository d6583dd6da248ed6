package signup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Code
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*Code)}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.CodeHash) == "" {
		return Code{}, ErrInvalidInput
	}
	if in.MaxUses <= 0 {
		return Code{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[in.CodeHash]; exists {
		return Code{}, ErrInvalidInput
	}
	code := recordToCode(in)
	s.byHash[in.CodeHash] = &code
	return code, nil
}

func (s *MemoryStore) GetByCodeHash(ctx context.Context, codeHash string) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	codeHash = strings.TrimSpace(codeHash)
	if codeHash == "" {
		return Code{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.byHash[codeHash]
	if !ok {
		return Code{}, ErrNotFound
	}
	return *code, nil
}

func (s *MemoryStore) Redeem(ctx context.Context, in RedeemRecord) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	if strings.TrimSpace(in.CodeHash) == "" || in.RedeemedBy == nil {
		return Code{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.byHash[in.CodeHash]
	if !ok {
		return Code{}, ErrNotFound
	}
	if code.RevokedAt != nil || !code.ExpiresAt.After(in.Now) || code.UsedCount >= code.MaxUses {
		return Code{}, ErrNotActive
	}

	code.UsedCount++
	redeemedAt := in.Now
	code.RedeemedAt = &redeemedAt
	code.RedeemedBy = in.RedeemedBy
	return *code, nil
}

// Revoke marks the code with the given hash unusable from at onward.
func (s *MemoryStore) Revoke(codeHash string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byHash[codeHash]; ok {
		c.RevokedAt = &at
	}
}

func recordToCode(in CreateRecord) Code {
	return Code{
		ID:         in.ID,
		Role:       identity.Role(in.Role),
		Department: in.Department,
		CreatedBy:  in.CreatedBy,
		CreatedAt:  in.CreatedAt,
		ExpiresAt:  in.ExpiresAt,
		MaxUses:    in.MaxUses,
		UsedCount:  in.UsedCount,
		RevokedAt:  in.RevokedAt,
		Note:       in.Note,
		RedeemedAt: in.RedeemedAt,
		RedeemedBy: in.RedeemedBy,
	}
}
