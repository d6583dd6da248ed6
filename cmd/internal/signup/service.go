package signup

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity/ids"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/security/token"
)

const defaultCodeBytes = 32

// Code represents a signup code row. Redeeming a valid code registers a new
// account with the role and department baked into the code, so onboarding a
// support agent never requires admin credentials at registration time.
type Code struct {
	ID         string
	Role       identity.Role
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

// MintInput describes signup-code creation.
type MintInput struct {
	Role       identity.Role
	Department *string
	CreatedBy  *string
	TTL        time.Duration
	MaxUses    int
	Note       *string
	Now        time.Time
}

// RedeemInput describes signup-code redemption.
type RedeemInput struct {
	Code       string
	RedeemedBy *string
	Now        time.Time
}

// Service manages signup-code minting, validation and redemption.
type Service struct {
	store     Store
	codeBytes int
}

// Option configures the Service.
type Option func(*Service) error

// WithCodeBytes sets the length of generated signup codes in bytes.
func WithCodeBytes(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return ErrInvalidInput
		}
		s.codeBytes = n
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, codeBytes: defaultCodeBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MintCode creates a new signup code and returns it plus the plain code.
// Only the hash is persisted; the plain code exists once, in the response
// to whoever minted it.
func (s *Service) MintCode(ctx context.Context, in MintInput) (Code, string, error) {
	if s == nil || s.store == nil {
		return Code{}, "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Code{}, "", err
	}
	if !validRole(in.Role) {
		return Code{}, "", ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	maxUses := in.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	note := trimPtr(in.Note)
	if note != nil && len(*note) > 512 {
		return Code{}, "", ErrInvalidInput
	}

	plain, err := newOpaqueCode(s.codeBytes)
	if err != nil {
		return Code{}, "", err
	}
	codeHash := token.HashRefreshTokenHex(plain)

	codeID, err := ids.NewULID(now)
	if err != nil {
		return Code{}, "", err
	}

	code, err := s.store.Create(ctx, CreateRecord{
		ID:         codeID,
		CodeHash:   codeHash,
		Role:       string(in.Role),
		Department: trimPtr(in.Department),
		CreatedBy:  trimPtr(in.CreatedBy),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		MaxUses:    maxUses,
		UsedCount:  0,
		Note:       note,
	})
	if err != nil {
		return Code{}, "", err
	}
	return code, plain, nil
}

// ValidateCode checks whether a plain code is redeemable at the given time.
// Unknown codes report invalid without an error so callers cannot probe
// which codes exist.
func (s *Service) ValidateCode(ctx context.Context, plain string, now time.Time) (bool, Code, error) {
	if s == nil || s.store == nil {
		return false, Code{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, Code{}, err
	}
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return false, Code{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	code, err := s.store.GetByCodeHash(ctx, token.HashRefreshTokenHex(plain))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, Code{}, nil
		}
		return false, Code{}, err
	}

	if code.RevokedAt != nil {
		return false, code, nil
	}
	if !code.ExpiresAt.After(now) {
		return false, code, nil
	}
	if code.MaxUses > 0 && code.UsedCount >= code.MaxUses {
		return false, code, nil
	}
	return true, code, nil
}

// RedeemCode consumes one use of a code. Returns ErrNotFound for unknown
// codes and ErrNotActive when the code is revoked, expired or exhausted.
func (s *Service) RedeemCode(ctx context.Context, in RedeemInput) (Code, error) {
	if s == nil || s.store == nil {
		return Code{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	plain := strings.TrimSpace(in.Code)
	if plain == "" {
		return Code{}, ErrInvalidInput
	}
	redeemedBy := trimPtr(in.RedeemedBy)
	if redeemedBy == nil {
		return Code{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	return s.store.Redeem(ctx, RedeemRecord{
		CodeHash:   token.HashRefreshTokenHex(plain),
		RedeemedBy: redeemedBy,
		Now:        in.Now,
	})
}

func validRole(r identity.Role) bool {
	switch r {
	case identity.RoleAdmin, identity.RoleAgent, identity.RoleCustomer:
		return true
	default:
		return false
	}
}

func newOpaqueCode(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultCodeBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
