package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity/ids"
)

// MemoryStore is an in-memory Store for dev mode and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]memUser
	byUsername map[string]string // normalized username -> id

	// dummyHash keeps Authenticate timing-resistant on unknown usernames.
	dummyHash string
}

type memUser struct {
	user         User
	passwordHash string
}

// NewMemoryStore constructs an empty in-memory identity store.
func NewMemoryStore() (*MemoryStore, error) {
	dummy, err := HashPassword("dummy-password-for-timing-only")
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		byID:       make(map[string]memUser),
		byUsername: make(map[string]string),
		dummyHash:  dummy,
	}, nil
}

// Authenticate resolves username+password to a user.
func (s *MemoryStore) Authenticate(ctx context.Context, username, password string) (User, error) {
	const op = "identity.Authenticate"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	norm := NormalizeUsername(username)
	if norm == "" || password == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	s.mu.RLock()
	id, found := s.byUsername[norm]
	var mu memUser
	if found {
		mu = s.byID[id]
	}
	dummy := s.dummyHash
	s.mu.RUnlock()

	if !found {
		// Burn the same verification cost as a real mismatch.
		_, _ = VerifyPassword(password, dummy)
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	ok, err := VerifyPassword(password, mu.passwordHash)
	if err != nil || !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	return mu.user, nil
}

// GetByID loads a user snapshot by id.
func (s *MemoryStore) GetByID(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	mu, ok := s.byID[strings.TrimSpace(userID)]
	s.mu.RUnlock()

	if !ok {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	return mu.user, nil
}

// CreateUser registers a new user.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	norm := NormalizeUsername(in.Username)
	if norm == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing username"}
	}
	if !ValidRole(in.Role) {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown role"}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = strings.TrimSpace(in.Username)
	}

	u := User{
		ID:          id,
		Username:    norm,
		DisplayName: display,
		Role:        in.Role,
		Department:  strings.TrimSpace(in.Department),
		CreatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[norm]; exists {
		return User{}, OpError{Op: op, Kind: ErrConflict, Msg: "username"}
	}
	s.byID[id] = memUser{user: u, passwordHash: hash}
	s.byUsername[norm] = id

	return u, nil
}

var _ Store = (*MemoryStore)(nil)
