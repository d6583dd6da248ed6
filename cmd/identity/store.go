package identity

import (
	"context"
	"time"
)

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAgent    Role = "agent"
	RoleCustomer Role = "customer"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleAgent, RoleCustomer:
		return true
	}
	return false
}

// User is the canonical security principal.
// The password hash never leaves this package.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Role        Role
	Department  string

	CreatedAt time.Time
}

// CreateUserInput describes a user registration request.
type CreateUserInput struct {
	Username    string
	DisplayName string
	Password    string
	Role        Role
	Department  string
	Now         time.Time
}

// Store is the identity persistence boundary.
//
// Authenticate must be timing-resistant: a lookup miss costs the same as a
// password mismatch (implementations verify against a dummy hash).
type Store interface {
	// Authenticate resolves username+password to a user.
	// Returns ErrInvalidCredentials for unknown user OR wrong password,
	// indistinguishably.
	Authenticate(ctx context.Context, username, password string) (User, error)

	// GetByID loads a user snapshot by id. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, userID string) (User, error)

	// CreateUser registers a new user. Returns ErrConflict on username reuse.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
}
