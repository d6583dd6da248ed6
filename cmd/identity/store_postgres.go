package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/identity/ids"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are validated and quoted so identifiers can never
// become an injection vector.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string

	dummyHash string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "helpdesk").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "helpdesk",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}

	if dummy, err := HashPassword("dummy-password-for-timing-only"); err == nil {
		st.dummyHash = dummy
	}
	return st, nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// Authenticate resolves username+password to a user.
func (s *PostgresStore) Authenticate(ctx context.Context, username, password string) (User, error) {
	const op = "identity.Authenticate"

	norm := NormalizeUsername(username)
	if norm == "" || password == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	users := s.table("users")

	var (
		u    User
		hash string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, role, department, password_hash, created_at
		   FROM `+users+` WHERE username = $1`,
		norm,
	).Scan(&u.ID, &u.Username, &u.DisplayName, (*string)(&u.Role), &u.Department, &hash, &u.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Burn the same verification cost as a real mismatch.
		if s.dummyHash != "" {
			_, _ = VerifyPassword(password, s.dummyHash)
		}
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	ok, verr := VerifyPassword(password, hash)
	if verr != nil || !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	return u, nil
}

// GetByID loads a user snapshot by id.
func (s *PostgresStore) GetByID(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetByID"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user id"}
	}

	users := s.table("users")

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, role, department, created_at
		   FROM `+users+` WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Username, &u.DisplayName, (*string)(&u.Role), &u.Department, &u.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// CreateUser registers a new user.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

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

	users := s.table("users")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, username, display_name, role, department, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, norm, display, string(in.Role), strings.TrimSpace(in.Department), hash, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, OpError{Op: op, Kind: ErrConflict, Msg: "username"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return User{
		ID:          id,
		Username:    norm,
		DisplayName: display,
		Role:        in.Role,
		Department:  strings.TrimSpace(in.Department),
		CreatedAt:   now,
	}, nil
}

var _ Store = (*PostgresStore)(nil)
