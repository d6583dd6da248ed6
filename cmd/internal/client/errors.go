package client

import "errors"

var (
	// ErrConfig indicates invalid client configuration.
	ErrConfig = errors.New("client: invalid config")

	// ErrLoggedOut indicates no active session exists for the operation.
	ErrLoggedOut = errors.New("client: no active session")

	// ErrInvalidCredentials indicates the server rejected the username or
	// password at login.
	ErrInvalidCredentials = errors.New("client: invalid credentials")

	// ErrSessionRejected indicates the server definitively rejected the
	// session's credential (expired, revoked, or reused refresh material).
	// The local session is destroyed when this is returned from a renewal.
	ErrSessionRejected = errors.New("client: session rejected by server")
)
