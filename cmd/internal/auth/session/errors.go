package session

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails claim validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenMalformed is returned when an access token cannot be parsed or
	// its signature/issuer is wrong. Distinct from expiry so the gateway can
	// report a precise rejection reason.
	ErrTokenMalformed = errors.New("malformed token")

	// ErrTokenExpired is returned when an access token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionNotFound is returned when a refresh token or session id does
	// not match any session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the backing session is expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the backing session has been revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRefreshReuseDetected is returned when a rotated (replaced) refresh
	// token is presented again. All sessions for the user are revoked before
	// this is returned.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
