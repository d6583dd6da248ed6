// Package session implements the server-side session model for the help desk:
// short-lived PASETO v4.public access tokens carrying user id, session id and
// role, plus opaque refresh tokens stored hashed with rotation and reuse
// detection. Both Postgres and in-memory stores are provided; transport
// integration (HTTP/WS) lives in auth/api and realtime.
package session
