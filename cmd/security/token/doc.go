// Package token is the single source of truth for refresh-token hashing.
//
// Stored refresh material is always a 64-char hex digest: HMAC-SHA256 when
// HELPDESK_TOKEN_HMAC_KEY is configured, SHA-256 otherwise. The plain token
// is never persisted on either side of the wire.
package token
