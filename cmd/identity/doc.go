// Package identity is the help desk's principal store: users, their roles
// and departments, and credential verification.
//
// It is the authoritative answer to "who is this?" for both the HTTP auth
// endpoints and the notification gateway. Session/token issuance lives in
// cmd/internal/auth/session; this package only resolves credentials to users.
package identity
