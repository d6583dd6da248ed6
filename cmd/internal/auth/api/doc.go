// Package authapi exposes the auth endpoints consumed by the client session
// manager: login, refresh, logout and verify (/me). Responses are JSON
// envelopes with an explicit success flag.
package authapi
