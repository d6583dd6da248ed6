package identity

import (
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/security/password"
)

// HashPassword returns a PHC-style Argon2id hash string using the env-driven
// password configuration. cmd/security/password is the single source of truth
// for hashing parameters and length policy; identity must not drift from it.
func HashPassword(plain string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return "", err
	}
	return cfg.Hash(plain)
}

// VerifyPassword checks plain against an encoded Argon2id hash.
// (false, nil) means a well-formed hash that did not match.
func VerifyPassword(plain, encodedHash string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		cfg = password.DefaultConfig()
	}
	return cfg.Verify(encodedHash, plain)
}
