package app

import (
	"errors"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/security/token"
)

// ValidateSecurityConfig enforces the deployment security policy at startup.
// Fail-fast is intentional: silently falling back to weaker hashing in
// production is unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured in bytes because
	// the key is used as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: HELPDESK_REQUIRE_TOKEN_HMAC=true but HELPDESK_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: HELPDESK_REQUIRE_TOKEN_HMAC=true but HELPDESK_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// Guards against a future change reintroducing a plain SHA fallback
	// while the policy flag is set.
	if !token.HMACEnabled() {
		return errors.New("security policy: HELPDESK_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
