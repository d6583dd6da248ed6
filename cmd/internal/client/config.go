package client

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config controls session manager behavior.
type Config struct {
	// BaseURL is the root of the auth API, e.g. "https://helpdesk.example.com".
	BaseURL string

	// HTTPTimeout bounds individual auth requests (login, refresh, logout).
	HTTPTimeout time.Duration

	// RenewalLead is how long before access-token expiry the proactive
	// renewal task fires.
	RenewalLead time.Duration

	// RenewalRetryInterval is the backoff between proactive renewal attempts
	// after a transient (network) failure.
	RenewalRetryInterval time.Duration

	// InactivityWindow forces logout when no Activity signal arrives within
	// it. Zero disables the watchdog.
	InactivityWindow time.Duration

	// StorageWatchInterval is the polling period of the cross-context
	// watcher. Zero disables watching.
	StorageWatchInterval time.Duration
}

// DefaultConfig returns sensible client defaults. BaseURL must still be set.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:          15 * time.Second,
		RenewalLead:          time.Minute,
		RenewalRetryInterval: 30 * time.Second,
		InactivityWindow:     30 * time.Minute,
		StorageWatchInterval: time.Second,
	}
}

// LoadConfigFromEnv loads client configuration from HELPDESK_CLIENT_*
// environment variables on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.BaseURL = strings.TrimSpace(os.Getenv("HELPDESK_CLIENT_BASE_URL"))
	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("%w: HELPDESK_CLIENT_BASE_URL is required", ErrConfig)
	}

	if v := strings.TrimSpace(os.Getenv("HELPDESK_CLIENT_HTTP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: HELPDESK_CLIENT_HTTP_TIMEOUT: %q", ErrConfig, v)
		}
		cfg.HTTPTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("HELPDESK_CLIENT_RENEWAL_LEAD")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: HELPDESK_CLIENT_RENEWAL_LEAD: %q", ErrConfig, v)
		}
		cfg.RenewalLead = d
	}
	if v := strings.TrimSpace(os.Getenv("HELPDESK_CLIENT_INACTIVITY_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: HELPDESK_CLIENT_INACTIVITY_WINDOW: %q", ErrConfig, v)
		}
		cfg.InactivityWindow = d
	}
	if v := strings.TrimSpace(os.Getenv("HELPDESK_CLIENT_STORAGE_WATCH_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: HELPDESK_CLIENT_STORAGE_WATCH_INTERVAL: %q", ErrConfig, v)
		}
		cfg.StorageWatchInterval = d
	}

	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%w: BaseURL is required", ErrConfig)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: HTTPTimeout must be positive", ErrConfig)
	}
	if c.RenewalLead <= 0 {
		return fmt.Errorf("%w: RenewalLead must be positive", ErrConfig)
	}
	if c.RenewalRetryInterval <= 0 {
		return fmt.Errorf("%w: RenewalRetryInterval must be positive", ErrConfig)
	}
	return nil
}
