package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// CORS policy for browser clients on other origins.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true, /readyz returns 503 unless the database is configured and
	// reachable.
	ReadinessRequireDB bool

	// If true, HELPDESK_TOKEN_HMAC_KEY must be set (>= 32 bytes) so
	// refresh-token hashing runs in HMAC mode.
	RequireTokenHMAC bool

	// When set and the identity store is in-memory, an "admin" account is
	// seeded with this password at startup. Local development only.
	DevAdminPassword string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("HELPDESK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("HELPDESK_LOG_LEVEL", "info"),
		LogFormat: EnvString("HELPDESK_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("HELPDESK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HELPDESK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HELPDESK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HELPDESK_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("HELPDESK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("HELPDESK_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("HELPDESK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("HELPDESK_DB_MIN_CONNS", 0),

		CORSAllowedOrigins:   EnvCSV("HELPDESK_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: EnvBool("HELPDESK_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("HELPDESK_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("HELPDESK_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("HELPDESK_REQUIRE_TOKEN_HMAC", false),

		DevAdminPassword: EnvString("HELPDESK_DEV_ADMIN_PASSWORD", ""),
	}
}
