// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBMaxOpenConns caps the connection pool; 0 means unlimited.
	DBMaxOpenConns int `mapstructure:"DB_MAX_OPEN_CONNS"`
	// DBMaxIdleConns bounds idle connections kept in the pool.
	DBMaxIdleConns int `mapstructure:"DB_MAX_IDLE_CONNS"`
	// DBConnMaxLifetime recycles connections older than this (e.g. "30m").
	DBConnMaxLifetime string `mapstructure:"DB_CONN_MAX_LIFETIME"`

	// JWTIssuer is the iss claim shared by both channels (e.g. "storefront-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// CustomerJWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or a path to one, for the customer channel.
	CustomerJWTPrivateKey string `mapstructure:"CUSTOMER_JWT_PRIVATE_KEY"`
	// CustomerJWTPublicKey is the PEM-encoded public key or a path to one, for the customer channel.
	CustomerJWTPublicKey string `mapstructure:"CUSTOMER_JWT_PUBLIC_KEY"`
	// AdminJWTPrivateKey is the PEM-encoded private key or a path to one, for the admin channel.
	AdminJWTPrivateKey string `mapstructure:"ADMIN_JWT_PRIVATE_KEY"`
	// AdminJWTPublicKey is the PEM-encoded public key or a path to one, for the admin channel.
	AdminJWTPublicKey string `mapstructure:"ADMIN_JWT_PUBLIC_KEY"`
	// CustomerJWTAudience is the aud claim enforced on customer-channel tokens.
	CustomerJWTAudience string `mapstructure:"CUSTOMER_JWT_AUDIENCE"`
	// AdminJWTAudience is the aud claim enforced on admin-channel tokens.
	AdminJWTAudience string `mapstructure:"ADMIN_JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h"). Session rows expire on the same horizon.
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// LockoutMaxAttempts is the number of failed logins per (identifier, origin) before a lock; default 5.
	LockoutMaxAttempts int `mapstructure:"LOCKOUT_MAX_ATTEMPTS"`
	// LockoutDuration is how long a lock lasts (e.g. "15m").
	LockoutDuration string `mapstructure:"LOCKOUT_DURATION"`

	// ResetTokenTTL is the password-reset token lifetime (e.g. "30m").
	ResetTokenTTL string `mapstructure:"RESET_TOKEN_TTL"`

	// CookieDomain is the Domain attribute set on auth cookies; empty for host-only cookies.
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	// CookieSecure sets the Secure attribute on auth cookies; must be true behind TLS.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// SMTPHost enables reset-token mail delivery when non-empty; otherwise tokens are only stored.
	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort int    `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`
	// SMTPFrom is the From address on reset mails.
	SMTPFrom string `mapstructure:"SMTP_FROM"`

	// JanitorInterval is how often expired rows are compacted (e.g. "1h"); "0" disables the janitor.
	JanitorInterval string `mapstructure:"JANITOR_INTERVAL"`
	// SessionRetention is how long inactive session rows are kept for audit before purge (e.g. "2160h").
	SessionRetention string `mapstructure:"SESSION_RETENTION"`

	// RateLimitPerSecond and RateLimitBurst bound credential endpoints per client IP.
	RateLimitPerSecond int `mapstructure:"RATE_LIMIT_PER_SECOND"`
	RateLimitBurst     int `mapstructure:"RATE_LIMIT_BURST"`

	// LogFile enables rotating file output for logs when non-empty; stdout otherwise.
	LogFile string `mapstructure:"LOG_FILE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("JWT_ISSUER", "storefront-auth")
	v.SetDefault("CUSTOMER_JWT_AUDIENCE", "storefront-shop")
	v.SetDefault("ADMIN_JWT_AUDIENCE", "storefront-admin")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_MAX_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("RESET_TOKEN_TTL", "30m")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("JANITOR_INTERVAL", "1h")
	v.SetDefault("SESSION_RETENTION", "2160h") // 90d
	v.SetDefault("RATE_LIMIT_PER_SECOND", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LockoutMaxAttempts < 1 {
		return nil, errors.New("config: LOCKOUT_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Env == "production" && !cfg.CookieSecure {
		return nil, errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}

	return &cfg, nil
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return duration(c.JWTAccessTTL, 15*time.Minute) }

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return duration(c.JWTRefreshTTL, 168*time.Hour) }

// LockDuration parses LockoutDuration. Returns 15m if unset or invalid.
func (c *Config) LockDuration() time.Duration { return duration(c.LockoutDuration, 15*time.Minute) }

// ResetTTL parses ResetTokenTTL. Returns 30m if unset or invalid.
func (c *Config) ResetTTL() time.Duration { return duration(c.ResetTokenTTL, 30*time.Minute) }

// JanitorEvery parses JanitorInterval. Returns 0 (disabled) when unset or invalid.
func (c *Config) JanitorEvery() time.Duration {
	d, err := time.ParseDuration(c.JanitorInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Retention parses SessionRetention. Returns 90 days if unset or invalid.
func (c *Config) Retention() time.Duration { return duration(c.SessionRetention, 2160*time.Hour) }

// ConnMaxLifetime returns the parsed DB_CONN_MAX_LIFETIME.
func (c *Config) ConnMaxLifetime() time.Duration { return duration(c.DBConnMaxLifetime, 30*time.Minute) }
