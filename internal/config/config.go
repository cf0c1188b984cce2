package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	LogLevel               string        `mapstructure:"LOG_LEVEL"`
	AuthMode               string        `mapstructure:"AUTH_MODE"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir          string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL               string        `mapstructure:"REDIS_URL"`
	AuthIssuer             string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL            string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience           string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey         string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS           float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `mapstructure:"RATE_LIMIT_BURST"`
	PublicRateLimitRPS     float64       `mapstructure:"PUBLIC_RATE_LIMIT_RPS"`
	PublicRateLimitBurst   int           `mapstructure:"PUBLIC_RATE_LIMIT_BURST"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	StoreTimeout           time.Duration `mapstructure:"STORE_TIMEOUT"`
	ClinicOpenTime         string        `mapstructure:"CLINIC_OPEN_TIME"`
	ClinicCloseTime        string        `mapstructure:"CLINIC_CLOSE_TIME"`
	SlotGranularityMinutes int           `mapstructure:"SLOT_GRANULARITY_MINUTES"`
	AvailabilityCacheTTL   time.Duration `mapstructure:"AVAILABILITY_CACHE_TTL"`
	TLSEnabled             bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile            string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile             string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "AUTH_MODE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "PUBLIC_RATE_LIMIT_RPS", "PUBLIC_RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "STORE_TIMEOUT",
	"CLINIC_OPEN_TIME", "CLINIC_CLOSE_TIME", "SLOT_GRANULARITY_MINUTES", "AVAILABILITY_CACHE_TTL",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("PUBLIC_RATE_LIMIT_RPS", 2)
	v.SetDefault("PUBLIC_RATE_LIMIT_BURST", 10)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("CLINIC_OPEN_TIME", "08:00")
	v.SetDefault("CLINIC_CLOSE_TIME", "18:00")
	v.SetDefault("SLOT_GRANULARITY_MINUTES", 30)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "2m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development selects "development" (every
// request is an admin) and anything else selects "jwt".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

func parseClock(name, s string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be HH:MM, got %q", name, s)
	}
	return t, nil
}

// Validate checks that the configuration is safe to run: the operating
// calendar must describe a non-empty day and non-development modes must
// have a way to verify tokens.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case "jwt":
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" && c.AuthIssuer == "" {
			return fmt.Errorf(
				"AUTH_SIGNING_KEY, AUTH_JWKS_URL or AUTH_ISSUER must be set when AUTH_MODE is \"jwt\" (current ENV=%q). "+
					"Refusing to start without authentication configuration", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	open, err := parseClock("CLINIC_OPEN_TIME", c.ClinicOpenTime)
	if err != nil {
		return err
	}
	closeAt, err := parseClock("CLINIC_CLOSE_TIME", c.ClinicCloseTime)
	if err != nil {
		return err
	}
	if !open.Before(closeAt) {
		return fmt.Errorf("CLINIC_OPEN_TIME %s must be before CLINIC_CLOSE_TIME %s", c.ClinicOpenTime, c.ClinicCloseTime)
	}
	if c.SlotGranularityMinutes <= 0 {
		return fmt.Errorf("SLOT_GRANULARITY_MINUTES must be positive, got %d", c.SlotGranularityMinutes)
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 || c.PublicRateLimitRPS < 0 || c.PublicRateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
