package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/csp"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeep/pkg/ratelimit"
	"github.com/caarlos0/env/v11"
)

// Store drivers selectable with GATEKEEP_STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

var (
	ErrUnknownDriver = errors.New("app: unknown store driver")
	ErrMissingSecret = errors.New("app: GATEKEEP_ADMIN_JWT_SECRET is required")
	ErrUnknownEnv    = errors.New("app: GATEKEEP_ENV must be development or production")
)

// LimiterConfig is one rate limiter pool.
type LimiterConfig struct {
	Interval    time.Duration `env:"INTERVAL"`
	MaxRequests int           `env:"MAX"`
	Capacity    int           `env:"CAPACITY" envDefault:"500"`
}

func (l LimiterConfig) ratelimit() ratelimit.Config {
	return ratelimit.Config{
		Interval:               l.Interval,
		MaxRequests:            l.MaxRequests,
		UniqueTokenPerInterval: l.Capacity,
	}
}

type Config struct {
	Env                  string        `env:"ENV"                   envDefault:"development"` // development or production
	LogLevel             string        `env:"LOG_LEVEL"             envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT"            envDefault:"json"`
	Port                 int           `env:"PORT"                  envDefault:"8080"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`

	StoreDriver    string        `env:"STORE_DRIVER"    envDefault:"sqlite"`
	SQLiteFile     string        `env:"SQLITE_FILE"     envDefault:"gatekeep.db"`
	PostgresDSN    string        `env:"POSTGRES_DSN"`
	RedisURL       string        `env:"REDIS_URL"       envDefault:"redis://localhost:6379/0"`
	RedisKeyPrefix string        `env:"REDIS_KEY_PREFIX" envDefault:"gatekeep:"`
	RedisRetention time.Duration `env:"REDIS_RETENTION" envDefault:"24h"`

	AllowedOrigins   string        `env:"ALLOWED_ORIGINS"` // comma separated
	CORSCredentials  bool          `env:"CORS_CREDENTIALS"  envDefault:"true"`
	CORSMaxAge       time.Duration `env:"CORS_MAX_AGE"      envDefault:"24h"`
	AnalyticsHost    string        `env:"ANALYTICS_HOST"`
	AnalyticsAPIHost string        `env:"ANALYTICS_API_HOST"`
	CSPReportURI     string        `env:"CSP_REPORT_URI"`

	AdminJWTSecret   string   `env:"ADMIN_JWT_SECRET"`
	AdminJWTIssuer   string   `env:"ADMIN_JWT_ISSUER"   envDefault:"gatekeep"`
	AdminJWTAudience []string `env:"ADMIN_JWT_AUDIENCE" envDefault:"gatekeep-admin" envSeparator:","`

	InvitationTTL time.Duration `env:"INVITATION_TTL" envDefault:"168h"`
	RedirectHosts []string      `env:"REDIRECT_HOSTS" envSeparator:","`

	// Peers whose X-Forwarded-For / X-Real-IP is believed when keying rate
	// limits. IPs or CIDRs; empty trusts nobody.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	AuthLimiter          LimiterConfig `envPrefix:"RATELIMIT_AUTH_"`
	APILimiter           LimiterConfig `envPrefix:"RATELIMIT_API_"`
	PasswordResetLimiter LimiterConfig `envPrefix:"RATELIMIT_PASSWORD_RESET_"`
	InvitationLimiter    LimiterConfig `envPrefix:"RATELIMIT_INVITATION_"`
}

// defaultConfig carries the limiter defaults. The pools share a struct type so
// per-pool values cannot be expressed as envDefault tags.
func defaultConfig() Config {
	return Config{
		AuthLimiter:          LimiterConfig{Interval: 15 * time.Minute, MaxRequests: 5, Capacity: 500},
		APILimiter:           LimiterConfig{Interval: time.Minute, MaxRequests: 100, Capacity: 500},
		PasswordResetLimiter: LimiterConfig{Interval: time.Hour, MaxRequests: 3, Capacity: 500},
		InvitationLimiter:    LimiterConfig{Interval: time.Hour, MaxRequests: 10, Capacity: 500},
	}
}

// LoadConfig reads GATEKEEP_* variables from the process environment.
func LoadConfig() (Config, error) {
	return ParseConfig(env.ToMap(os.Environ()))
}

// ParseConfig reads GATEKEEP_* variables from vars.
func ParseConfig(vars map[string]string) (Config, error) {
	cfg := defaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "GATEKEEP_", Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that have no safe default.
func (c Config) Validate() error {
	if _, err := c.Environment(); err != nil {
		return err
	}
	if _, err := c.Proxies(); err != nil {
		return fmt.Errorf("app: GATEKEEP_TRUSTED_PROXIES: %w", err)
	}

	switch c.StoreDriver {
	case DriverSQLite, DriverRedis:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("app: GATEKEEP_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownDriver, c.StoreDriver)
	}

	if c.AdminJWTSecret == "" {
		return ErrMissingSecret
	}
	if len(c.AdminJWTSecret) < jwtx.MinSecretSize {
		return fmt.Errorf("app: GATEKEEP_ADMIN_JWT_SECRET must be at least %d bytes", jwtx.MinSecretSize)
	}
	return nil
}

// Environment resolves Env to a CSP profile.
func (c Config) Environment() (csp.Environment, error) {
	e, err := csp.ParseEnvironment(c.Env)
	if err != nil {
		return "", fmt.Errorf("%w, got %q", ErrUnknownEnv, c.Env)
	}
	return e, nil
}

// Proxies parses TrustedProxies.
func (c Config) Proxies() (httpx.TrustedProxies, error) {
	return httpx.ParseTrustedProxies(c.TrustedProxies)
}

// Limiters maps pool names to limiter settings.
func (c Config) Limiters() map[string]ratelimit.Config {
	return map[string]ratelimit.Config{
		ratelimit.PoolAuth:          c.AuthLimiter.ratelimit(),
		ratelimit.PoolAPI:           c.APILimiter.ratelimit(),
		ratelimit.PoolPasswordReset: c.PasswordResetLimiter.ratelimit(),
		ratelimit.PoolInvitation:    c.InvitationLimiter.ratelimit(),
	}
}
