package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

const (
	// LockBackendLocal serializes transfers with row locks of the store alone.
	LockBackendLocal = "local"
	// LockBackendRedis additionally takes a Redis lease per balance.
	LockBackendRedis = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"Benefits"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// LockTimeout bounds how long a transfer waits for a balance lock.
	LockTimeout    time.Duration `env:"LOCK_TIMEOUT" envDefault:"5s"`
	LockBackend    string        `env:"LOCK_BACKEND" envDefault:"local"`
	LockExpiry     time.Duration `env:"LOCK_EXPIRY" envDefault:"20s"`
	LockRetryDelay time.Duration `env:"LOCK_RETRY_DELAY" envDefault:"50ms"`

	TransferMaxRetries uint64 `env:"TRANSFER_MAX_RETRIES" envDefault:"3"`
	JournalDir         string `env:"JOURNAL_DIR" envDefault:"./wal/transfers"`
	FixturesFile       string `env:"FIXTURES_FILE"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LockBackend = strings.ToLower(cfg.LockBackend)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LockBackend {
	case LockBackendLocal:
	case LockBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when LOCK_BACKEND=%s", LockBackendRedis)
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}

	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}

	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	return nil
}

// IsDev reports whether the app runs in a development-like environment where
// Postgres and Redis are optional.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
