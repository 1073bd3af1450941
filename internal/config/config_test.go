package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.LockTimeout != 5*time.Second {
		t.Fatalf("unexpected lock timeout %s", cfg.LockTimeout)
	}
	if cfg.LockBackend != LockBackendLocal {
		t.Fatalf("unexpected lock backend %q", cfg.LockBackend)
	}
	if cfg.TransferMaxRetries != 3 {
		t.Fatalf("unexpected retries %d", cfg.TransferMaxRetries)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("PORT", ":9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9000" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected lower-cased log level, got %q", cfg.LogLevel)
	}
	if cfg.LockTimeout != 250*time.Millisecond || cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("durations not parsed: %+v", cfg)
	}
}

func TestLoadRequiresBackingServicesOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL in production")
	}
}

func TestLoadRedisBackendNeedsRedis(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for redis backend without REDIS_URL")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LOCK_BACKEND", "zookeeper")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
