package main

import (
	"os"
	"testing"
)

func clearConfigEnv() {
	for _, k := range []string{
		"DOC_ROOT", "DB_HOST", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_PORT",
		"DB_MAX_CONN", "THREAD_COUNT", "QUEUE_CAPACITY", "TIMESLOT_SECONDS",
		"INACTIVITY_MULTIPLIER", "READ_BUF", "WRITE_BUF", "LOG_DIR", "LOG_STEM",
		"LOG_BUF", "SPLIT_LINES", "LOG_QUEUE_CAP", "METRICS_LISTEN_ADDR",
		"RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_PER_HOUR", "RATE_LIMIT_REDIS_ADDR",
	} {
		os.Unsetenv(k)
	}
}

func TestNewConfig_RequiresPort(t *testing.T) {
	clearConfigEnv()
	if _, err := NewConfig(0); err == nil {
		t.Error("expected an error when port is 0")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	clearConfigEnv()
	cfg, err := NewConfig(9999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DocRoot != "./root" {
		t.Errorf("expected default DocRoot ./root, got %q", cfg.DocRoot)
	}
	if cfg.DBHost != "127.0.0.1" {
		t.Errorf("expected default DBHost 127.0.0.1, got %q", cfg.DBHost)
	}
	if cfg.DBPort != 3306 {
		t.Errorf("expected default DBPort 3306, got %d", cfg.DBPort)
	}
	if cfg.ThreadCount != 8 {
		t.Errorf("expected default ThreadCount 8, got %d", cfg.ThreadCount)
	}
	if cfg.MetricsListenAddr != ":9090" {
		t.Errorf("expected default metrics addr :9090, got %q", cfg.MetricsListenAddr)
	}
	if cfg.RateLimitRedisAddr != "" {
		t.Errorf("expected no Redis address by default, got %q", cfg.RateLimitRedisAddr)
	}
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	clearConfigEnv()
	os.Setenv("DOC_ROOT", "/srv/www")
	os.Setenv("DB_PORT", "3307")
	os.Setenv("THREAD_COUNT", "16")
	os.Setenv("RATE_LIMIT_REDIS_ADDR", "redis:6379")
	defer clearConfigEnv()

	cfg, err := NewConfig(8080)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DocRoot != "/srv/www" {
		t.Errorf("expected overridden DocRoot, got %q", cfg.DocRoot)
	}
	if cfg.DBPort != 3307 {
		t.Errorf("expected overridden DBPort 3307, got %d", cfg.DBPort)
	}
	if cfg.ThreadCount != 16 {
		t.Errorf("expected overridden ThreadCount 16, got %d", cfg.ThreadCount)
	}
	if cfg.RateLimitRedisAddr != "redis:6379" {
		t.Errorf("expected overridden Redis addr, got %q", cfg.RateLimitRedisAddr)
	}
}

func TestNewConfig_InvalidEnvValueErrors(t *testing.T) {
	clearConfigEnv()
	os.Setenv("DB_PORT", "not-a-number")
	defer clearConfigEnv()

	if _, err := NewConfig(8080); err == nil {
		t.Error("expected an error for a non-numeric DB_PORT")
	}
}
