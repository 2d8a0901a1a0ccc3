package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{
		"REBELZ_CONFIG", "REBELZ_API_URL", "REBELZ_ENV", "REBELZ_LOG_LEVEL",
		"REBELZ_TOKEN_BACKEND", "REBELZ_TOKEN_PATH", "REBELZ_REDIS_URL", "REBELZ_TOKEN_DSN",
		"REBELZ_SSE_RECONNECT_DELAY", "REBELZ_SSE_MAX_ATTEMPTS", "REBELZ_RATE_LIMIT",
		"REBELZ_OTLP_ENDPOINT", "REBELZ_METRICS_ADDR", "REBELZ_PREFERENCES_PATH",
		"REBELZ_REFRESH_SCHEDULE",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.APIURL != "http://localhost:8000" {
		t.Errorf("expected localhost default, got %s", cfg.APIURL)
	}
	if cfg.Token.Backend != BackendFile {
		t.Errorf("expected file backend, got %s", cfg.Token.Backend)
	}
	// Production JSON logs go to the same terminal as command output.
	if cfg.Env != EnvProduction || cfg.LogLevel != "warn" {
		t.Errorf("expected quiet production logging, got env=%s level=%s", cfg.Env, cfg.LogLevel)
	}
	if cfg.Assistant.ReconnectDelay != 5*time.Second || cfg.Assistant.MaxAttempts != 0 {
		t.Errorf("unexpected assistant defaults: %+v", cfg.Assistant)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing default file should not be an error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected warn, got %s", cfg.LogLevel)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing explicit file should be an error")
	}
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte(`
api_url: https://api.rebelz.example
env: development
token:
  backend: sqlite
  path: /tmp/rebelz.db
assistant:
  reconnect_delay: 2s
  max_attempts: 4
  exponential: true
rate_limit:
  requests_per_second: 10
  burst: 5
`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIURL != "https://api.rebelz.example" {
		t.Errorf("expected file api_url, got %s", cfg.APIURL)
	}
	if !cfg.Development() {
		t.Error("expected development env")
	}
	if cfg.Token.Backend != BackendSQLite || cfg.Token.Path != "/tmp/rebelz.db" {
		t.Errorf("unexpected token config: %+v", cfg.Token)
	}
	if cfg.Assistant.ReconnectDelay != 2*time.Second || cfg.Assistant.MaxAttempts != 4 || !cfg.Assistant.Exponential {
		t.Errorf("unexpected assistant config: %+v", cfg.Assistant)
	}
	if cfg.Assistant.MaxDelay != time.Minute {
		t.Errorf("unset fields should keep defaults, got %v", cfg.Assistant.MaxDelay)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.Burst != 5 {
		t.Errorf("unexpected rate limit: %+v", cfg.RateLimit)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("api_url: https://from-file.example\n"), 0o644)

	t.Setenv("REBELZ_CONFIG", path)
	t.Setenv("REBELZ_API_URL", "https://from-env.example")
	t.Setenv("REBELZ_SSE_RECONNECT_DELAY", "750ms")
	t.Setenv("REBELZ_SSE_MAX_ATTEMPTS", "3")
	t.Setenv("REBELZ_TOKEN_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIURL != "https://from-env.example" {
		t.Errorf("env should override file: got %s", cfg.APIURL)
	}
	if cfg.Assistant.ReconnectDelay != 750*time.Millisecond || cfg.Assistant.MaxAttempts != 3 {
		t.Errorf("unexpected assistant config: %+v", cfg.Assistant)
	}
	if cfg.Token.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Token.Backend)
	}
}

func TestBadEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("REBELZ_SSE_MAX_ATTEMPTS", "lots")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "REBELZ_SSE_MAX_ATTEMPTS") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.APIURL = "localhost:8000"
	cfg.Env = "staging"
	cfg.LogLevel = "chatty"
	cfg.Token.Backend = "redis"
	cfg.Assistant.ReconnectDelay = 0
	cfg.RefreshSchedule = "every now and then"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"api_url", "env", "log_level", "redis_url", "reconnect_delay", "refresh_schedule"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestValidateRequiresDSNForSharedDatabases(t *testing.T) {
	for _, backend := range []string{BackendPostgres, BackendMySQL} {
		cfg := Default()
		cfg.Token.Backend = backend
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "token.dsn") {
			t.Errorf("%s without dsn: %v", backend, err)
		}
		cfg.Token.DSN = "user:pass@tcp(localhost:3306)/rebelz"
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s with dsn: %v", backend, err)
		}
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	os.WriteFile(env, []byte("REBELZ_API_URL=https://dotenv.example\nREBELZ_LOG_LEVEL=debug\n"), 0o644)

	t.Setenv("REBELZ_LOG_LEVEL", "error")
	// godotenv only fills unset variables; clear the isolated value first.
	os.Unsetenv("REBELZ_API_URL")

	if err := LoadDotEnv(env, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("REBELZ_API_URL") })

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIURL != "https://dotenv.example" {
		t.Errorf("expected dotenv value, got %s", cfg.APIURL)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("process env should win over .env, got %s", cfg.LogLevel)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.APIURL = "https://saved.example"
	cfg.Assistant.MaxAttempts = 9
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.APIURL != cfg.APIURL || got.Assistant.MaxAttempts != 9 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
