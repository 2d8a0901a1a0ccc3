// Package config provides configuration loading for the rebelz client.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Token backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendMemory   = "memory"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all client configuration.
type Config struct {
	// API base URL (default "http://localhost:8000")
	APIURL string `yaml:"api_url"`
	// development or production
	Env string `yaml:"env"`
	// Log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	Token     TokenConfig     `yaml:"token"`
	Assistant AssistantConfig `yaml:"assistant"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// OTLP gRPC endpoint for traces; empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	// Address for the Prometheus /metrics listener; empty disables it.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	PreferencesPath string `yaml:"preferences_path,omitempty"`

	// Cron schedule for refreshing the profile in long-running commands.
	RefreshSchedule string `yaml:"refresh_schedule"`
}

// TokenConfig selects where the bearer token is kept.
type TokenConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path,omitempty"`
	RedisURL string `yaml:"redis_url,omitempty"`
	RedisKey string `yaml:"redis_key,omitempty"`
	// DSN for the postgres and mysql backends.
	DSN string `yaml:"dsn,omitempty"`
}

// AssistantConfig tunes the assistant event stream.
type AssistantConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// Zero means retry forever.
	MaxAttempts int           `yaml:"max_attempts"`
	Exponential bool          `yaml:"exponential"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// RateLimitConfig caps outbound requests. Zero disables the limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		APIURL:   "http://localhost:8000",
		Env:      EnvProduction,
		LogLevel: "warn",
		Token: TokenConfig{
			Backend: BackendFile,
		},
		Assistant: AssistantConfig{
			ReconnectDelay: 5 * time.Second,
			MaxDelay:       time.Minute,
		},
		RefreshSchedule: "@every 5m",
	}
}

// DefaultPath returns ~/.config/rebelz/config.yaml, honouring XDG_CONFIG_HOME.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rebelz", "config.yaml")
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from a file, then overlays environment variables.
// An empty path falls back to REBELZ_CONFIG and then to DefaultPath; only an
// explicitly named file must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := true
	if path == "" {
		path = os.Getenv("REBELZ_CONFIG")
	}
	if path == "" {
		path, explicit = DefaultPath(), false
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("REBELZ_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("REBELZ_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("REBELZ_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REBELZ_TOKEN_BACKEND"); v != "" {
		cfg.Token.Backend = v
	}
	if v := os.Getenv("REBELZ_TOKEN_PATH"); v != "" {
		cfg.Token.Path = v
	}
	if v := os.Getenv("REBELZ_REDIS_URL"); v != "" {
		cfg.Token.RedisURL = v
	}
	if v := os.Getenv("REBELZ_TOKEN_DSN"); v != "" {
		cfg.Token.DSN = v
	}
	if v := os.Getenv("REBELZ_SSE_RECONNECT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REBELZ_SSE_RECONNECT_DELAY: %w", err)
		}
		cfg.Assistant.ReconnectDelay = d
	}
	if v := os.Getenv("REBELZ_SSE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REBELZ_SSE_MAX_ATTEMPTS: %w", err)
		}
		cfg.Assistant.MaxAttempts = n
	}
	if v := os.Getenv("REBELZ_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("REBELZ_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit.RequestsPerSecond = f
	}
	if v := os.Getenv("REBELZ_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("REBELZ_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("REBELZ_PREFERENCES_PATH"); v != "" {
		cfg.PreferencesPath = v
	}
	if v := os.Getenv("REBELZ_REFRESH_SCHEDULE"); v != "" {
		cfg.RefreshSchedule = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api_url %q must be an absolute http(s) URL", c.APIURL))
	}
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("env %q must be %s or %s", c.Env, EnvDevelopment, EnvProduction))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	switch c.Token.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Token.RedisURL == "" {
			errs = append(errs, errors.New("token.redis_url is required for the redis backend"))
		}
	case BackendPostgres, BackendMySQL:
		if c.Token.DSN == "" {
			errs = append(errs, fmt.Errorf("token.dsn is required for the %s backend", c.Token.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("token.backend %q must be one of file, sqlite, redis, postgres, mysql, memory", c.Token.Backend))
	}

	if c.Assistant.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("assistant.reconnect_delay must be positive"))
	}
	if c.Assistant.MaxAttempts < 0 {
		errs = append(errs, errors.New("assistant.max_attempts must not be negative"))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if c.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
			errs = append(errs, fmt.Errorf("refresh_schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Development reports whether development logging is wanted.
func (c Config) Development() bool { return c.Env == EnvDevelopment }

// HasTracing returns true if an OTLP endpoint is configured.
func (c Config) HasTracing() bool { return c.OTLPEndpoint != "" }

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
