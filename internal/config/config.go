// Package config loads the service configuration from config/mutualaid.yaml
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Gateway backends.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Auth    AuthConfig    `yaml:"auth"`
	Gateway GatewayConfig `yaml:"gateway"`
	Cache   CacheConfig   `yaml:"cache"`
	Jobs    JobsConfig    `yaml:"jobs"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RateLimitRPS    int           `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	// JWTSecret is the HS256 secret the backend signs access tokens with.
	JWTSecret string   `yaml:"jwt_secret"`
	SkipPaths []string `yaml:"skip_paths"`
}

// GatewayConfig selects and configures the persistence gateway.
type GatewayConfig struct {
	Backend     string         `yaml:"backend"`
	Supabase    SupabaseConfig `yaml:"supabase"`
	DatabaseURL string         `yaml:"database_url"`
}

// SupabaseConfig configures the hosted backend client.
type SupabaseConfig struct {
	URL        string        `yaml:"url"`
	ServiceKey string        `yaml:"service_key"`
	Timeout    time.Duration `yaml:"timeout"`
	// MaxRetries applies to reads only and is zero by default: gateway
	// failures surface to the caller.
	MaxRetries int  `yaml:"max_retries"`
	Realtime   bool `yaml:"realtime"`
}

// CacheConfig configures the read cache.
type CacheConfig struct {
	Backend  string        `yaml:"backend"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// JobsConfig holds cron specs for background jobs. Empty disables a job.
type JobsConfig struct {
	LimiterCleanup string `yaml:"limiter_cleanup"`
	CatalogGauges  string `yaml:"catalog_gauges"`
	CacheSweep     string `yaml:"cache_sweep"`
}

// DefaultPath is the config file location relative to the working directory.
var DefaultPath = filepath.Join("config", "mutualaid.yaml")

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Auth: AuthConfig{
			SkipPaths: []string{"/health", "/metrics"},
		},
		Gateway: GatewayConfig{
			Backend: BackendSupabase,
			Supabase: SupabaseConfig{
				Timeout:  30 * time.Second,
				Realtime: true,
			},
		},
		Cache: CacheConfig{Backend: CacheMemory, TTL: time.Minute},
		Jobs: JobsConfig{
			LimiterCleanup: "@every 10m",
			CatalogGauges:  "@every 1m",
			CacheSweep:     "@every 5m",
		},
	}
}

// Load reads path (if it exists), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults plus environment
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides lists the environment variables that override file values.
type envOverrides struct {
	Port        string `env:"PORT"`
	CORSOrigins string `env:"CORS_ORIGINS"`
	LogLevel    string `env:"LOG_LEVEL"`
	LogFormat   string `env:"LOG_FORMAT"`
	JWTSecret   string `env:"SUPABASE_JWT_SECRET"`
	Backend     string `env:"GATEWAY_BACKEND"`
	SupabaseURL string `env:"SUPABASE_URL"`
	ServiceKey  string `env:"SUPABASE_SERVICE_KEY"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("failed to read environment: %w", err)
	}

	// envdecode skips values it cannot parse, so the port is parsed here.
	if env.Port != "" {
		port, err := strconv.Atoi(strings.TrimSpace(env.Port))
		if err != nil {
			return fmt.Errorf("PORT %q is not a number: %w", env.Port, err)
		}
		cfg.Server.Port = port
	}
	if env.CORSOrigins != "" {
		cfg.Server.CORSOrigins = splitAndTrimCSV(env.CORSOrigins)
	}
	setIf(&cfg.Log.Level, env.LogLevel)
	setIf(&cfg.Log.Format, env.LogFormat)
	setIf(&cfg.Auth.JWTSecret, env.JWTSecret)
	setIf(&cfg.Gateway.Backend, strings.ToLower(env.Backend))
	setIf(&cfg.Gateway.Supabase.URL, env.SupabaseURL)
	setIf(&cfg.Gateway.Supabase.ServiceKey, env.ServiceKey)
	setIf(&cfg.Gateway.DatabaseURL, env.DatabaseURL)
	if env.RedisURL != "" {
		cfg.Cache.Backend = CacheRedis
		cfg.Cache.RedisURL = env.RedisURL
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks that the selected backends are fully configured.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Gateway.Backend {
	case BackendSupabase:
		if c.Gateway.Supabase.URL == "" || c.Gateway.Supabase.ServiceKey == "" {
			return fmt.Errorf("gateway.supabase: url and service_key are required")
		}
	case BackendPostgres:
		if c.Gateway.DatabaseURL == "" {
			return fmt.Errorf("gateway.database_url is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown gateway backend %q", c.Gateway.Backend)
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis cache")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}

func splitAndTrimCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
