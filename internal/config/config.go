// Package config loads runtime configuration for the service layer.
//
// Values are layered: built-in defaults, then an optional YAML file (path in
// BOOKLY_CONFIG), then a .env file if present, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bookly/service_layer/pkg/logger"
)

// ConfigPathEnv names the variable holding the YAML config path.
const ConfigPathEnv = "BOOKLY_CONFIG"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Redis    RedisConfig          `yaml:"redis"`
	Auth     AuthConfig           `yaml:"auth"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Seed     SeedConfig           `yaml:"seed"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"BOOKLY_HOST"`
	Port            int           `yaml:"port" env:"BOOKLY_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"BOOKLY_SHUTDOWN_TIMEOUT"`
	RateLimit       int           `yaml:"rate_limit" env:"BOOKLY_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"BOOKLY_RATE_BURST"`
	// AllowedOrigins is read from the environment as a semicolon separated
	// list, e.g. "https://a.example;https://b.example".
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"BOOKLY_ALLOWED_ORIGINS"`
	AuditLog        string        `yaml:"audit_log" env:"BOOKLY_AUDIT_LOG"`
}

// DatabaseConfig configures the relational store. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// RedisConfig configures the optional Redis session store.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX"`
}

// AuthConfig configures API tokens and session signing.
type AuthConfig struct {
	// Tokens is read from the environment as a semicolon separated list.
	// Commas are part of a token.
	Tokens        []string      `yaml:"tokens" env:"BOOKLY_API_TOKENS"`
	JWTSecret     string        `yaml:"jwt_secret" env:"BOOKLY_JWT_SECRET"`
	JWTIssuer     string        `yaml:"jwt_issuer" env:"BOOKLY_JWT_ISSUER"`
	SessionTTL    time.Duration `yaml:"session_ttl" env:"BOOKLY_SESSION_TTL"`
	SweepSchedule string        `yaml:"sweep_schedule" env:"BOOKLY_SWEEP_SCHEDULE"`
	HashCost      int           `yaml:"hash_cost" env:"BOOKLY_HASH_COST"`
}

// SeedConfig configures the seed command.
type SeedConfig struct {
	File  string        `yaml:"file" env:"BOOKLY_SEED_FILE"`
	Delay time.Duration `yaml:"delay" env:"BOOKLY_SEED_DELAY"`
}

// Logging fields are decoded from the environment through this mirror so the
// logger package stays free of env tags.
type loggingEnv struct {
	Level      string `env:"LOG_LEVEL"`
	Format     string `env:"LOG_FORMAT"`
	Output     string `env:"LOG_OUTPUT"`
	FilePrefix string `env:"LOG_FILE_PREFIX"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Redis:    RedisConfig{Prefix: "bookly"},
		Auth: AuthConfig{
			JWTIssuer:     "bookly",
			SessionTTL:    24 * time.Hour,
			SweepSchedule: "@every 1m",
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Seed:    SeedConfig{Delay: 200 * time.Millisecond},
	}
}

// Load builds the configuration from defaults, the optional YAML file, .env
// and the environment, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv(ConfigPathEnv)); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays values from a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays values set in the environment. Unset variables leave the
// current values untouched.
func (c *Config) ApplyEnv() error {
	targets := []interface{}{&c.Server, &c.Database, &c.Redis, &c.Auth, &c.Seed}
	for _, target := range targets {
		if err := decodeEnv(target); err != nil {
			return err
		}
	}

	lenv := loggingEnv(c.Logging)
	if err := decodeEnv(&lenv); err != nil {
		return err
	}
	c.Logging = logger.LoggingConfig(lenv)
	return nil
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if len(c.Auth.JWTSecret) > 0 && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters")
	}
	if c.Database.DSN != "" && c.Database.Driver == "" {
		return fmt.Errorf("database.driver is required when dsn is set")
	}
	if c.Seed.Delay < 0 {
		return fmt.Errorf("seed.delay must not be negative")
	}
	return nil
}

// Addr is the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func decodeEnv(target interface{}) error {
	err := envdecode.Decode(target)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	return nil
}
