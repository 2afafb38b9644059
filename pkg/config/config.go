package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ownership-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3450"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MigrationsPath points at the SQL migrations for the reference record store schema.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`

	// Database configuration (PostgreSQL record store)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional display-record cache)
	Redis RedisConfig `yaml:"redis"`

	// Ownership graph traversal settings
	Ownership OwnershipConfig `yaml:"ownership"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ownership"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"loan_ops"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration.
// An empty Host disables the display-record cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// DisplayTTL bounds how long entity/borrower display records are cached.
	DisplayTTL time.Duration `yaml:"display_ttl" env:"REDIS_DISPLAY_TTL" env-default:"30s"`
}

// OwnershipConfig holds traversal session settings.
type OwnershipConfig struct {
	// SessionIdleTTL is how long an untouched traversal session is kept in memory.
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl" env:"OWNERSHIP_SESSION_IDLE_TTL" env-default:"30m"`
	// MaxSessions caps concurrently held traversal sessions.
	MaxSessions int `yaml:"max_sessions" env:"OWNERSHIP_MAX_SESSIONS" env-default:"1000"`
	// SweepInterval is how often idle sessions are swept.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"OWNERSHIP_SWEEP_INTERVAL" env-default:"1m"`
	// FetchTimeout bounds one node expansion, including when its requester has gone away.
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"OWNERSHIP_FETCH_TIMEOUT" env-default:"30s"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; defaults and environment variables apply.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if fileExists(path) {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)

	return cfg, nil
}

// validate rejects settings the traversal layer cannot run with.
func (c *Config) validate() error {
	if c.Ownership.MaxSessions <= 0 {
		return fmt.Errorf("ownership.max_sessions must be positive, got %d", c.Ownership.MaxSessions)
	}
	if c.Ownership.SessionIdleTTL <= 0 {
		return fmt.Errorf("ownership.session_idle_ttl must be positive")
	}
	if c.Ownership.SweepInterval <= 0 {
		return fmt.Errorf("ownership.sweep_interval must be positive")
	}
	if c.Ownership.FetchTimeout <= 0 {
		return fmt.Errorf("ownership.fetch_timeout must be positive")
	}
	if c.Redis.Host != "" && c.Redis.DisplayTTL <= 0 {
		return fmt.Errorf("redis.display_ttl must be positive when redis is configured")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the database as a postgres:// URL, as required by golang-migrate.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}
