// Package config loads application configuration from YAML with environment
// variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Registry  RegistryConfig  `yaml:"registry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the host:port the server binds to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig configures the Postgres backend. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RedisConfig configures the shared render cache. An empty address disables
// Redis and falls back to the in-process cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig configures per-caller HTTP throttling.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

// RegistryConfig holds the registry economics and the sub-account derivation
// constants. ImplementationID and Salt must never change once avatars exist;
// every derived address depends on them.
type RegistryConfig struct {
	CreationFee      int64  `yaml:"creation_fee"`
	MintFee          int64  `yaml:"mint_fee"`
	RoyaltyPercent   int    `yaml:"royalty_percent"`
	SystemOwner      string `yaml:"system_owner"`
	ImplementationID string `yaml:"implementation_id"`
	Salt             string `yaml:"salt"`
	ReportSchedule   string `yaml:"report_schedule"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Redis: RedisConfig{
			CacheTTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    20,
			Burst:   40,
		},
		Registry: RegistryConfig{
			CreationFee:      100_000_000, // 1 GAS
			MintFee:          50_000_000,
			RoyaltyPercent:   30,
			SystemOwner:      "system",
			ImplementationID: "avatar-layer-v1",
			Salt:             "avatar-layer-salt",
			ReportSchedule:   "@every 1m",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error; env-only deployments are fine.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AVATAR_LAYER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AVATAR_LAYER_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("AVATAR_LAYER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AVATAR_LAYER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AVATAR_LAYER_SYSTEM_OWNER"); v != "" {
		cfg.Registry.SystemOwner = v
	}
	if v := os.Getenv("AVATAR_LAYER_SALT"); v != "" {
		cfg.Registry.Salt = v
	}
}

// Validate rejects configurations that cannot serve.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Registry.RoyaltyPercent < 0 || c.Registry.RoyaltyPercent > 100 {
		return fmt.Errorf("royalty percent %d out of range", c.Registry.RoyaltyPercent)
	}
	if c.Registry.CreationFee < 0 || c.Registry.MintFee < 0 {
		return fmt.Errorf("fees must not be negative")
	}
	if c.Registry.SystemOwner == "" {
		return fmt.Errorf("system owner is required")
	}
	if c.Registry.ImplementationID == "" || c.Registry.Salt == "" {
		return fmt.Errorf("implementation id and salt are required")
	}
	return nil
}
