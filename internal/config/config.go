// Package config loads runtime configuration from the environment, with an
// optional .env file for local runs, and parses the YAML pool seed file.
package config

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Auth     AuthConfig
	Snapshot SnapshotConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string  `env:"SLOTPOOL_HOST,default=0.0.0.0"`
	Port         int     `env:"SLOTPOOL_PORT,default=8080"`
	ReadTimeout  int     `env:"SLOTPOOL_READ_TIMEOUT,default=15"`
	WriteTimeout int     `env:"SLOTPOOL_WRITE_TIMEOUT,default=30"`
	RateLimit    float64 `env:"SLOTPOOL_RATE_LIMIT,default=50"`
	RateBurst    int     `env:"SLOTPOOL_RATE_BURST,default=100"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver       string `env:"SLOTPOOL_STORE_DRIVER,default=memory"`
	MaxGroupSize int    `env:"SLOTPOOL_MAX_GROUP_SIZE,default=450"`
	SeedFile     string `env:"SLOTPOOL_SEED_FILE,default="`
}

// DatabaseConfig configures the postgres backend.
type DatabaseConfig struct {
	DSN             string `env:"SLOTPOOL_POSTGRES_DSN,default="`
	MaxOpenConns    int    `env:"SLOTPOOL_DB_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `env:"SLOTPOOL_DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"SLOTPOOL_DB_CONN_MAX_LIFETIME,default=300"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `env:"SLOTPOOL_REDIS_ADDR,default=localhost:6379"`
	Password string `env:"SLOTPOOL_REDIS_PASSWORD,default="`
	DB       int    `env:"SLOTPOOL_REDIS_DB,default=0"`
}

// LoggingConfig controls log level and destination.
type LoggingConfig struct {
	Level      string `env:"SLOTPOOL_LOG_LEVEL,default=info"`
	Format     string `env:"SLOTPOOL_LOG_FORMAT,default=json"`
	Output     string `env:"SLOTPOOL_LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"SLOTPOOL_LOG_FILE_PREFIX,default="`
}

// AuthConfig carries the bearer tokens accepted by the API. An empty list
// disables authentication.
type AuthConfig struct {
	Tokens string `env:"SLOTPOOL_API_TOKENS,default="`
}

// SnapshotConfig controls scheduled snapshot generation. An empty schedule
// disables it.
type SnapshotConfig struct {
	Schedule string `env:"SLOTPOOL_SNAPSHOT_SCHEDULE,default="`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	switch cfg.Store.Driver {
	case DriverMemory, DriverPostgres, DriverRedis:
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == DriverPostgres && cfg.Database.DSN == "" {
		return nil, fmt.Errorf("store driver %s requires SLOTPOOL_POSTGRES_DSN", DriverPostgres)
	}

	return &cfg, nil
}

// TokenList splits the configured bearer tokens.
func (c AuthConfig) TokenList() []string {
	if strings.TrimSpace(c.Tokens) == "" {
		return nil
	}
	parts := strings.Split(c.Tokens, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
