package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Store kinds for CAPACITY_STORE and HISTORY_STORE.
const (
	StoreAuto     = "auto"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	LogLevel          string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	CapacityStore     string   `mapstructure:"CAPACITY_STORE"`
	CapacityFile      string   `mapstructure:"CAPACITY_FILE"`
	HistoryStore      string   `mapstructure:"HISTORY_STORE"`
	HistoryBuffer     int      `mapstructure:"HISTORY_BUFFER"`
	AvgServiceMinutes float64  `mapstructure:"AVG_SERVICE_MINUTES"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit         string   `mapstructure:"BODY_LIMIT"`
	MigrationsDir     string   `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CAPACITY_STORE", "CAPACITY_FILE", "HISTORY_STORE", "HISTORY_BUFFER",
	"AVG_SERVICE_MINUTES",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"MIGRATIONS_DIR",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CAPACITY_STORE", StoreAuto)
	v.SetDefault("CAPACITY_FILE", "department_capacity.json")
	v.SetDefault("HISTORY_STORE", StoreAuto)
	v.SetDefault("HISTORY_BUFFER", 1024)
	v.SetDefault("AVG_SERVICE_MINUTES", 2.5)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("MIGRATIONS_DIR", "")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env values arrive as one comma-separated string or already split
	// without trimming.
	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	cfg.CapacityStore = strings.ToLower(strings.TrimSpace(cfg.CapacityStore))
	cfg.HistoryStore = strings.ToLower(strings.TrimSpace(cfg.HistoryStore))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedCapacityStore returns the effective capacity store kind. "auto"
// means postgres when DATABASE_URL is set and the JSON file otherwise.
func (c *Config) ResolvedCapacityStore() string {
	if c.CapacityStore == "" || c.CapacityStore == StoreAuto {
		if c.DatabaseURL != "" {
			return StorePostgres
		}
		return StoreFile
	}
	return c.CapacityStore
}

// ResolvedHistoryStore returns the effective history store kind. "auto"
// means postgres when DATABASE_URL is set and memory otherwise.
func (c *Config) ResolvedHistoryStore() string {
	if c.HistoryStore == "" || c.HistoryStore == StoreAuto {
		if c.DatabaseURL != "" {
			return StorePostgres
		}
		return StoreMemory
	}
	return c.HistoryStore
}

// NeedsDatabase reports whether any configured store is backed by Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.ResolvedCapacityStore() == StorePostgres || c.ResolvedHistoryStore() == StorePostgres
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.ResolvedCapacityStore() {
	case StoreFile, StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("CAPACITY_STORE must be one of auto, file, postgres, memory; got %q", c.CapacityStore)
	}
	switch c.ResolvedHistoryStore() {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("HISTORY_STORE must be one of auto, postgres, memory; got %q", c.HistoryStore)
	}
	if c.NeedsDatabase() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when a postgres store is configured")
	}
	if c.ResolvedCapacityStore() == StoreFile && strings.TrimSpace(c.CapacityFile) == "" {
		return fmt.Errorf("CAPACITY_FILE is required when CAPACITY_STORE is \"file\"")
	}
	if c.HistoryBuffer <= 0 {
		return fmt.Errorf("HISTORY_BUFFER must be positive, got %d", c.HistoryBuffer)
	}
	if c.AvgServiceMinutes <= 0 {
		return fmt.Errorf("AVG_SERVICE_MINUTES must be positive, got %v", c.AvgServiceMinutes)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max > 0", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %v", c.RateLimitRPS)
	}
	return nil
}
