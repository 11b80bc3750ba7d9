package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store kinds accepted by SNAPSHOT_STORE.
const (
	StoreNone     = "none"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the coordinator and rules service configuration.
type Config struct {
	Port      int `yaml:"port"`
	RulesPort int `yaml:"rules_port"`

	// GracePeriod is how long a disconnected seat may stay unbound before it forfeits.
	GracePeriod     time.Duration `yaml:"seat_grace_period"`
	ResultRetention time.Duration `yaml:"result_retention"`

	RulesURL     string        `yaml:"rules_url"`
	RulesTimeout time.Duration `yaml:"rules_timeout"`
	DefaultGame  string        `yaml:"default_game"`

	SnapshotStore    string        `yaml:"snapshot_store"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	DatabaseURL      string        `yaml:"database_url"`
	RedisURL         string        `yaml:"redis_url"`

	MessageRateLimit int           `yaml:"msg_rate_limit"`
	IdleTimeout      time.Duration `yaml:"connection_idle_timeout"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// Default returns the built-in defaults, before any file or env override.
func Default() *Config {
	return &Config{
		Port:             8080,
		RulesPort:        8090,
		GracePeriod:      60 * time.Second,
		ResultRetention:  2 * time.Minute,
		RulesTimeout:     3 * time.Second,
		DefaultGame:      "tictactoe",
		SnapshotStore:    StoreNone,
		SnapshotInterval: 30 * time.Second,
		MessageRateLimit: 10,
		IdleTimeout:      90 * time.Second,
		AllowedOrigins:   []string{"*"},
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				errs = append(errs, fmt.Errorf("%s: invalid positive integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setInt("PORT", &c.Port)
	setInt("RULES_PORT", &c.RulesPort)
	setDuration("SEAT_GRACE_PERIOD", &c.GracePeriod)
	setDuration("RESULT_RETENTION", &c.ResultRetention)
	setString("RULES_URL", &c.RulesURL)
	setDuration("RULES_TIMEOUT", &c.RulesTimeout)
	setString("DEFAULT_GAME", &c.DefaultGame)
	setString("SNAPSHOT_STORE", &c.SnapshotStore)
	setDuration("SNAPSHOT_INTERVAL", &c.SnapshotInterval)
	setString("DATABASE_URL", &c.DatabaseURL)
	setString("REDIS_URL", &c.RedisURL)
	setInt("MSG_RATE_LIMIT", &c.MessageRateLimit)
	setDuration("CONNECTION_IDLE_TIMEOUT", &c.IdleTimeout)

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = c.AllowedOrigins[:0]
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, s)
			}
		}
	}

	return errors.Join(errs...)
}

// Validate checks ranges and that the chosen store has its URL.
func (c *Config) Validate() error {
	if c.GracePeriod < time.Second || c.GracePeriod > 10*time.Minute {
		return fmt.Errorf("SEAT_GRACE_PERIOD must be between 1s and 10m, got %s", c.GracePeriod)
	}
	if c.ResultRetention <= 0 {
		return errors.New("RESULT_RETENTION must be positive")
	}
	if c.RulesTimeout <= 0 {
		return errors.New("RULES_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.DefaultGame) == "" {
		return errors.New("DEFAULT_GAME is required")
	}

	c.SnapshotStore = strings.ToLower(strings.TrimSpace(c.SnapshotStore))
	switch c.SnapshotStore {
	case "", StoreNone:
		c.SnapshotStore = StoreNone
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres snapshot store")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis snapshot store")
		}
	default:
		return fmt.Errorf("unknown SNAPSHOT_STORE %q", c.SnapshotStore)
	}
	if c.SnapshotStore != StoreNone && c.SnapshotInterval <= 0 {
		return errors.New("SNAPSHOT_INTERVAL must be positive")
	}
	return nil
}
