// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	matchCfg, err := cfg.MatcherConfig()
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Matching      MatchingConfig      `yaml:"matching"`
	Scoring       ScoringConfig       `yaml:"scoring"`
	Duplicates    DuplicatesConfig    `yaml:"duplicates"`
	Normalizer    NormalizerConfig    `yaml:"normalizer"`
	Allocation    AllocationConfig    `yaml:"allocation"`
	Batch         BatchConfig         `yaml:"batch"`
	Locker        LockerConfig        `yaml:"locker"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MatchingConfig holds matcher tolerances and strategy order.
// Decimal values are strings so YAML never rounds them through float64.
type MatchingConfig struct {
	AmountTolerance            string       `yaml:"amount_tolerance"`
	DateToleranceDays          int          `yaml:"date_tolerance_days"`
	FuzzyAmountPct             string       `yaml:"fuzzy_amount_pct"`
	IdentityAmountTolerancePct string       `yaml:"identity_amount_tolerance_pct"`
	IdentityDateWindowDays     int          `yaml:"identity_date_window_days"`
	Order                      []string     `yaml:"order"`
	Rules                      []RuleConfig `yaml:"rules"`
}

// RuleConfig is one special matching rule
type RuleConfig struct {
	Name              string `yaml:"name"`
	Pattern           string `yaml:"pattern"`
	Amount            string `yaml:"amount"` // Empty matches any amount
	DateToleranceDays int    `yaml:"date_tolerance_days"`
}

// ScoringConfig holds confidence scoring settings
type ScoringConfig struct {
	AutoApplyThreshold      int      `yaml:"auto_apply_threshold"`
	SecondaryFeeds          []string `yaml:"secondary_feeds"`
	CorroborationWindowDays int      `yaml:"corroboration_window_days"`
}

// DuplicatesConfig holds duplicate detection settings
type DuplicatesConfig struct {
	WindowDays        int `yaml:"window_days"`
	RepeatClusterSize int `yaml:"repeat_cluster_size"`
}

// NormalizerConfig holds parsing settings
type NormalizerConfig struct {
	MinorUnitPlaces int      `yaml:"minor_unit_places"`
	Rounding        string   `yaml:"rounding"` // truncate or half_up
	DateLayouts     []string `yaml:"date_layouts"`
	HashPrefixLen   int      `yaml:"hash_prefix_len"`
	KeyPattern      string   `yaml:"key_pattern"`
}

// AllocationConfig holds split and balance settings
type AllocationConfig struct {
	Tolerance        string `yaml:"tolerance"`
	BalanceTolerance string `yaml:"balance_tolerance"`
}

// BatchConfig holds batch runner settings
type BatchConfig struct {
	Workers    int           `yaml:"workers"`
	Timeout    time.Duration `yaml:"timeout"`
	MatchFeeds []string      `yaml:"match_feeds"`
}

// LockerConfig selects the per-charter lock backend
type LockerConfig struct {
	Backend       string        `yaml:"backend"` // memory or redis
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Expiry        time.Duration `yaml:"expiry"`
	Tries         int           `yaml:"tries"`
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${REDIS_PASSWORD})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			DatabasePath: getEnv("RECONCILE_DB_PATH", "reconcile.db"),
		},
		Matching: MatchingConfig{
			AmountTolerance:   getEnv("RECONCILE_AMOUNT_TOLERANCE", "0"),
			DateToleranceDays: getEnvInt("RECONCILE_DATE_TOLERANCE_DAYS", 7),
		},
		Scoring: ScoringConfig{
			AutoApplyThreshold: getEnvInt("RECONCILE_AUTO_APPLY_THRESHOLD", 3),
		},
		Batch: BatchConfig{
			Workers: getEnvInt("RECONCILE_WORKERS", 4),
			Timeout: getEnvDuration("RECONCILE_BATCH_TIMEOUT", 5*time.Minute),
		},
		Locker: LockerConfig{
			Backend:       getEnv("RECONCILE_LOCKER", "memory"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       getEnvInt("REDIS_DB", 0),
		},
		API: APIConfig{
			Addr: getEnv("RECONCILE_API_ADDR", ":8085"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
	if origins := os.Getenv("RECONCILE_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = strings.Split(origins, ",")
	}
	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnv_WithPath("config.yaml")
}

// LoadOrEnv_WithPath tries to load from specified path, falls back to environment variables
func LoadOrEnv_WithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// applyDefaults fills settings the domain packages do not default themselves
func (c *Config) applyDefaults() {
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "reconcile.db"
	}
	if c.Batch.Workers <= 0 {
		c.Batch.Workers = 4
	}
	if c.Batch.Timeout <= 0 {
		c.Batch.Timeout = 5 * time.Minute
	}
	if c.Locker.Backend == "" {
		c.Locker.Backend = "memory"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8085"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

// getEnvDuration retrieves a duration environment variable with a fallback default
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
