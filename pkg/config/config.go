// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Index, Search, Autocomplete, Cache, Redis, Postgres, Kafka, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Index        IndexConfig        `yaml:"index"`
	Search       SearchConfig       `yaml:"search"`
	Autocomplete AutocompleteConfig `yaml:"autocomplete"`
	Cache        CacheConfig        `yaml:"cache"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// IndexConfig controls the build pipeline: block memory budget, number of
// posting barrels, and the document source.
type IndexConfig struct {
	InputPath   string `yaml:"inputPath"`
	OutputDir   string `yaml:"outputDir"`
	BlockBudget int64  `yaml:"blockBudget"`
	Barrels     int    `yaml:"barrels"`
	Source      string `yaml:"source"` // "file" or "kafka"
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	IndexDir     string        `yaml:"indexDir"`
	TopK         int           `yaml:"topK"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
	CacheResults bool          `yaml:"cacheResults"`
}

// AutocompleteConfig controls the prefix table builder and server.
type AutocompleteConfig struct {
	MaxPrefixLen    int `yaml:"maxPrefixLen"`
	TopKPerPrefix   int `yaml:"topKPerPrefix"`
	MinPrefixLen    int `yaml:"minPrefixLen"`
	SuggestionLimit int `yaml:"suggestionLimit"`
}

// CacheConfig controls the in-process barrel cache.
type CacheConfig struct {
	BarrelCapacity int  `yaml:"barrelCapacity"`
	PreloadBarrels bool `yaml:"preloadBarrels"`
}

// RedisConfig holds Redis connection parameters for the query-result cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters for the document
// metadata store.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for the streaming
// document source.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	DocumentTopic string   `yaml:"documentTopic"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults for local development.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			BlockBudget: 256 << 20,
			Barrels:     4,
			Source:      "file",
		},
		Search: SearchConfig{
			TopK:         10,
			QueryTimeout: 2 * time.Second,
			CacheResults: false,
		},
		Autocomplete: AutocompleteConfig{
			MaxPrefixLen:    15,
			TopKPerPrefix:   20,
			MinPrefixLen:    2,
			SuggestionLimit: 10,
		},
		Cache: CacheConfig{
			BarrelCapacity: 4,
			PreloadBarrels: false,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "papyrus",
			User:            "papyrus",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "papyrus-indexer",
			DocumentTopic: "documents.cleaned",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate rejects configurations that cannot produce a working index.
func (c *Config) Validate() error {
	if c.Index.Barrels < 1 {
		return fmt.Errorf("index.barrels must be >= 1, got %d", c.Index.Barrels)
	}
	if c.Index.BlockBudget < 1<<20 {
		return fmt.Errorf("index.blockBudget must be >= 1 MiB, got %d", c.Index.BlockBudget)
	}
	if c.Index.Source != "file" && c.Index.Source != "kafka" {
		return fmt.Errorf("index.source must be file or kafka, got %q", c.Index.Source)
	}
	if c.Autocomplete.MinPrefixLen < 1 || c.Autocomplete.MaxPrefixLen < c.Autocomplete.MinPrefixLen {
		return fmt.Errorf("autocomplete prefix lengths invalid: min=%d max=%d",
			c.Autocomplete.MinPrefixLen, c.Autocomplete.MaxPrefixLen)
	}
	if c.Cache.BarrelCapacity < 1 {
		return fmt.Errorf("cache.barrelCapacity must be >= 1, got %d", c.Cache.BarrelCapacity)
	}
	return nil
}

// applyEnvOverrides reads PAPYRUS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAPYRUS_INDEX_DIR"); v != "" {
		cfg.Search.IndexDir = v
	}
	if v := os.Getenv("PAPYRUS_INDEX_BARRELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.Barrels = n
		}
	}
	if v := os.Getenv("PAPYRUS_INDEX_BLOCK_BUDGET"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Index.BlockBudget = n
		}
	}
	if v := os.Getenv("PAPYRUS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("PAPYRUS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PAPYRUS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PAPYRUS_POSTGRES_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = n
		}
	}
	if v := os.Getenv("PAPYRUS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PAPYRUS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PAPYRUS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PAPYRUS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PAPYRUS_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.DocumentTopic = v
	}
	if v := os.Getenv("PAPYRUS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PAPYRUS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PAPYRUS_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = n
			cfg.Metrics.Enabled = true
		}
	}
}
