// Package config loads hybrid-memory settings from defaults, an optional YAML
// file and HYBRID_MEMORY_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"HYBRID_MEMORY_HOST"`
	Port            int           `yaml:"port" env:"HYBRID_MEMORY_PORT"`
	Environment     string        `yaml:"environment" env:"HYBRID_MEMORY_ENVIRONMENT"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"HYBRID_MEMORY_CORS_ORIGINS" envSeparator:","`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HYBRID_MEMORY_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HYBRID_MEMORY_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HYBRID_MEMORY_SHUTDOWN_TIMEOUT"`

	// RateLimit is requests per client IP per RateWindow; 0 disables limiting.
	RateLimit  int           `yaml:"rate_limit" env:"HYBRID_MEMORY_RATE_LIMIT"`
	RateWindow time.Duration `yaml:"rate_window" env:"HYBRID_MEMORY_RATE_WINDOW"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"HYBRID_MEMORY_DB"`
}

type VectorConfig struct {
	// Path persists the index to disk. Empty keeps it in memory.
	Path       string `yaml:"path" env:"HYBRID_MEMORY_VECTOR_PATH"`
	Collection string `yaml:"collection" env:"HYBRID_MEMORY_VECTOR_COLLECTION"`
	Compress   bool   `yaml:"compress" env:"HYBRID_MEMORY_VECTOR_COMPRESS"`
}

type EmbeddingConfig struct {
	Provider  string        `yaml:"provider" env:"HYBRID_MEMORY_EMBEDDING_PROVIDER"`
	Model     string        `yaml:"model" env:"HYBRID_MEMORY_EMBEDDING_MODEL"`
	BaseURL   string        `yaml:"base_url" env:"HYBRID_MEMORY_EMBEDDING_BASE_URL"`
	APIKey    string        `yaml:"api_key" env:"HYBRID_MEMORY_EMBEDDING_API_KEY"`
	Dims      int           `yaml:"dims" env:"HYBRID_MEMORY_EMBEDDING_DIMS"`
	Timeout   time.Duration `yaml:"timeout" env:"HYBRID_MEMORY_EMBEDDING_TIMEOUT"`
	CacheSize int64         `yaml:"cache_size" env:"HYBRID_MEMORY_EMBEDDING_CACHE_SIZE"`
	Breaker   bool          `yaml:"breaker" env:"HYBRID_MEMORY_EMBEDDING_BREAKER"`
	// BatchConcurrency bounds parallel creates within one batch.
	BatchConcurrency int `yaml:"batch_concurrency" env:"HYBRID_MEMORY_BATCH_CONCURRENCY"`
}

type SearchConfig struct {
	DefaultLimit  int     `yaml:"default_limit" env:"HYBRID_MEMORY_SEARCH_DEFAULT_LIMIT"`
	MinSimilarity float64 `yaml:"min_similarity" env:"HYBRID_MEMORY_SEARCH_MIN_SIMILARITY"`
}

type SweepConfig struct {
	Enabled     bool          `yaml:"enabled" env:"HYBRID_MEMORY_SWEEP_ENABLED"`
	Schedule    string        `yaml:"schedule" env:"HYBRID_MEMORY_SWEEP_SCHEDULE"`
	GracePeriod time.Duration `yaml:"grace_period" env:"HYBRID_MEMORY_SWEEP_GRACE_PERIOD"`
	Limit       int           `yaml:"limit" env:"HYBRID_MEMORY_SWEEP_LIMIT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"HYBRID_MEMORY_LOG_LEVEL"`
	Format string `yaml:"format" env:"HYBRID_MEMORY_LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			Environment:     "development",
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:8080"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       100,
			RateWindow:      time.Minute,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(home, ".hybrid-memory", "memory.db"),
		},
		Vector: VectorConfig{
			Path:       filepath.Join(home, ".hybrid-memory", "vectors"),
			Collection: "memories",
		},
		Embedding: EmbeddingConfig{
			Provider:         "hash",
			Model:            "text-embedding-3-small",
			Dims:             1536,
			Timeout:          30 * time.Second,
			CacheSize:        10000,
			Breaker:          true,
			BatchConcurrency: 4,
		},
		Search: SearchConfig{
			DefaultLimit:  10,
			MinSimilarity: 0.7,
		},
		Sweep: SweepConfig{
			Enabled:     true,
			Schedule:    "*/10 * * * *",
			GracePeriod: time.Minute,
			Limit:       100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. A missing file at path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be in 1..65535, got %d", c.Server.Port)
	switch c.Server.Environment {
	case "development", "testing", "production":
	default:
		errs = append(errs, fmt.Errorf("server.environment must be development, testing or production, got %q", c.Server.Environment))
	}
	check(c.Server.RateLimit >= 0, "server.rate_limit must not be negative, got %d", c.Server.RateLimit)
	check(c.Server.RateLimit == 0 || c.Server.RateWindow > 0, "server.rate_window must be positive when rate_limit is set")
	check(c.Database.Path != "", "database.path is required")
	check(c.Vector.Collection != "", "vector.collection is required")

	switch c.Embedding.Provider {
	case "hash", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be hash, openai or ollama, got %q", c.Embedding.Provider))
	}
	check(c.Embedding.Dims > 0, "embedding.dims must be positive, got %d", c.Embedding.Dims)
	check(c.Embedding.Provider != "openai" || c.Embedding.APIKey != "", "embedding.api_key is required for the openai provider")
	check(c.Embedding.BatchConcurrency > 0, "embedding.batch_concurrency must be positive, got %d", c.Embedding.BatchConcurrency)

	check(c.Search.DefaultLimit >= 1 && c.Search.DefaultLimit <= 100, "search.default_limit must be in 1..100, got %d", c.Search.DefaultLimit)
	check(c.Search.MinSimilarity >= 0 && c.Search.MinSimilarity <= 1, "search.min_similarity must be in [0,1], got %g", c.Search.MinSimilarity)

	if c.Sweep.Enabled {
		check(gronx.New().IsValid(c.Sweep.Schedule), "sweep.schedule %q is not a valid cron expression", c.Sweep.Schedule)
	}
	check(c.Sweep.GracePeriod >= 0, "sweep.grace_period must not be negative")

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
