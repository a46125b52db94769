package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/config"
	"github.com/rcliao/hybrid-memory/internal/embedding"
	"github.com/rcliao/hybrid-memory/internal/logging"
	"github.com/rcliao/hybrid-memory/internal/memory"
	"github.com/rcliao/hybrid-memory/internal/observability"
	"github.com/rcliao/hybrid-memory/internal/store"
	"github.com/rcliao/hybrid-memory/internal/vector"
)

// app holds the long-lived handles shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.SQLiteStore
	index    *vector.ChromemIndex
	embedder embedding.Embedder
	metrics  *observability.Collector
	svc      *memory.Service
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

// openApp wires the service from configuration. Outside of serve the logger
// only reports warnings unless --verbose is set.
func openApp(server bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if !server && !verbose {
		level = "warn"
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	idx, err := vector.NewChromemIndex(vector.ChromemOptions{
		Path:       cfg.Vector.Path,
		Compress:   cfg.Vector.Compress,
		Collection: cfg.Vector.Collection,
		Dims:       cfg.Embedding.Dims,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	metrics := observability.NewCollector("hybrid_memory")
	emb, err := embedding.New(embedding.Options{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Dims:      cfg.Embedding.Dims,
		Timeout:   cfg.Embedding.Timeout,
		CacheSize: cfg.Embedding.CacheSize,
		Breaker:   cfg.Embedding.Breaker,
	}, metrics, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	svc := memory.NewService(memory.Deps{
		Repo:     st,
		Index:    idx,
		Embedder: emb,
		Logger:   logger,
		Metrics:  metrics,
	}, memory.Options{
		BatchConcurrency:   cfg.Embedding.BatchConcurrency,
		DefaultSearchLimit: cfg.Search.DefaultLimit,
		Version:            Version,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		index:    idx,
		embedder: emb,
		metrics:  metrics,
		svc:      svc,
	}, nil
}

func (a *app) repairOptions() memory.RepairOptions {
	return memory.RepairOptions{
		GracePeriod: a.cfg.Sweep.GracePeriod,
		Limit:       a.cfg.Sweep.Limit,
	}
}

func (a *app) Close() {
	if c, ok := a.embedder.(*embedding.Cached); ok {
		c.Close()
	}
	a.store.Close()
	a.logger.Sync()
}
