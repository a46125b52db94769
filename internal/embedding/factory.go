package embedding

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options selects and tunes an embedding provider.
type Options struct {
	// Provider is "openai", "ollama" or "hash".
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dims      int
	Timeout   time.Duration
	CacheSize int64
	Breaker   bool
}

// New builds the configured provider, wrapped with the circuit breaker and cache
// when enabled. The cache sits outside the breaker so cached texts survive an outage.
func New(opts Options, observer CacheObserver, logger *zap.Logger) (Embedder, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	var e Embedder
	switch opts.Provider {
	case "openai":
		e = NewOpenAIEmbedder(opts.BaseURL, opts.APIKey, opts.Model, opts.Dims, opts.Timeout)
	case "ollama":
		e = NewOllamaEmbedder(opts.BaseURL, opts.Model, opts.Dims, opts.Timeout)
	case "hash", "":
		e = NewHashEmbedder(opts.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}

	if opts.Breaker {
		e = NewBreaker(e, DefaultBreakerConfig("embedding-"+opts.Provider), logger)
	}
	if opts.CacheSize > 0 {
		cached, err := NewCached(e, opts.CacheSize, opts.Provider+"/"+opts.Model, observer)
		if err != nil {
			return nil, err
		}
		e = cached
	}

	logger.Info("embedding provider ready",
		zap.String("provider", opts.Provider),
		zap.String("model", opts.Model),
		zap.Int("dims", e.Dims()))
	return e, nil
}
