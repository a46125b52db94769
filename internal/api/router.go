// Package api serves the memory service over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/memory"
	"github.com/rcliao/hybrid-memory/internal/model"
)

// Service is the part of memory.Service the HTTP layer uses.
type Service interface {
	CreateMemory(ctx context.Context, d model.Draft) (model.Memory, error)
	CreateMemories(ctx context.Context, drafts []model.Draft) (memory.BatchResult, error)
	GetMemory(ctx context.Context, id string, track bool) (model.Memory, error)
	UpdateMemory(ctx context.Context, id string, p model.Patch) (model.Memory, error)
	DeleteMemory(ctx context.Context, id string) (bool, error)
	SearchMemories(ctx context.Context, req memory.SearchRequest) (memory.SearchResponse, error)
	GetRecentMemories(ctx context.Context, req memory.RecentRequest) ([]model.Memory, error)
	GetStats(ctx context.Context) (model.Stats, error)
	Health(ctx context.Context) memory.HealthStatus
	Repair(ctx context.Context, opts memory.RepairOptions) (memory.RepairReport, error)
}

// Metrics is the HTTP-facing part of observability.Collector.
type Metrics interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// MinSimilarity is the search default when the query omits min_similarity.
	MinSimilarity float64
	// Repair holds the defaults for POST /admin/repair.
	Repair memory.RepairOptions
	// RateLimit caps requests per client IP per RateWindow. Zero disables it.
	// /health and /metrics are never limited.
	RateLimit  int
	RateWindow time.Duration
}

// Router creates and configures the HTTP router
type Router struct {
	svc     Service
	metrics Metrics
	logger  *zap.Logger
	opts    Options
}

// NewRouter creates a new router instance. metrics may be nil.
func NewRouter(svc Service, metrics Metrics, logger *zap.Logger, opts Options) *Router {
	return &Router{svc: svc, metrics: metrics, logger: logger, opts: opts}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(rt.metrics.Middleware)
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.health)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	router.Group(func(r chi.Router) {
		if rt.opts.RateLimit > 0 {
			r.Use(rt.rateLimiter())
		}
		r.Route("/memories", func(r chi.Router) {
			r.Post("/", rt.createMemory)
			r.Post("/batch", rt.createBatch)
			r.Get("/search", rt.searchMemories)
			r.Get("/recent", rt.recentMemories)
			r.Get("/{memoryID}", rt.getMemory)
			r.Put("/{memoryID}", rt.updateMemory)
			r.Delete("/{memoryID}", rt.deleteMemory)
		})
		r.Get("/stats", rt.stats)
		r.Post("/admin/repair", rt.repair)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.respondError(w, http.StatusNotFound, memory.NotFound, "route not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.respondError(w, http.StatusMethodNotAllowed, memory.ValidationFailed, "method not allowed")
	})

	return router
}

// rateLimiter limits each client, keyed by the forwarded or remote IP.
func (rt *Router) rateLimiter() func(http.Handler) http.Handler {
	window := rt.opts.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(rt.opts.RateLimit, window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			rt.respondError(w, http.StatusTooManyRequests, kindRateLimited,
				fmt.Sprintf("rate limit: %d requests per %s", rt.opts.RateLimit, window))
		}))
}
