// Package server exposes the metered inference client over an
// OpenAI-compatible HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sophia-ai/sophia/pkg/budget"
	"github.com/sophia-ai/sophia/pkg/cache"
	"github.com/sophia-ai/sophia/pkg/config"
	"github.com/sophia-ai/sophia/pkg/inference"
	"github.com/sophia-ai/sophia/pkg/logger"
	"github.com/sophia-ai/sophia/pkg/models"
	"github.com/sophia-ai/sophia/pkg/router"
)

const (
	requestTimeout  = 5 * time.Minute
	shutdownTimeout = 5 * time.Second
	usageKeyPrefix  = "usage:"
)

// Server is the sophia HTTP API.
type Server struct {
	cfg      *config.Config
	client   *inference.Client
	router   *router.Router
	cache    *cache.Cache
	enforcer *budget.Enforcer
	log      *zap.Logger
	usage    func(context.Context, int) (models.UsageReport, error)
	handler  http.Handler
}

// New creates a Server wired with all dependencies. c and e may be nil to
// disable response caching and budget enforcement.
func New(cfg *config.Config, client *inference.Client, rt *router.Router, c *cache.Cache, e *budget.Enforcer, l *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		client:   client,
		router:   rt,
		cache:    c,
		enforcer: e,
		log:      logger.OrNop(l),
		usage:    client.UsageStats,
	}
	if c != nil {
		s.usage = cache.Memoize(c, cfg.Cache.UsageTTL, usageKey, client.UsageStats)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.handleChatCompletions)
		r.Get("/models", s.handleModels)
		r.Get("/usage", s.handleUsage)
		r.Get("/budget/{user}", s.handleBudget)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleCachePurge)
		r.Delete("/cache/{key}", s.handleCacheDelete)
	})
	s.handler = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("sophia listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func usageKey(days int) string {
	return fmt.Sprintf("%s%d", usageKeyPrefix, days)
}
