package router

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sophia-ai/sophia/pkg/config"
	"github.com/sophia-ai/sophia/pkg/inference"
	"github.com/sophia-ai/sophia/pkg/logger"
)

// Generator is the metered call the router fails over across.
type Generator interface {
	Generate(ctx context.Context, req inference.GenerateRequest) (openai.ChatCompletionResponse, error)
}

// Guard is consulted before each model in a chain is tried. A non-nil error
// skips that model.
type Guard func(ctx context.Context, model string) error

// Router resolves requested model names to ordered failover chains.
type Router struct {
	routes map[string][]string
	log    *zap.Logger
}

// New creates a Router from the given configuration.
func New(cfg config.RouterConfig, l *zap.Logger) *Router {
	routes := make(map[string][]string, len(cfg.Routes))
	for _, r := range cfg.Routes {
		if len(r.Targets) == 0 {
			continue
		}
		routes[r.Model] = append([]string(nil), r.Targets...)
	}
	return &Router{routes: routes, log: logger.OrNop(l)}
}

// Resolve returns the ordered list of models to try for the requested name.
// A name without a configured route resolves to itself.
func (r *Router) Resolve(requestedModel string) []string {
	if targets, ok := r.routes[requestedModel]; ok {
		return append([]string(nil), targets...)
	}
	return []string{requestedModel}
}

// Generate tries each model in the chain for req.Model until one succeeds.
// It returns the response and the model that served it. guard may be nil.
// Failover stops when the caller's context is done.
func (r *Router) Generate(ctx context.Context, g Generator, req inference.GenerateRequest, guard Guard) (openai.ChatCompletionResponse, string, error) {
	chain := r.Resolve(req.Model)

	var lastErr error
	for _, model := range chain {
		if guard != nil {
			if err := guard(ctx, model); err != nil {
				lastErr = err
				if ctx.Err() != nil {
					break
				}
				r.log.Debug("model skipped by guard", zap.String("alias", req.Model), zap.String("model", model), zap.Error(err))
				continue
			}
		}

		attempt := req
		attempt.Model = model

		resp, err := g.Generate(ctx, attempt)
		if err == nil {
			return resp, model, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if len(chain) > 1 {
			r.log.Warn("model failed, trying next",
				zap.String("alias", req.Model),
				zap.String("model", model),
				zap.Error(err),
			)
		}
	}

	if len(chain) == 1 {
		return openai.ChatCompletionResponse{}, "", lastErr
	}
	if errors.Is(lastErr, inference.ErrInvalidModel) {
		return openai.ChatCompletionResponse{}, "", lastErr
	}
	return openai.ChatCompletionResponse{}, "", fmt.Errorf("route %q: all %d models failed: %w", req.Model, len(chain), lastErr)
}
