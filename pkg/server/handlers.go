package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sophia-ai/sophia/pkg/budget"
	"github.com/sophia-ai/sophia/pkg/cache"
	"github.com/sophia-ai/sophia/pkg/catalog"
	"github.com/sophia-ai/sophia/pkg/inference"
	"github.com/sophia-ai/sophia/pkg/models"
	"github.com/sophia-ai/sophia/pkg/router"
)

const maxBodyBytes = 4 << 20

// cachedCompletion is what the response cache stores for a prompt.
type cachedCompletion struct {
	Model    string
	Response openai.ChatCompletionResponse
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req models.ChatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	var key string
	if s.cache != nil {
		key = cache.PromptKey(req.Model, req.Messages, req.Temperature, req.MaxTokens)
		if v, ok := s.cache.Get(key); ok {
			if hit, ok := v.(cachedCompletion); ok {
				w.Header().Set("X-Sophia-Cache", "hit")
				w.Header().Set("X-Sophia-Model", hit.Model)
				writeJSON(w, http.StatusOK, hit.Response)
				return
			}
		}
	}

	// Budgets apply to each resolved model, not to the alias.
	var guard router.Guard
	if s.enforcer != nil {
		guard = func(ctx context.Context, model string) error {
			return s.enforcer.Check(ctx, req.User, model)
		}
	}

	resp, served, err := s.router.Generate(r.Context(), s.client, inference.GenerateRequest{
		Messages:    req.Messages,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		UserID:      req.User,
		SessionID:   r.Header.Get("X-Sophia-Session"),
	}, guard)
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}

	if s.cache != nil {
		s.cache.Set(key, cachedCompletion{Model: served, Response: resp})
		s.cache.InvalidatePattern(usageKeyPrefix)
	}

	w.Header().Set("X-Sophia-Cache", "miss")
	w.Header().Set("X-Sophia-Model", served)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	var terr *inference.TransportError
	switch {
	case errors.Is(err, inference.ErrInvalidModel):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, budget.ErrBudgetExceeded):
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, budget.ErrCheckFailed):
		s.log.Error("budget check failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "budget check failed")
	case errors.As(err, &terr):
		s.log.Warn("upstream failed", zap.Error(err))
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		s.log.Warn("generate failed", zap.Error(err))
		writeJSONError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelList struct {
		Object string          `json:"object"`
		Data   []catalog.Model `json:"data"`
	}
	writeJSON(w, http.StatusOK, modelList{Object: "list", Data: s.client.Catalog().Models()})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	days := inference.DefaultUsageDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		if n > 0 {
			days = n
		}
	}

	report, err := s.usage(r.Context(), days)
	if err != nil {
		s.log.Error("usage stats failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "usage stats failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if s.enforcer == nil {
		writeJSONError(w, http.StatusNotFound, "budget enforcement is disabled")
		return
	}
	statuses, err := s.enforcer.Status(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		s.log.Error("budget status failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "budget status failed")
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeJSONError(w, http.StatusNotFound, "cache is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSONError(w, http.StatusNotFound, "cache is disabled")
		return
	}
	key := chi.URLParam(r, "key")
	if !s.cache.Invalidate(key) {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no cache entry %q", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": 1})
}

func (s *Server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSONError(w, http.StatusNotFound, "cache is disabled")
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSONError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": s.cache.InvalidatePattern(pattern)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"sophia_error","code":%d}}`, message, code)
}
