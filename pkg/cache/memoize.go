package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sophia-ai/sophia/pkg/models"
)

// Memoize wraps fn so results are served from c for ttl.
//
// keyFn must return a stable key that is unique per distinct argument;
// Memoize does not stringify arguments itself. Errors from fn are returned
// as-is and never cached. A cached value of the wrong type is treated as a
// miss and overwritten.
func Memoize[K, V any](c *Cache, ttl time.Duration, keyFn func(K) string, fn func(context.Context, K) (V, error)) func(context.Context, K) (V, error) {
	return func(ctx context.Context, arg K) (V, error) {
		key := keyFn(arg)
		if v, ok := c.Get(key); ok {
			if typed, ok := v.(V); ok {
				return typed, nil
			}
		}

		v, err := fn(ctx, arg)
		if err != nil {
			var zero V
			return zero, err
		}
		c.SetWithTTL(key, v, ttl)
		return v, nil
	}
}

// PromptKey computes a SHA-256 key for a chat request. Every field that
// changes the completion is part of the key.
func PromptKey(model string, messages []models.ChatMessage, temperature float32, maxTokens int) string {
	h := sha256.New()
	h.Write([]byte(model))
	data, _ := json.Marshal(messages)
	h.Write(data)
	fmt.Fprintf(h, "|%g|%d", temperature, maxTokens)
	return fmt.Sprintf("prompt:%x", h.Sum(nil))
}
