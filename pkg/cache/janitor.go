package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultCleanupInterval is how often RunJanitor sweeps when no interval is given.
const DefaultCleanupInterval = 300 * time.Second

// RunJanitor calls CleanupExpired every interval until ctx is cancelled.
// It blocks; run it in its own goroutine and cancel ctx to stop it.
func (c *Cache) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.CleanupExpired(); n > 0 {
				c.log.Debug("cache cleanup", zap.Int("expired", n))
			}
		}
	}
}
