package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/yahooweather-binding/internal/observability"
)

// Getter is the read side of ExpiringCache.
type Getter interface {
	Get(ctx context.Context, key string) (string, error)
}

// Warmer fills a cache ahead of the first refresh by resolving keys
// concurrently.
type Warmer struct {
	cache  Getter
	logger *zap.Logger
}

// NewWarmer creates a Warmer over cache.
func NewWarmer(cache Getter, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{cache: cache, logger: logger}
}

// Warm resolves every key concurrently. The returned error joins every
// per-key failure.
func (w *Warmer) Warm(ctx context.Context, keys []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("keys", len(keys)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(keys))
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if _, err := w.cache.Get(ctx, key); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", key, err)
			}
		}(key)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("keys", len(keys)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}
