// Package cache provides a key-value cache whose values are recomputed on
// demand once they are older than a fixed expiry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/yahooweather-binding/internal/observability"
)

var (
	// ErrUnknownKey is returned by Get for a key that was never Put.
	ErrUnknownKey = errors.New("unknown cache key")
	// ErrFetch wraps a supplier failure.
	ErrFetch = errors.New("cache recompute failed")
)

// Supplier produces a fresh value for a key.
type Supplier func(ctx context.Context) (string, error)

// ExpiringCache maps keys to lazily recomputed string values. A value is
// served from the store while it is younger than the expiry; otherwise the
// key's supplier runs again. At most one supplier call per key is in flight;
// concurrent Gets for that key share its result. Keys are independent.
type ExpiringCache struct {
	store   Store
	expiry  time.Duration
	logger  *zap.Logger
	flights *flightGroup

	mu        sync.RWMutex
	suppliers map[string]Supplier
}

// NewExpiringCache creates a cache over store. A nil store uses a new
// MemoryStore; a nil logger discards logs.
func NewExpiringCache(store Store, expiry time.Duration, logger *zap.Logger) *ExpiringCache {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiringCache{
		store:     store,
		expiry:    expiry,
		logger:    logger,
		flights:   newFlightGroup(),
		suppliers: make(map[string]Supplier),
	}
}

// Expiry is the age after which values are recomputed.
func (c *ExpiringCache) Expiry() time.Duration { return c.expiry }

// Put registers supplier for key without calling it. Replacing an existing
// supplier drops the value it produced.
func (c *ExpiringCache) Put(key string, supplier Supplier) {
	c.mu.Lock()
	_, replaced := c.suppliers[key]
	c.suppliers[key] = supplier
	c.mu.Unlock()

	if replaced {
		if err := c.store.Delete(context.Background(), key); err != nil {
			observability.CacheStoreErrorsTotal.WithLabelValues("delete").Inc()
			c.logger.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Keys lists the registered keys in sorted order.
func (c *ExpiringCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.suppliers))
	for k := range c.suppliers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value for key, recomputing it if absent or expired.
// Supplier errors are wrapped in ErrFetch and nothing is stored; the next Get
// tries again. If ctx ends while waiting, Get returns ctx.Err() but the
// recomputation still completes and stores its value.
func (c *ExpiringCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	supplier, ok := c.suppliers[key]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if v, ok := c.lookup(ctx, key); ok {
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return v, nil
	}
	observability.CacheLookupsTotal.WithLabelValues("miss").Inc()

	detached := context.WithoutCancel(ctx)
	v, shared, err := c.flights.do(ctx, key, func() (string, error) {
		// A run that finished just before this one started may have stored a
		// fresh value already.
		if v, ok := c.lookup(detached, key); ok {
			return v, nil
		}
		return c.recompute(detached, key, supplier)
	})
	if shared {
		observability.CacheCoalescedTotal.Inc()
	}
	return v, err
}

func (c *ExpiringCache) lookup(ctx context.Context, key string) (string, bool) {
	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		observability.CacheStoreErrorsTotal.WithLabelValues("get").Inc()
		c.logger.Warn("cache store read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

func (c *ExpiringCache) recompute(ctx context.Context, key string, supplier Supplier) (string, error) {
	start := time.Now()
	v, err := supplier(ctx)
	if err != nil {
		observability.CacheRecomputesTotal.WithLabelValues("error").Inc()
		c.logger.Debug("cache recompute failed",
			zap.String("key", key),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %s: %w", ErrFetch, key, err)
	}
	observability.CacheRecomputesTotal.WithLabelValues("success").Inc()

	if err := c.store.Set(ctx, key, v, c.expiry); err != nil {
		observability.CacheStoreErrorsTotal.WithLabelValues("set").Inc()
		c.logger.Warn("cache store write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
