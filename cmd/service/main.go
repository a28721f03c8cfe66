package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/yahooweather-binding/internal/cache"
	"github.com/kjstillabower/yahooweather-binding/internal/client"
	"github.com/kjstillabower/yahooweather-binding/internal/config"
	httphandler "github.com/kjstillabower/yahooweather-binding/internal/http"
	"github.com/kjstillabower/yahooweather-binding/internal/lifecycle"
	"github.com/kjstillabower/yahooweather-binding/internal/models"
	"github.com/kjstillabower/yahooweather-binding/internal/observability"
	"github.com/kjstillabower/yahooweather-binding/internal/refresh"
	"github.com/kjstillabower/yahooweather-binding/internal/thing"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	logger, err := observability.NewLogger(zap.String("service", "yahooweather"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	zones, err := models.NewZoneRegistry(cfg.TimeZones...)
	if err != nil {
		logger.Fatal("time zones", zap.Error(err))
	}

	yql, err := client.NewYQLClientWithRetry(
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	yql.WithBreaker(client.NewBreaker(client.BreakerConfig{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		HalfOpenRequests: uint32(cfg.BreakerHalfOpenRequests),
		OpenTimeout:      cfg.BreakerOpenTimeout,
	}, logger))
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
		zap.Duration("open_timeout", cfg.BreakerOpenTimeout))

	store, err := openStore(context.Background(), cfg)
	if err != nil {
		logger.Fatal("cache store", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend), zap.Duration("ttl", cfg.CacheTTL))
	weatherCache := cache.NewExpiringCache(store.store, cfg.CacheTTL, logger)

	registry := thing.NewRegistry()
	schedulers := newSchedulers(cfg, weatherCache, yql, models.NewParser(zones), registry, logger)

	if cfg.WarmCache && len(schedulers) > 0 {
		warmer := cache.NewWarmer(weatherCache, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, weatherCache.Keys()); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
	}

	runCtx, stopSchedulers := context.WithCancel(context.Background())
	refreshers := make(map[string]httphandler.Refresher, len(schedulers))
	for _, s := range schedulers {
		refreshers[s.ThingID()] = s
		s.Start(runCtx)
	}

	var limiter *rate.Limiter
	if cfg.RefreshRateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RefreshRateLimitRPS), cfg.RefreshRateLimitBurst)
	}
	handler := httphandler.NewHandler(registry, refreshers, logger, store.ping)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterOptions{
		RequestTimeout: cfg.RequestTimeout,
		RefreshLimiter: limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	lifecycle.MarkStarted(time.Now())
	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.Int("things", len(schedulers)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	stopSchedulers()
	for _, s := range schedulers {
		s.Dispose()
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if store.close != nil {
		if err := store.close(); err != nil {
			logger.Error("cache store close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newSchedulers creates one thing and one scheduler per configured thing.
// Schedulers are not started.
func newSchedulers(
	cfg *config.Config,
	c *cache.ExpiringCache,
	fetcher client.Fetcher,
	parser *models.Parser,
	registry *thing.Registry,
	logger *zap.Logger,
) []*refresh.Scheduler {
	out := make([]*refresh.Scheduler, 0, len(cfg.Things))
	for _, tc := range cfg.Things {
		tcfg := thing.Configuration{Location: tc.Location, Refresh: tc.Refresh}
		t := thing.New(tc.ID, tcfg)
		registry.Add(t)
		observability.SetThingStatus(tc.ID, string(thing.StatusUnknown))
		out = append(out, refresh.New(c, fetcher, t, logger, refresh.Options{
			ThingID:    tc.ID,
			Config:     tcfg,
			MaxDataAge: cfg.MaxDataAge,
			Parser:     parser,
		}))
	}
	return out
}

type storeHandle struct {
	store cache.Store
	// ping and close are nil for the in-memory store.
	ping  func(ctx context.Context) error
	close func() error
}

// openStore builds the cache backend named by cfg.CacheBackend.
func openStore(ctx context.Context, cfg *config.Config) (storeHandle, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendMemcached:
		mc := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		return storeHandle{store: mc, ping: mc.Ping, close: mc.Close}, nil
	case config.CacheBackendRedis:
		rs, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.RedisTimeout,
			ReadTimeout:  cfg.RedisTimeout,
			WriteTimeout: cfg.RedisTimeout,
		})
		if err != nil {
			return storeHandle{}, err
		}
		return storeHandle{store: rs, ping: rs.Ping, close: rs.Close}, nil
	default:
		return storeHandle{store: cache.NewMemoryStore()}, nil
	}
}
