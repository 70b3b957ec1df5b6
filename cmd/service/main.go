package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-insight-service/internal/cache"
	"github.com/kjstillabower/weather-insight-service/internal/client"
	"github.com/kjstillabower/weather-insight-service/internal/config"
	"github.com/kjstillabower/weather-insight-service/internal/dashboard"
	httphandler "github.com/kjstillabower/weather-insight-service/internal/http"
	"github.com/kjstillabower/weather-insight-service/internal/insight"
	"github.com/kjstillabower/weather-insight-service/internal/lifecycle"
	"github.com/kjstillabower/weather-insight-service/internal/observability"
	"github.com/kjstillabower/weather-insight-service/internal/service"
	"github.com/kjstillabower/weather-insight-service/internal/store"
)

func main() {
	lifecycle.MarkStarted(time.Now())

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClient(client.Options{
		APIKey:                  cfg.WeatherAPIKey,
		WeatherURL:              cfg.WeatherAPIURL,
		GeocodingURL:            cfg.GeocodingAPIURL,
		Timeout:                 cfg.WeatherAPITimeout,
		RetryAttempts:           cfg.RetryAttempts,
		RetryBaseDelay:          cfg.RetryBaseDelay,
		RetryMaxDelay:           cfg.RetryMaxDelay,
		BreakerEnabled:          cfg.CircuitBreakerEnabled,
		BreakerFailureThreshold: cfg.CircuitBreakerFailureThreshold,
		BreakerTimeout:          cfg.CircuitBreakerTimeout,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var text insight.TextGenerator
	if cfg.GeminiAPIKey != "" {
		gemini, err := insight.NewGeminiGenerator(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiTimeout)
		if err != nil {
			logger.Fatal("gemini client", zap.Error(err))
		}
		text = gemini
		logger.Info("insight generator: gemini", zap.String("model", cfg.GeminiModel))
	} else {
		logger.Warn("GEMINI_API_KEY not set; insights will use fallback answers")
	}
	insights := insight.New(text, logger)

	var cacheSvc cache.Cache
	var memcached *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcached = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	weatherService := service.NewWeatherService(weatherClient, cacheSvc, cfg.CacheTTL)

	openCtx, openCancel := context.WithTimeout(context.Background(), 15*time.Second)
	repo, err := store.Open(openCtx, cfg.StoreBackend, cfg.SQLitePath, cfg.DatabaseURL)
	openCancel()
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	logger.Info("store backend", zap.String("backend", cfg.StoreBackend))

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	var warmer *cache.CacheWarmer
	if len(cfg.WarmLocations) > 0 {
		locations, keys := warmTargets(cfg.WarmLocations)
		observability.SetTrackedLocations(keys)
		warmer = cache.NewCacheWarmer(weatherService, logger)
		if err := warmer.Start(warmCtx, cfg.WarmSchedule, locations); err != nil {
			logger.Fatal("cache warming", zap.Error(err))
		}
	}

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	handler := httphandler.NewHandler(httphandler.Deps{
		Weather:  weatherService,
		Client:   weatherClient,
		Insights: insights,
		Repo:     repo,
		Sessions: dashboard.NewSessions(weatherService, insights, repo, logger),
		Health:   healthConfig,
		Logger:   logger,
	})
	router := httphandler.NewRouter(handler, limiter, cfg.RequestTimeout, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopWarming()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	closers := []func() error{repo.Close}
	if warmer != nil {
		closers = append([]func() error{func() error { warmer.Stop(); return nil }}, closers...)
	}
	if memcached != nil {
		closers = append(closers, memcached.Close)
	}
	if err := observability.FlushTelemetry(context.Background(), logger, closers...); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// warmTargets converts configured warm coordinates into warmer locations and the cache keys
// whose metrics are tracked per location.
func warmTargets(coords []config.Coordinates) ([]cache.Location, []string) {
	locations := make([]cache.Location, 0, len(coords))
	keys := make([]string, 0, len(coords))
	for _, c := range coords {
		locations = append(locations, cache.Location{Lat: c.Lat, Lon: c.Lon})
		keys = append(keys, cache.Key(c.Lat, c.Lon))
	}
	return locations, keys
}
