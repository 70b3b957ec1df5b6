//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-insight-service/internal/cache"
	"github.com/kjstillabower/weather-insight-service/internal/client"
	"github.com/kjstillabower/weather-insight-service/internal/service"
	"github.com/kjstillabower/weather-insight-service/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	WeatherURL    string
	GeocodingURL  string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
	StoreBackend  string // "memory", "sqlite" or "postgres"
	DatabaseURL   string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	cfg := IntegrationTestConfig{
		APIKey:        apiKey,
		WeatherURL:    envOr("WEATHER_API_URL", "https://api.openweathermap.org/data/3.0/onecall"),
		GeocodingURL:  envOr("GEOCODING_API_URL", "https://api.openweathermap.org/geo/1.0"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		StoreBackend:  envOr("INTEGRATION_STORE_BACKEND", "memory"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SetupIntegrationClient creates a weather client against the real API.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(client.Options{
		APIKey:         cfg.APIKey,
		WeatherURL:     cfg.WeatherURL,
		GeocodingURL:   cfg.GeocodingURL,
		Timeout:        5 * time.Second,
		RetryAttempts:  2,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  time.Second,
	})
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService creates a fully configured service for integration tests.
// Returns weather service, cache instance, and cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig, weatherClient client.WeatherClient) (*service.WeatherService, cache.Cache, func()) {
	t.Helper()
	var cacheSvc cache.Cache
	cleanup := func() {}

	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			cacheSvc = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available, using in-memory cache")
			cacheSvc = cache.NewInMemoryCache()
		}
	} else {
		cacheSvc = cache.NewInMemoryCache()
	}

	return service.NewWeatherService(weatherClient, cacheSvc, 5*time.Minute), cacheSvc, cleanup
}

// SetupIntegrationStore opens the configured repository. SQLite uses a per-test temp file.
func SetupIntegrationStore(t *testing.T, cfg IntegrationTestConfig) store.Repository {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	repo, err := store.Open(ctx, cfg.StoreBackend, t.TempDir()+"/integration.db", cfg.DatabaseURL)
	if err != nil {
		t.Fatalf("store.Open(%s) error = %v", cfg.StoreBackend, err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}
