package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-insight-service/internal/cache"
	"github.com/kjstillabower/weather-insight-service/internal/client"
	"github.com/kjstillabower/weather-insight-service/internal/models"
	"github.com/kjstillabower/weather-insight-service/internal/observability"
)

const cacheType = "weather"

// WeatherService orchestrates weather data retrieval using cache-aside pattern
// with upstream API fallback. Concurrent misses for the same coordinates share one upstream call.
type WeatherService struct {
	client client.WeatherClient
	cache  cache.Cache
	ttl    time.Duration
	group  singleflight.Group
}

// NewWeatherService creates a new WeatherService with the provided dependencies.
// TTL specifies the cache expiration duration for weather snapshots.
func NewWeatherService(client client.WeatherClient, cache cache.Cache, ttl time.Duration) *WeatherService {
	return &WeatherService{
		client: client,
		cache:  cache,
		ttl:    ttl,
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns a no-op logger if none is set.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop()
}

// GetWeather returns the snapshot for (lat, lon). Checks cache first, falls back to upstream
// on miss and populates the cache on success. Cache failures are logged and counted only.
func (s *WeatherService) GetWeather(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
	key := cache.Key(lat, lon)
	start := time.Now()
	logger := loggerFromContext(ctx)
	observability.RecordWeatherQuery(key)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues(cacheType, "get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues(cacheType).Inc()

	// The shared fetch must outlive any single waiter's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetch(fetchCtx, key, lat, lon)
	})

	select {
	case <-ctx.Done():
		return models.WeatherSnapshot{}, fmt.Errorf("fetch weather for %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return models.WeatherSnapshot{}, fmt.Errorf("fetch weather for %s: %w", key, res.Err)
		}
		if res.Shared {
			observability.RequestCoalescedTotal.Inc()
		}
		logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
		return res.Val.(models.WeatherSnapshot), nil
	}
}

// Refresh fetches (lat, lon) upstream and overwrites the cache entry regardless of its age.
// Used by the cache warmer.
func (s *WeatherService) Refresh(ctx context.Context, lat, lon float64) error {
	key := cache.Key(lat, lon)
	_, err, _ := s.group.Do(key, func() (any, error) {
		return s.fetch(ctx, key, lat, lon)
	})
	if err != nil {
		return fmt.Errorf("refresh %s: %w", key, err)
	}
	return nil
}

func (s *WeatherService) fetch(ctx context.Context, key string, lat, lon float64) (models.WeatherSnapshot, error) {
	logger := loggerFromContext(ctx)
	logger.Debug("cache miss, fetching upstream", zap.String("key", key))

	snap, err := s.client.GetWeather(ctx, lat, lon)
	if err != nil {
		return models.WeatherSnapshot{}, err
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	if err := s.cache.Set(ctx, key, snap, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues(cacheType, "set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return snap, nil
}

// SearchCities resolves a free-text query to up to five matches. Not cached.
func (s *WeatherService) SearchCities(ctx context.Context, query string) ([]models.GeoLocation, error) {
	results, err := s.client.SearchCities(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search cities %q: %w", query, err)
	}
	return results, nil
}

// ReverseGeocode returns the nearest named place for (lat, lon). Not cached.
func (s *WeatherService) ReverseGeocode(ctx context.Context, lat, lon float64) (models.GeoLocation, error) {
	loc, err := s.client.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("reverse geocode %s: %w", cache.Key(lat, lon), err)
	}
	return loc, nil
}

// IsUpstreamUnavailable reports whether err came from the weather provider being unreachable,
// throttled, or short-circuited, as opposed to a caller error such as an unknown location.
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, client.ErrUpstreamFailure) ||
		errors.Is(err, client.ErrRateLimited) ||
		errors.Is(err, client.ErrCircuitOpen) ||
		errors.Is(err, client.ErrInvalidAPIKey)
}
