package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-insight-service/internal/observability"
)

// Refresher is implemented by the service layer: fetch fresh weather for a coordinate pair and
// store it in the cache. Used by CacheWarmer to avoid a circular dependency on the service package.
type Refresher interface {
	Refresh(ctx context.Context, lat, lon float64) error
}

// Location is a coordinate pair to keep warm.
type Location struct {
	Lat float64
	Lon float64
}

// CacheWarmer keeps snapshots for a fixed set of locations fresh, on demand or on a cron schedule.
type CacheWarmer struct {
	refresher Refresher
	logger    *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCacheWarmer creates a CacheWarmer that uses the given refresher and logger.
func NewCacheWarmer(refresher Refresher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{refresher: refresher, logger: logger}
}

// Warm refreshes each location concurrently. Returns the joined errors of the locations that failed.
func (w *CacheWarmer) Warm(ctx context.Context, locations []Location) error {
	start := time.Now()
	w.logger.Info("warming cache", zap.Int("locations", len(locations)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(locations))
	for _, loc := range locations {
		wg.Add(1)
		go func(loc Location) {
			defer wg.Done()
			if err := w.refresher.Refresh(ctx, loc.Lat, loc.Lon); err != nil {
				observability.CacheWarmLocationsTotal.WithLabelValues("error").Inc()
				errCh <- fmt.Errorf("warm %s: %w", Key(loc.Lat, loc.Lon), err)
				return
			}
			observability.CacheWarmLocationsTotal.WithLabelValues("success").Inc()
		}(loc)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", time.Since(start).Seconds()))
	if len(errs) > 0 {
		observability.CacheWarmRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	observability.CacheWarmRunsTotal.WithLabelValues("success").Inc()
	return nil
}

// Start runs an initial warm in the background and then re-warms on the cron spec
// (standard five-field or descriptors such as "@every 10m"). Overlapping runs are skipped.
// Runs stop when ctx is done or Stop is called.
func (w *CacheWarmer) Start(ctx context.Context, spec string, locations []Location) error {
	if len(locations) == 0 {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(w.logger)))))
	run := func() {
		if err := w.Warm(ctx, locations); err != nil {
			w.logger.Warn("scheduled cache warm failed", zap.Error(err))
		}
	}
	if _, err := c.AddFunc(spec, run); err != nil {
		return fmt.Errorf("schedule cache warming %q: %w", spec, err)
	}

	w.mu.Lock()
	w.cron = c
	w.mu.Unlock()

	go run()
	c.Start()
	w.logger.Info("cache warming scheduled", zap.String("schedule", spec), zap.Int("locations", len(locations)))

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running warm to finish. Safe to call more than once.
func (w *CacheWarmer) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
