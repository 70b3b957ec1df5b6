package store

import (
	"context"
	"errors"
	"time"

	"github.com/kjstillabower/weather-insight-service/internal/models"
	"github.com/kjstillabower/weather-insight-service/internal/observability"
)

// instrumented records storeOperationsTotal and storeOperationDurationSeconds around every call.
type instrumented struct {
	next    Repository
	backend string
}

// Instrument wraps repo with operation metrics labeled by backend.
func Instrument(repo Repository, backend string) Repository {
	return &instrumented{next: repo, backend: backend}
}

func (r *instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	observability.ObserveStoreOp(r.backend, op, status, start)
}

func (r *instrumented) CreateLocation(ctx context.Context, loc models.SavedLocation) (models.SavedLocation, error) {
	start := time.Now()
	v, err := r.next.CreateLocation(ctx, loc)
	r.observe("create_location", start, err)
	return v, err
}

func (r *instrumented) ListLocations(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	start := time.Now()
	v, err := r.next.ListLocations(ctx, userID)
	r.observe("list_locations", start, err)
	return v, err
}

func (r *instrumented) ListFavorites(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	start := time.Now()
	v, err := r.next.ListFavorites(ctx, userID)
	r.observe("list_favorites", start, err)
	return v, err
}

func (r *instrumented) GetLocation(ctx context.Context, userID, id string) (models.SavedLocation, error) {
	start := time.Now()
	v, err := r.next.GetLocation(ctx, userID, id)
	r.observe("get_location", start, err)
	return v, err
}

func (r *instrumented) UpdateLocation(ctx context.Context, userID, id string, patch models.LocationPatch) (models.SavedLocation, error) {
	start := time.Now()
	v, err := r.next.UpdateLocation(ctx, userID, id, patch)
	r.observe("update_location", start, err)
	return v, err
}

func (r *instrumented) DeleteLocation(ctx context.Context, userID, id string) error {
	start := time.Now()
	err := r.next.DeleteLocation(ctx, userID, id)
	r.observe("delete_location", start, err)
	return err
}

func (r *instrumented) CreateHistory(ctx context.Context, rec models.HistoryRecord) (models.HistoryRecord, error) {
	start := time.Now()
	v, err := r.next.CreateHistory(ctx, rec)
	r.observe("create_history", start, err)
	return v, err
}

func (r *instrumented) ListHistoryByLocation(ctx context.Context, userID, locationID string, limit int) ([]models.HistoryRecord, error) {
	start := time.Now()
	v, err := r.next.ListHistoryByLocation(ctx, userID, locationID, limit)
	r.observe("list_history_by_location", start, err)
	return v, err
}

func (r *instrumented) ListHistoryByUser(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error) {
	start := time.Now()
	v, err := r.next.ListHistoryByUser(ctx, userID, limit)
	r.observe("list_history_by_user", start, err)
	return v, err
}

func (r *instrumented) DeleteHistory(ctx context.Context, userID, id string) error {
	start := time.Now()
	err := r.next.DeleteHistory(ctx, userID, id)
	r.observe("delete_history", start, err)
	return err
}

func (r *instrumented) CreateInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	start := time.Now()
	v, err := r.next.CreateInsight(ctx, ins)
	r.observe("create_insight", start, err)
	return v, err
}

func (r *instrumented) LatestInsightByLocation(ctx context.Context, userID, locationID string) (models.Insight, error) {
	start := time.Now()
	v, err := r.next.LatestInsightByLocation(ctx, userID, locationID)
	r.observe("latest_insight", start, err)
	return v, err
}

func (r *instrumented) ListInsightsByUser(ctx context.Context, userID string) ([]models.Insight, error) {
	start := time.Now()
	v, err := r.next.ListInsightsByUser(ctx, userID)
	r.observe("list_insights", start, err)
	return v, err
}

func (r *instrumented) DeleteInsight(ctx context.Context, userID, id string) error {
	start := time.Now()
	err := r.next.DeleteInsight(ctx, userID, id)
	r.observe("delete_insight", start, err)
	return err
}

func (r *instrumented) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

func (r *instrumented) Close() error {
	return r.next.Close()
}
