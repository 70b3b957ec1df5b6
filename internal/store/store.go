// Package store is the persistence gateway: saved locations, weather history and generated
// insights, scoped by user id. Backends are interchangeable behind Repository.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-insight-service/internal/models"
)

// ErrNotFound is returned when the addressed row does not exist for the user.
var ErrNotFound = errors.New("not found")

// Default list limits for history queries.
const (
	HistoryByLocationLimit = 30
	HistoryByUserLimit     = 100
)

// Repository is the persistence gateway. Every call is scoped to a user id; rows owned by
// another user behave as absent.
type Repository interface {
	CreateLocation(ctx context.Context, loc models.SavedLocation) (models.SavedLocation, error)
	// ListLocations returns the user's locations, newest first.
	ListLocations(ctx context.Context, userID string) ([]models.SavedLocation, error)
	ListFavorites(ctx context.Context, userID string) ([]models.SavedLocation, error)
	GetLocation(ctx context.Context, userID, id string) (models.SavedLocation, error)
	UpdateLocation(ctx context.Context, userID, id string, patch models.LocationPatch) (models.SavedLocation, error)
	DeleteLocation(ctx context.Context, userID, id string) error

	CreateHistory(ctx context.Context, rec models.HistoryRecord) (models.HistoryRecord, error)
	ListHistoryByLocation(ctx context.Context, userID, locationID string, limit int) ([]models.HistoryRecord, error)
	ListHistoryByUser(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error)
	DeleteHistory(ctx context.Context, userID, id string) error

	CreateInsight(ctx context.Context, ins models.Insight) (models.Insight, error)
	LatestInsightByLocation(ctx context.Context, userID, locationID string) (models.Insight, error)
	ListInsightsByUser(ctx context.Context, userID string) ([]models.Insight, error)
	DeleteInsight(ctx context.Context, userID, id string) error

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the repository for backend ("memory", "sqlite", "postgres"), runs schema
// migrations where applicable, and wraps it with operation metrics.
func Open(ctx context.Context, backend, sqlitePath, databaseURL string) (Repository, error) {
	var (
		repo Repository
		err  error
	)
	switch backend {
	case "", "memory":
		backend = "memory"
		repo = NewMemoryRepository()
	case "sqlite":
		repo, err = NewSQLiteRepository(ctx, sqlitePath)
	case "postgres":
		repo, err = NewPostgresRepository(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", backend, err)
	}
	return Instrument(repo, backend), nil
}

// stampLocation assigns a fresh id and fills zero timestamps.
func stampLocation(loc models.SavedLocation) models.SavedLocation {
	loc.ID = uuid.NewString()
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = time.Now().UTC()
	}
	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = loc.CreatedAt
	}
	loc.Sync = ""
	return loc
}

func stampHistory(rec models.HistoryRecord) models.HistoryRecord {
	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = rec.CreatedAt
	}
	return rec
}

func stampInsight(ins models.Insight) models.Insight {
	ins.ID = uuid.NewString()
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now().UTC()
	}
	if ins.Suggestions == nil {
		ins.Suggestions = []string{}
	}
	return ins
}

// persistable drops the fields a backend never writes (id and sync state) and stamps
// updated_at when anything else changes.
func persistable(p models.LocationPatch) models.LocationPatch {
	p.ID = nil
	p.Sync = nil
	if p.IsEmpty() {
		return p
	}
	if p.UpdatedAt == nil {
		now := time.Now().UTC()
		p.UpdatedAt = &now
	}
	return p
}

// column is one SET assignment derived from a patch.
type column struct {
	name  string
	value any
}

// patchColumns lists the persisted columns a patch touches, in a fixed order.
// ts converts time values for the backend's storage format.
func patchColumns(p models.LocationPatch, ts func(time.Time) any) []column {
	var cols []column
	if p.Name != nil {
		cols = append(cols, column{"name", *p.Name})
	}
	if p.Country != nil {
		cols = append(cols, column{"country", *p.Country})
	}
	if p.Lat != nil {
		cols = append(cols, column{"lat", *p.Lat})
	}
	if p.Lon != nil {
		cols = append(cols, column{"lon", *p.Lon})
	}
	if p.IsFavorite != nil {
		cols = append(cols, column{"is_favorite", *p.IsFavorite})
	}
	if p.UpdatedAt != nil {
		cols = append(cols, column{"updated_at", ts(*p.UpdatedAt)})
	}
	return cols
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
