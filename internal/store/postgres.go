package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/weather-insight-service/internal/models"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS saved_locations (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		country     TEXT NOT NULL DEFAULT '',
		lat         DOUBLE PRECISION NOT NULL,
		lon         DOUBLE PRECISION NOT NULL,
		is_favorite BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_saved_locations_user ON saved_locations (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS weather_history (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		location_id TEXT NOT NULL,
		temperature DOUBLE PRECISION NOT NULL,
		condition   TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_weather_history_user ON weather_history (user_id, location_id, recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS ai_insights (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		location_id TEXT NOT NULL,
		insight     TEXT NOT NULL,
		suggestions JSONB NOT NULL,
		fallback    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_insights_user ON ai_insights (user_id, location_id, created_at DESC)`,
}

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn, pings, and migrates the schema.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	if dsn == "" {
		return nil, errors.New("database url is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate db: %w", err)
		}
	}
	return &PostgresRepository{pool: pool}, nil
}

const (
	pgLocationCols = `id, user_id, name, country, lat, lon, is_favorite, created_at, updated_at`
	pgHistoryCols  = `id, user_id, location_id, temperature, condition, recorded_at, created_at`
	pgInsightCols  = `id, user_id, location_id, insight, suggestions, fallback, created_at`
)

func scanPgLocation(r pgx.Row) (models.SavedLocation, error) {
	var loc models.SavedLocation
	err := r.Scan(&loc.ID, &loc.UserID, &loc.Name, &loc.Country, &loc.Lat, &loc.Lon, &loc.IsFavorite, &loc.CreatedAt, &loc.UpdatedAt)
	loc.CreatedAt, loc.UpdatedAt = loc.CreatedAt.UTC(), loc.UpdatedAt.UTC()
	return loc, err
}

func scanPgHistory(r pgx.Row) (models.HistoryRecord, error) {
	var h models.HistoryRecord
	err := r.Scan(&h.ID, &h.UserID, &h.LocationID, &h.Temperature, &h.Condition, &h.Timestamp, &h.CreatedAt)
	h.Timestamp, h.CreatedAt = h.Timestamp.UTC(), h.CreatedAt.UTC()
	return h, err
}

func scanPgInsight(r pgx.Row) (models.Insight, error) {
	var (
		ins models.Insight
		raw []byte
	)
	if err := r.Scan(&ins.ID, &ins.UserID, &ins.LocationID, &ins.Insight, &raw, &ins.Fallback, &ins.CreatedAt); err != nil {
		return ins, err
	}
	if err := json.Unmarshal(raw, &ins.Suggestions); err != nil {
		return ins, fmt.Errorf("decode suggestions: %w", err)
	}
	ins.CreatedAt = ins.CreatedAt.UTC()
	return ins, nil
}

func pgNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func pgCollect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func identity(t time.Time) any { return t }

func (p *PostgresRepository) CreateLocation(ctx context.Context, loc models.SavedLocation) (models.SavedLocation, error) {
	loc = stampLocation(loc)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO saved_locations (`+pgLocationCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		loc.ID, loc.UserID, loc.Name, loc.Country, loc.Lat, loc.Lon, loc.IsFavorite, loc.CreatedAt, loc.UpdatedAt,
	)
	if err != nil {
		return models.SavedLocation{}, fmt.Errorf("insert location: %w", err)
	}
	return loc, nil
}

func (p *PostgresRepository) ListLocations(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgLocationCols+` FROM saved_locations WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return pgCollect(rows, scanPgLocation)
}

func (p *PostgresRepository) ListFavorites(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgLocationCols+` FROM saved_locations WHERE user_id = $1 AND is_favorite ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return pgCollect(rows, scanPgLocation)
}

func (p *PostgresRepository) GetLocation(ctx context.Context, userID, id string) (models.SavedLocation, error) {
	loc, err := scanPgLocation(p.pool.QueryRow(ctx,
		`SELECT `+pgLocationCols+` FROM saved_locations WHERE user_id = $1 AND id = $2`, userID, id))
	if err != nil {
		return models.SavedLocation{}, fmt.Errorf("get location: %w", pgNotFound(err))
	}
	return loc, nil
}

func (p *PostgresRepository) UpdateLocation(ctx context.Context, userID, id string, patch models.LocationPatch) (models.SavedLocation, error) {
	cols := patchColumns(persistable(patch), identity)
	if len(cols) == 0 {
		return p.GetLocation(ctx, userID, id)
	}
	sets := make([]string, len(cols))
	args := []any{userID, id}
	for i, c := range cols {
		args = append(args, c.value)
		sets[i] = fmt.Sprintf("%s = $%d", c.name, len(args))
	}
	loc, err := scanPgLocation(p.pool.QueryRow(ctx,
		`UPDATE saved_locations SET `+strings.Join(sets, ", ")+` WHERE user_id = $1 AND id = $2 RETURNING `+pgLocationCols,
		args...))
	if err != nil {
		return models.SavedLocation{}, fmt.Errorf("update location: %w", pgNotFound(err))
	}
	return loc, nil
}

func (p *PostgresRepository) exec(ctx context.Context, what, sql string, args ...any) error {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err == nil && tag.RowsAffected() == 0 {
		err = ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (p *PostgresRepository) DeleteLocation(ctx context.Context, userID, id string) error {
	return p.exec(ctx, "delete location", `DELETE FROM saved_locations WHERE user_id = $1 AND id = $2`, userID, id)
}

func (p *PostgresRepository) CreateHistory(ctx context.Context, rec models.HistoryRecord) (models.HistoryRecord, error) {
	rec = stampHistory(rec)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO weather_history (`+pgHistoryCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.LocationID, rec.Temperature, rec.Condition, rec.Timestamp, rec.CreatedAt,
	)
	if err != nil {
		return models.HistoryRecord{}, fmt.Errorf("insert history: %w", err)
	}
	return rec, nil
}

func (p *PostgresRepository) ListHistoryByLocation(ctx context.Context, userID, locationID string, limit int) ([]models.HistoryRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgHistoryCols+` FROM weather_history WHERE user_id = $1 AND location_id = $2
		 ORDER BY recorded_at DESC LIMIT $3`,
		userID, locationID, clampLimit(limit, HistoryByLocationLimit))
	if err != nil {
		return nil, fmt.Errorf("list history by location: %w", err)
	}
	return pgCollect(rows, scanPgHistory)
}

func (p *PostgresRepository) ListHistoryByUser(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgHistoryCols+` FROM weather_history WHERE user_id = $1 ORDER BY recorded_at DESC LIMIT $2`,
		userID, clampLimit(limit, HistoryByUserLimit))
	if err != nil {
		return nil, fmt.Errorf("list history by user: %w", err)
	}
	return pgCollect(rows, scanPgHistory)
}

func (p *PostgresRepository) DeleteHistory(ctx context.Context, userID, id string) error {
	return p.exec(ctx, "delete history", `DELETE FROM weather_history WHERE user_id = $1 AND id = $2`, userID, id)
}

func (p *PostgresRepository) CreateInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	ins = stampInsight(ins)
	suggestions, err := json.Marshal(ins.Suggestions)
	if err != nil {
		return models.Insight{}, fmt.Errorf("encode suggestions: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO ai_insights (`+pgInsightCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ins.ID, ins.UserID, ins.LocationID, ins.Insight, suggestions, ins.Fallback, ins.CreatedAt,
	)
	if err != nil {
		return models.Insight{}, fmt.Errorf("insert insight: %w", err)
	}
	return ins, nil
}

func (p *PostgresRepository) LatestInsightByLocation(ctx context.Context, userID, locationID string) (models.Insight, error) {
	ins, err := scanPgInsight(p.pool.QueryRow(ctx,
		`SELECT `+pgInsightCols+` FROM ai_insights WHERE user_id = $1 AND location_id = $2
		 ORDER BY created_at DESC LIMIT 1`, userID, locationID))
	if err != nil {
		return models.Insight{}, fmt.Errorf("latest insight: %w", pgNotFound(err))
	}
	return ins, nil
}

func (p *PostgresRepository) ListInsightsByUser(ctx context.Context, userID string) ([]models.Insight, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgInsightCols+` FROM ai_insights WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return pgCollect(rows, scanPgInsight)
}

func (p *PostgresRepository) DeleteInsight(ctx context.Context, userID, id string) error {
	return p.exec(ctx, "delete insight", `DELETE FROM ai_insights WHERE user_id = $1 AND id = $2`, userID, id)
}

func (p *PostgresRepository) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresRepository) Close() error {
	p.pool.Close()
	return nil
}
