package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/weather-insight-service/internal/models"
)

// Timestamps are stored as unix nanoseconds so ordering is numeric and driver-independent.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS saved_locations (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		country     TEXT NOT NULL DEFAULT '',
		lat         REAL NOT NULL,
		lon         REAL NOT NULL,
		is_favorite INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_saved_locations_user ON saved_locations (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS weather_history (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		location_id TEXT NOT NULL,
		temperature REAL NOT NULL,
		condition   TEXT NOT NULL,
		recorded_at INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_weather_history_user ON weather_history (user_id, location_id, recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS ai_insights (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		location_id TEXT NOT NULL,
		insight     TEXT NOT NULL,
		suggestions TEXT NOT NULL,
		fallback    INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_insights_user ON ai_insights (user_id, location_id, created_at DESC)`,
}

const (
	sqliteLocationCols = `id, user_id, name, country, lat, lon, is_favorite, created_at, updated_at`
	sqliteHistoryCols  = `id, user_id, location_id, temperature, condition, recorded_at, created_at`
	sqliteInsightCols  = `id, user_id, location_id, insight, suggestions, fallback, created_at`
)

// SQLiteRepository implements Repository on an embedded SQLite file via the pure-Go modernc driver.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return &SQLiteRepository{db: db}, nil
}

func nanos(t time.Time) any { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteLocation(r rowScanner) (models.SavedLocation, error) {
	var (
		loc              models.SavedLocation
		created, updated int64
	)
	if err := r.Scan(&loc.ID, &loc.UserID, &loc.Name, &loc.Country, &loc.Lat, &loc.Lon, &loc.IsFavorite, &created, &updated); err != nil {
		return loc, err
	}
	loc.CreatedAt, loc.UpdatedAt = fromNanos(created), fromNanos(updated)
	return loc, nil
}

func scanSQLiteHistory(r rowScanner) (models.HistoryRecord, error) {
	var (
		h           models.HistoryRecord
		ts, created int64
	)
	if err := r.Scan(&h.ID, &h.UserID, &h.LocationID, &h.Temperature, &h.Condition, &ts, &created); err != nil {
		return h, err
	}
	h.Timestamp, h.CreatedAt = fromNanos(ts), fromNanos(created)
	return h, nil
}

func scanSQLiteInsight(r rowScanner) (models.Insight, error) {
	var (
		ins         models.Insight
		suggestions string
		created     int64
	)
	if err := r.Scan(&ins.ID, &ins.UserID, &ins.LocationID, &ins.Insight, &suggestions, &ins.Fallback, &created); err != nil {
		return ins, err
	}
	if err := json.Unmarshal([]byte(suggestions), &ins.Suggestions); err != nil {
		return ins, fmt.Errorf("decode suggestions: %w", err)
	}
	ins.CreatedAt = fromNanos(created)
	return ins, nil
}

// collect drains rows through scan.
func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
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

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// affected maps a zero-row delete or update to ErrNotFound.
func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteRepository) CreateLocation(ctx context.Context, loc models.SavedLocation) (models.SavedLocation, error) {
	loc = stampLocation(loc)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saved_locations (`+sqliteLocationCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.ID, loc.UserID, loc.Name, loc.Country, loc.Lat, loc.Lon, loc.IsFavorite,
		loc.CreatedAt.UnixNano(), loc.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return models.SavedLocation{}, fmt.Errorf("insert location: %w", err)
	}
	return loc, nil
}

func (s *SQLiteRepository) ListLocations(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteLocationCols+` FROM saved_locations WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return collect(rows, scanSQLiteLocation)
}

func (s *SQLiteRepository) ListFavorites(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteLocationCols+` FROM saved_locations WHERE user_id = ? AND is_favorite = 1 ORDER BY created_at DESC, rowid DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return collect(rows, scanSQLiteLocation)
}

func (s *SQLiteRepository) GetLocation(ctx context.Context, userID, id string) (models.SavedLocation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLocationCols+` FROM saved_locations WHERE user_id = ? AND id = ?`, userID, id)
	loc, err := scanSQLiteLocation(row)
	if err != nil {
		return models.SavedLocation{}, fmt.Errorf("get location: %w", notFound(err))
	}
	return loc, nil
}

func (s *SQLiteRepository) UpdateLocation(ctx context.Context, userID, id string, patch models.LocationPatch) (models.SavedLocation, error) {
	cols := patchColumns(persistable(patch), nanos)
	if len(cols) == 0 {
		return s.GetLocation(ctx, userID, id)
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+2)
	for i, c := range cols {
		sets[i] = c.name + " = ?"
		args = append(args, c.value)
	}
	args = append(args, userID, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE saved_locations SET `+strings.Join(sets, ", ")+` WHERE user_id = ? AND id = ?`, args...)
	if err == nil {
		err = affected(res)
	}
	if err != nil {
		return models.SavedLocation{}, fmt.Errorf("update location: %w", err)
	}
	return s.GetLocation(ctx, userID, id)
}

func (s *SQLiteRepository) DeleteLocation(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_locations WHERE user_id = ? AND id = ?`, userID, id)
	if err == nil {
		err = affected(res)
	}
	if err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) CreateHistory(ctx context.Context, rec models.HistoryRecord) (models.HistoryRecord, error) {
	rec = stampHistory(rec)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO weather_history (`+sqliteHistoryCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.LocationID, rec.Temperature, rec.Condition,
		rec.Timestamp.UnixNano(), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return models.HistoryRecord{}, fmt.Errorf("insert history: %w", err)
	}
	return rec, nil
}

func (s *SQLiteRepository) ListHistoryByLocation(ctx context.Context, userID, locationID string, limit int) ([]models.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteHistoryCols+` FROM weather_history WHERE user_id = ? AND location_id = ?
		 ORDER BY recorded_at DESC, rowid DESC LIMIT ?`,
		userID, locationID, clampLimit(limit, HistoryByLocationLimit))
	if err != nil {
		return nil, fmt.Errorf("list history by location: %w", err)
	}
	return collect(rows, scanSQLiteHistory)
}

func (s *SQLiteRepository) ListHistoryByUser(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteHistoryCols+` FROM weather_history WHERE user_id = ?
		 ORDER BY recorded_at DESC, rowid DESC LIMIT ?`,
		userID, clampLimit(limit, HistoryByUserLimit))
	if err != nil {
		return nil, fmt.Errorf("list history by user: %w", err)
	}
	return collect(rows, scanSQLiteHistory)
}

func (s *SQLiteRepository) DeleteHistory(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM weather_history WHERE user_id = ? AND id = ?`, userID, id)
	if err == nil {
		err = affected(res)
	}
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) CreateInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	ins = stampInsight(ins)
	suggestions, err := json.Marshal(ins.Suggestions)
	if err != nil {
		return models.Insight{}, fmt.Errorf("encode suggestions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ai_insights (`+sqliteInsightCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ins.ID, ins.UserID, ins.LocationID, ins.Insight, string(suggestions), ins.Fallback, ins.CreatedAt.UnixNano(),
	)
	if err != nil {
		return models.Insight{}, fmt.Errorf("insert insight: %w", err)
	}
	return ins, nil
}

func (s *SQLiteRepository) LatestInsightByLocation(ctx context.Context, userID, locationID string) (models.Insight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteInsightCols+` FROM ai_insights WHERE user_id = ? AND location_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, userID, locationID)
	ins, err := scanSQLiteInsight(row)
	if err != nil {
		return models.Insight{}, fmt.Errorf("latest insight: %w", notFound(err))
	}
	return ins, nil
}

func (s *SQLiteRepository) ListInsightsByUser(ctx context.Context, userID string) ([]models.Insight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteInsightCols+` FROM ai_insights WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return collect(rows, scanSQLiteInsight)
}

func (s *SQLiteRepository) DeleteInsight(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ai_insights WHERE user_id = ? AND id = ?`, userID, id)
	if err == nil {
		err = affected(res)
	}
	if err != nil {
		return fmt.Errorf("delete insight: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}
