package store

import (
	"context"
	"slices"
	"sync"

	"github.com/kjstillabower/weather-insight-service/internal/models"
)

// MemoryRepository implements Repository with mutex-guarded maps. Data does not survive restart.
type MemoryRepository struct {
	mu        sync.RWMutex
	seq       uint64
	locations map[string]memRow[models.SavedLocation]
	history   map[string]memRow[models.HistoryRecord]
	insights  map[string]memRow[models.Insight]
}

// memRow pairs a value with its insertion sequence so equal timestamps still order newest first.
type memRow[T any] struct {
	seq uint64
	val T
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		locations: make(map[string]memRow[models.SavedLocation]),
		history:   make(map[string]memRow[models.HistoryRecord]),
		insights:  make(map[string]memRow[models.Insight]),
	}
}

func (m *MemoryRepository) next() uint64 {
	m.seq++
	return m.seq
}

// newestFirst collects rows matching keep, sorted by (time desc, seq desc), truncated to limit (0 = all).
func newestFirst[T any](rows map[string]memRow[T], keep func(T) bool, at func(T) int64, limit int) []T {
	matched := make([]memRow[T], 0)
	for _, r := range rows {
		if keep(r.val) {
			matched = append(matched, r)
		}
	}
	slices.SortFunc(matched, func(a, b memRow[T]) int {
		ta, tb := at(a.val), at(b.val)
		switch {
		case ta > tb:
			return -1
		case ta < tb:
			return 1
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]T, len(matched))
	for i, r := range matched {
		out[i] = r.val
	}
	return out
}

func (m *MemoryRepository) CreateLocation(ctx context.Context, loc models.SavedLocation) (models.SavedLocation, error) {
	loc = stampLocation(loc)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.ID] = memRow[models.SavedLocation]{seq: m.next(), val: loc}
	return loc, nil
}

func (m *MemoryRepository) listLocations(userID string, favoritesOnly bool) []models.SavedLocation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.locations,
		func(l models.SavedLocation) bool { return l.UserID == userID && (!favoritesOnly || l.IsFavorite) },
		func(l models.SavedLocation) int64 { return l.CreatedAt.UnixNano() },
		0)
}

func (m *MemoryRepository) ListLocations(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	return m.listLocations(userID, false), nil
}

func (m *MemoryRepository) ListFavorites(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	return m.listLocations(userID, true), nil
}

func (m *MemoryRepository) GetLocation(ctx context.Context, userID, id string) (models.SavedLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.locations[id]
	if !ok || r.val.UserID != userID {
		return models.SavedLocation{}, ErrNotFound
	}
	return r.val, nil
}

func (m *MemoryRepository) UpdateLocation(ctx context.Context, userID, id string, patch models.LocationPatch) (models.SavedLocation, error) {
	patch = persistable(patch)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.locations[id]
	if !ok || r.val.UserID != userID {
		return models.SavedLocation{}, ErrNotFound
	}
	r.val = patch.Apply(r.val)
	m.locations[id] = r
	return r.val, nil
}

func (m *MemoryRepository) DeleteLocation(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.locations[id]
	if !ok || r.val.UserID != userID {
		return ErrNotFound
	}
	delete(m.locations, id)
	return nil
}

func (m *MemoryRepository) CreateHistory(ctx context.Context, rec models.HistoryRecord) (models.HistoryRecord, error) {
	rec = stampHistory(rec)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[rec.ID] = memRow[models.HistoryRecord]{seq: m.next(), val: rec}
	return rec, nil
}

func (m *MemoryRepository) ListHistoryByLocation(ctx context.Context, userID, locationID string, limit int) ([]models.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.history,
		func(h models.HistoryRecord) bool { return h.UserID == userID && h.LocationID == locationID },
		func(h models.HistoryRecord) int64 { return h.Timestamp.UnixNano() },
		clampLimit(limit, HistoryByLocationLimit)), nil
}

func (m *MemoryRepository) ListHistoryByUser(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.history,
		func(h models.HistoryRecord) bool { return h.UserID == userID },
		func(h models.HistoryRecord) int64 { return h.Timestamp.UnixNano() },
		clampLimit(limit, HistoryByUserLimit)), nil
}

func (m *MemoryRepository) DeleteHistory(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.history[id]
	if !ok || r.val.UserID != userID {
		return ErrNotFound
	}
	delete(m.history, id)
	return nil
}

func (m *MemoryRepository) CreateInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	ins = stampInsight(ins)
	stored := ins
	stored.Suggestions = slices.Clone(ins.Suggestions)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights[ins.ID] = memRow[models.Insight]{seq: m.next(), val: stored}
	return ins, nil
}

func (m *MemoryRepository) LatestInsightByLocation(ctx context.Context, userID, locationID string) (models.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := newestFirst(m.insights,
		func(i models.Insight) bool { return i.UserID == userID && i.LocationID == locationID },
		func(i models.Insight) int64 { return i.CreatedAt.UnixNano() },
		1)
	if len(found) == 0 {
		return models.Insight{}, ErrNotFound
	}
	return found[0], nil
}

func (m *MemoryRepository) ListInsightsByUser(ctx context.Context, userID string) ([]models.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.insights,
		func(i models.Insight) bool { return i.UserID == userID },
		func(i models.Insight) int64 { return i.CreatedAt.UnixNano() },
		0), nil
}

func (m *MemoryRepository) DeleteInsight(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.insights[id]
	if !ok || r.val.UserID != userID {
		return ErrNotFound
	}
	delete(m.insights, id)
	return nil
}

// Ping always succeeds.
func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryRepository) Close() error { return nil }
