// Package dashboard drives one user's state.Store from the gateways: it starts fetches,
// feeds results back into the store, and reconciles optimistic saved-location edits
// with the persistence gateway.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-insight-service/internal/insight"
	"github.com/kjstillabower/weather-insight-service/internal/models"
	"github.com/kjstillabower/weather-insight-service/internal/state"
	"github.com/kjstillabower/weather-insight-service/internal/store"
)

// User-facing messages written to the store's error field.
const (
	MsgWeatherFailed   = "Failed to fetch weather data"
	MsgLoadFailed      = "Failed to load saved locations"
	MsgSaveFailed      = "Failed to save location"
	MsgDeleteFailed    = "Failed to delete location"
	MsgUpdateFailed    = "Failed to update location"
	MsgInsightFailed   = "Could not generate AI insight"
	addedCountry       = "User Added"
	currentLocationTag = "Current Location"
)

var (
	// ErrLocationNotFound is returned by SelectLocation for an id not in the saved list.
	ErrLocationNotFound = errors.New("location not in saved list")
	// ErrNoWeather is returned by GenerateInsight before any snapshot has loaded.
	ErrNoWeather = errors.New("no weather loaded")
	// ErrNoSelection is returned by GenerateInsight when no location is selected.
	ErrNoSelection = errors.New("no location selected")
)

// WeatherSource returns the snapshot for a coordinate pair.
type WeatherSource interface {
	GetWeather(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error)
}

// InsightSource produces a tagged insight for a snapshot.
type InsightSource interface {
	WeatherInsight(ctx context.Context, snap models.WeatherSnapshot, location string) insight.Result
}

// Controller owns one state.Store and performs the gateway calls that mutate it.
type Controller struct {
	userID   string
	store    *state.Store
	weather  WeatherSource
	insights InsightSource
	repo     store.Repository
	logger   *zap.Logger
	now      func() time.Time

	tmpSeq   atomic.Uint64
	loadOnce sync.Once
	loadErr  error
}

// NewController returns a controller with a fresh store for userID.
func NewController(userID string, weather WeatherSource, insights InsightSource, repo store.Repository, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		userID:   userID,
		store:    state.New(),
		weather:  weather,
		insights: insights,
		repo:     repo,
		logger:   logger.With(zap.String("user_id", userID)),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Store exposes the underlying state store, e.g. for Subscribe.
func (c *Controller) Store() *state.Store {
	return c.store
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() state.State {
	return c.store.Snapshot()
}

// LoadWeather fetches the snapshot for (lat, lon) under a fetch ticket. A completion that
// arrives after a newer LoadWeather started is discarded. On failure the previous snapshot
// stays and the error field carries a generic message.
func (c *Controller) LoadWeather(ctx context.Context, lat, lon float64) error {
	t := c.store.BeginFetch()
	snap, err := c.weather.GetWeather(ctx, lat, lon)
	if err != nil {
		if !c.store.FailFetch(t, MsgWeatherFailed) {
			c.logger.Debug("discarded stale weather failure", zap.Uint64("ticket", uint64(t)))
		}
		return fmt.Errorf("load weather: %w", err)
	}
	if !c.store.CompleteFetch(t, snap) {
		c.logger.Debug("discarded stale weather result", zap.Uint64("ticket", uint64(t)))
	}
	return nil
}

// EnsureLoaded runs LoadSavedLocations once per controller. Concurrent callers wait for
// that first load, so no edit is applied to a list the load is about to replace.
func (c *Controller) EnsureLoaded(ctx context.Context) error {
	c.loadOnce.Do(func() {
		c.loadErr = c.LoadSavedLocations(ctx)
	})
	return c.loadErr
}

// LoadSavedLocations replaces the saved list with the user's persisted locations.
func (c *Controller) LoadSavedLocations(ctx context.Context) error {
	locs, err := c.repo.ListLocations(ctx, c.userID)
	if err != nil {
		msg := MsgLoadFailed
		c.store.SetError(&msg)
		return fmt.Errorf("load saved locations: %w", err)
	}
	for i := range locs {
		locs[i].Sync = models.SyncSynced
	}
	c.store.SetSavedLocations(locs)
	return nil
}

// AddLocation prepends a pending entry with a client-side id, then persists it.
// On success the entry takes the backend id and is marked synced; on failure it stays
// in the list marked unsynced and the error field is set. A favorite toggle made while
// the entry was pending is sent after the create, and an entry removed while pending is
// deleted from the backend again.
func (c *Controller) AddLocation(ctx context.Context, name string, lat, lon float64) (models.SavedLocation, error) {
	now := c.now()
	tmpID := c.tempID(now)
	loc := models.SavedLocation{
		ID:        tmpID,
		UserID:    c.userID,
		Name:      name,
		Country:   addedCountry,
		Lat:       lat,
		Lon:       lon,
		CreatedAt: now,
		UpdatedAt: now,
		Sync:      models.SyncPending,
	}
	c.store.AddSavedLocation(loc)

	saved, err := c.repo.CreateLocation(ctx, loc)
	if err != nil {
		unsynced := models.SyncUnsynced
		c.store.UpdateSavedLocation(tmpID, models.LocationPatch{Sync: &unsynced})
		msg := MsgSaveFailed
		c.store.SetError(&msg)
		loc.Sync = unsynced
		return loc, fmt.Errorf("add location: %w", err)
	}

	synced := models.SyncSynced
	patch := models.LocationPatch{ID: &saved.ID, Sync: &synced}
	for {
		found, ok := indexed(c.store.Snapshot().SavedLocations, tmpID)
		if !ok {
			if err := c.repo.DeleteLocation(ctx, c.userID, saved.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				c.logger.Warn("delete location removed while pending failed", zap.String("location_id", saved.ID), zap.Error(err))
			}
			return saved, nil
		}
		fav := found[0].loc.IsFavorite
		if fav == saved.IsFavorite {
			break
		}
		updated, err := c.repo.UpdateLocation(ctx, c.userID, saved.ID, models.LocationPatch{IsFavorite: &fav})
		if err != nil {
			patch.IsFavorite = &saved.IsFavorite
			msg := MsgUpdateFailed
			c.store.SetError(&msg)
			c.logger.Warn("persist favorite toggled while pending failed", zap.String("location_id", saved.ID), zap.Error(err))
			break
		}
		saved = updated
	}
	c.store.UpdateSavedLocation(tmpID, patch)
	saved.Sync = synced
	return saved, nil
}

// tempID is the millisecond timestamp plus a per-controller sequence, so adds started in
// the same millisecond never share an id.
func (c *Controller) tempID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.FormatUint(c.tmpSeq.Add(1), 10)
}

// RemoveLocation drops every entry with id from the list, then deletes it from the backend.
// If the backend rejects the delete the entries are put back where they were.
// Entries that never reached the backend are removed locally only.
func (c *Controller) RemoveLocation(ctx context.Context, id string) error {
	before := c.store.Snapshot()
	removed, local := indexed(before.SavedLocations, id)
	wasSelected := before.SelectedLocation != nil && before.SelectedLocation.ID == id

	c.store.RemoveSavedLocation(id)
	if wasSelected {
		c.store.SetSelectedLocation(nil)
	}
	if local && !persisted(removed[0].loc) {
		return nil
	}

	err := c.repo.DeleteLocation(ctx, c.userID, id)
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return nil
	}

	// Rollback.
	current := c.store.Snapshot().SavedLocations
	for _, r := range removed {
		at := min(r.index, len(current))
		current = slices.Insert(current, at, r.loc)
	}
	c.store.SetSavedLocations(current)
	if wasSelected {
		c.store.SetSelectedLocation(before.SelectedLocation)
	}
	msg := MsgDeleteFailed
	c.store.SetError(&msg)
	return fmt.Errorf("remove location %s: %w", id, err)
}

// ToggleFavorite flips the favorite flag locally, then persists it. On failure the flag is
// flipped back. Unknown ids are a silent no-op.
func (c *Controller) ToggleFavorite(ctx context.Context, id string) error {
	found, ok := indexed(c.store.Snapshot().SavedLocations, id)
	if !ok {
		return nil
	}
	loc := found[0].loc
	c.store.ToggleFavorite(id)
	if !persisted(loc) {
		return nil
	}

	fav := !loc.IsFavorite
	if _, err := c.repo.UpdateLocation(ctx, c.userID, id, models.LocationPatch{IsFavorite: &fav}); err != nil {
		c.store.ToggleFavorite(id)
		msg := MsgUpdateFailed
		c.store.SetError(&msg)
		return fmt.Errorf("toggle favorite %s: %w", id, err)
	}
	return nil
}

// SelectLocation makes id the selected location, clears the previous insight and loads
// its weather. A successful load of a persisted location is recorded in weather history.
func (c *Controller) SelectLocation(ctx context.Context, id string) error {
	found, ok := indexed(c.store.Snapshot().SavedLocations, id)
	if !ok {
		return fmt.Errorf("select %s: %w", id, ErrLocationNotFound)
	}
	loc := found[0].loc
	c.store.SetSelectedLocation(&loc)
	c.store.SetAIInsight(nil)

	if err := c.LoadWeather(ctx, loc.Lat, loc.Lon); err != nil {
		return err
	}
	if persisted(loc) {
		c.recordHistory(ctx, loc)
	}
	return nil
}

func (c *Controller) recordHistory(ctx context.Context, loc models.SavedLocation) {
	snap := c.store.Snapshot().CurrentWeather
	if snap == nil {
		return
	}
	now := c.now()
	_, err := c.repo.CreateHistory(ctx, models.HistoryRecord{
		UserID:      c.userID,
		LocationID:  loc.ID,
		Temperature: snap.Current.Temp,
		Condition:   snap.Current.Main,
		Timestamp:   now,
		CreatedAt:   now,
	})
	if err != nil {
		c.logger.Warn("record weather history failed", zap.String("location_id", loc.ID), zap.Error(err))
	}
}

// GenerateInsight asks the insight gateway about the current snapshot and selected location,
// persists the answer and makes it the active insight. Fallback answers are stored too,
// tagged as such.
func (c *Controller) GenerateInsight(ctx context.Context) (models.Insight, error) {
	st := c.store.Snapshot()
	if st.CurrentWeather == nil {
		return models.Insight{}, ErrNoWeather
	}
	if st.SelectedLocation == nil {
		return models.Insight{}, ErrNoSelection
	}
	loc := st.SelectedLocation
	name := loc.Name
	if name == "" {
		name = currentLocationTag
	}

	res := c.insights.WeatherInsight(ctx, *st.CurrentWeather, name)
	if res.Fallback {
		c.logger.Info("insight fallback used", zap.String("location_id", loc.ID), zap.Error(res.Reason))
	}
	saved, err := c.repo.CreateInsight(ctx, models.Insight{
		UserID:      c.userID,
		LocationID:  loc.ID,
		Insight:     res.Insight,
		Suggestions: res.Suggestions,
		Fallback:    res.Fallback,
		CreatedAt:   c.now(),
	})
	if err != nil {
		msg := MsgInsightFailed
		c.store.SetError(&msg)
		return models.Insight{}, fmt.Errorf("save insight: %w", err)
	}
	c.store.SetAIInsight(&saved)
	return saved, nil
}

// Reset returns the store to its initial state.
func (c *Controller) Reset() {
	c.store.Reset()
}

type position struct {
	index int
	loc   models.SavedLocation
}

// indexed returns every entry with id and its index in list.
func indexed(list []models.SavedLocation, id string) ([]position, bool) {
	var out []position
	for i, l := range list {
		if l.ID == id {
			out = append(out, position{index: i, loc: l})
		}
	}
	return out, len(out) > 0
}

// persisted reports whether the backend knows about loc.
func persisted(loc models.SavedLocation) bool {
	return loc.Sync == "" || loc.Sync == models.SyncSynced
}
