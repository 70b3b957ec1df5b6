package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-insight-service/internal/insight"
	"github.com/kjstillabower/weather-insight-service/internal/models"
	"github.com/kjstillabower/weather-insight-service/internal/state"
	"github.com/kjstillabower/weather-insight-service/internal/store"
)

type fakeWeather struct {
	fn func(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error)
}

func (f *fakeWeather) GetWeather(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
	return f.fn(ctx, lat, lon)
}

func okWeather() *fakeWeather {
	return &fakeWeather{fn: func(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
		return models.WeatherSnapshot{Lat: lat, Lon: lon, Current: models.Reading{Temp: 18, Main: "Clear"}}, nil
	}}
}

type fakeInsights struct {
	res   insight.Result
	calls int
}

func (f *fakeInsights) WeatherInsight(ctx context.Context, snap models.WeatherSnapshot, location string) insight.Result {
	f.calls++
	return f.res
}

// flakyRepo wraps a memory repository and fails the selected operations.
type flakyRepo struct {
	store.Repository
	createErr  error
	deleteErr  error
	updateErr  error
	listErr    error
	insightErr error
	deletes    int

	// When set, CreateLocation and ListLocations signal entry and wait for the hold to close.
	createEntered chan struct{}
	createHold    chan struct{}
	listEntered   chan struct{}
	listHold      chan struct{}
}

func (r *flakyRepo) CreateLocation(ctx context.Context, loc models.SavedLocation) (models.SavedLocation, error) {
	if r.createEntered != nil {
		r.createEntered <- struct{}{}
		<-r.createHold
	}
	if r.createErr != nil {
		return models.SavedLocation{}, r.createErr
	}
	return r.Repository.CreateLocation(ctx, loc)
}

func (r *flakyRepo) DeleteLocation(ctx context.Context, userID, id string) error {
	r.deletes++
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.Repository.DeleteLocation(ctx, userID, id)
}

func (r *flakyRepo) UpdateLocation(ctx context.Context, userID, id string, p models.LocationPatch) (models.SavedLocation, error) {
	if r.updateErr != nil {
		return models.SavedLocation{}, r.updateErr
	}
	return r.Repository.UpdateLocation(ctx, userID, id, p)
}

func (r *flakyRepo) ListLocations(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	if r.listEntered != nil {
		r.listEntered <- struct{}{}
		<-r.listHold
	}
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.Repository.ListLocations(ctx, userID)
}

func (r *flakyRepo) CreateInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	if r.insightErr != nil {
		return models.Insight{}, r.insightErr
	}
	return r.Repository.CreateInsight(ctx, ins)
}

var errBackend = errors.New("backend down")

func newTestController(w WeatherSource) (*Controller, *flakyRepo, *fakeInsights) {
	repo := &flakyRepo{Repository: store.NewMemoryRepository()}
	ins := &fakeInsights{res: insight.Result{Insight: "Sunny and mild.", Suggestions: []string{"Walk"}}}
	return NewController("user-1", w, ins, repo, nil), repo, ins
}

func errMsg(st state.State) string {
	if st.Error == nil {
		return ""
	}
	return *st.Error
}

// TestLoadWeather_Success verifies the Loading -> Ready transition.
func TestLoadWeather_Success(t *testing.T) {
	c, _, _ := newTestController(okWeather())

	if err := c.LoadWeather(context.Background(), 48.85, 2.35); err != nil {
		t.Fatalf("LoadWeather: %v", err)
	}
	st := c.Snapshot()
	if st.Phase() != state.PhaseReady || st.CurrentWeather == nil || st.CurrentWeather.Lat != 48.85 {
		t.Errorf("state = %+v, want ready with Paris snapshot", st)
	}
}

// TestLoadWeather_FailurePreservesSnapshot verifies that a failed fetch clears loading,
// sets the generic message and keeps the previous snapshot.
func TestLoadWeather_FailurePreservesSnapshot(t *testing.T) {
	fail := false
	w := &fakeWeather{fn: func(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
		if fail {
			return models.WeatherSnapshot{}, errBackend
		}
		return models.WeatherSnapshot{Lat: lat}, nil
	}}
	c, _, _ := newTestController(w)
	_ = c.LoadWeather(context.Background(), 10, 10)

	fail = true
	if err := c.LoadWeather(context.Background(), 20, 20); !errors.Is(err, errBackend) {
		t.Fatalf("LoadWeather err = %v, want errBackend", err)
	}
	st := c.Snapshot()
	if st.IsLoading {
		t.Error("IsLoading = true after failure")
	}
	if errMsg(st) != MsgWeatherFailed {
		t.Errorf("Error = %q, want %q", errMsg(st), MsgWeatherFailed)
	}
	if st.CurrentWeather == nil || st.CurrentWeather.Lat != 10 {
		t.Errorf("CurrentWeather = %+v, want stale snapshot lat 10", st.CurrentWeather)
	}
}

// TestLoadWeather_StaleCompletionDiscarded verifies that a slow earlier fetch finishing after a
// newer one does not overwrite the newer snapshot or flip loading back on.
func TestLoadWeather_StaleCompletionDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	w := &fakeWeather{fn: func(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
		if lat == 1 {
			close(started)
			<-release
		}
		return models.WeatherSnapshot{Lat: lat}, nil
	}}
	c, _, _ := newTestController(w)

	done := make(chan error, 1)
	go func() { done <- c.LoadWeather(context.Background(), 1, 1) }()
	<-started

	if err := c.LoadWeather(context.Background(), 2, 2); err != nil {
		t.Fatalf("LoadWeather: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("slow LoadWeather: %v", err)
	}

	st := c.Snapshot()
	if st.CurrentWeather == nil || st.CurrentWeather.Lat != 2 {
		t.Errorf("CurrentWeather = %+v, want lat 2", st.CurrentWeather)
	}
	if st.IsLoading {
		t.Error("IsLoading = true, want false")
	}
}

// TestLoadSavedLocations verifies bulk load order and sync marking, and the failure message.
func TestLoadSavedLocations(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	ctx := context.Background()
	first, _ := repo.Repository.CreateLocation(ctx, models.SavedLocation{UserID: "user-1", Name: "A"})
	second, _ := repo.Repository.CreateLocation(ctx, models.SavedLocation{UserID: "user-1", Name: "B", CreatedAt: first.CreatedAt.Add(1)})

	if err := c.LoadSavedLocations(ctx); err != nil {
		t.Fatalf("LoadSavedLocations: %v", err)
	}
	locs := c.Snapshot().SavedLocations
	if len(locs) != 2 || locs[0].ID != second.ID || locs[0].Sync != models.SyncSynced {
		t.Errorf("SavedLocations = %+v, want [B A] synced", locs)
	}

	repo.listErr = errBackend
	if err := c.LoadSavedLocations(ctx); !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want errBackend", err)
	}
	if errMsg(c.Snapshot()) != MsgLoadFailed {
		t.Errorf("Error = %q, want %q", errMsg(c.Snapshot()), MsgLoadFailed)
	}
	if len(c.Snapshot().SavedLocations) != 2 {
		t.Error("failed reload cleared the list")
	}
}

// TestAddLocation_Synced verifies that a persisted add takes the backend id and is marked synced.
func TestAddLocation_Synced(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	ctx := context.Background()

	saved, err := c.AddLocation(ctx, "Paris", 48.85, 2.35)
	if err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	locs := c.Snapshot().SavedLocations
	if len(locs) != 1 {
		t.Fatalf("len = %d, want 1", len(locs))
	}
	got := locs[0]
	if got.ID != saved.ID || got.Sync != models.SyncSynced || got.Country != "User Added" || got.IsFavorite {
		t.Errorf("entry = %+v", got)
	}
	if _, err := repo.GetLocation(ctx, "user-1", saved.ID); err != nil {
		t.Errorf("backend GetLocation: %v", err)
	}
}

// TestAddLocation_Unsynced verifies that a failed persist keeps the entry, marked unsynced.
func TestAddLocation_Unsynced(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	repo.createErr = errBackend

	loc, err := c.AddLocation(context.Background(), "Paris", 48.85, 2.35)
	if !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want errBackend", err)
	}
	st := c.Snapshot()
	if len(st.SavedLocations) != 1 || st.SavedLocations[0].Sync != models.SyncUnsynced || st.SavedLocations[0].ID != loc.ID {
		t.Errorf("SavedLocations = %+v, want one unsynced entry", st.SavedLocations)
	}
	if errMsg(st) != MsgSaveFailed {
		t.Errorf("Error = %q, want %q", errMsg(st), MsgSaveFailed)
	}
}

// holdCreates makes every CreateLocation block until the returned release is called.
func holdCreates(repo *flakyRepo) (entered <-chan struct{}, release func()) {
	repo.createEntered = make(chan struct{})
	repo.createHold = make(chan struct{})
	return repo.createEntered, func() { close(repo.createHold) }
}

// addAsync starts AddLocation in a goroutine and returns a channel carrying its result.
func addAsync(c *Controller, name string) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := c.AddLocation(context.Background(), name, 1, 1)
		done <- err
	}()
	return done
}

// TestAddLocation_SameMillisecondKeepsDistinctIDs verifies that two adds started at the same
// instant get their own backend ids once both creates return.
func TestAddLocation_SameMillisecondKeepsDistinctIDs(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	entered, release := holdCreates(repo)

	paris := addAsync(c, "Paris")
	<-entered
	oslo := addAsync(c, "Oslo")
	<-entered

	pending := c.Snapshot().SavedLocations
	if len(pending) != 2 || pending[0].ID == pending[1].ID {
		t.Fatalf("pending entries = %+v, want two distinct ids", pending)
	}

	release()
	for _, done := range []<-chan error{paris, oslo} {
		if err := <-done; err != nil {
			t.Fatalf("AddLocation: %v", err)
		}
	}

	locs := c.Snapshot().SavedLocations
	if len(locs) != 2 || locs[0].ID == locs[1].ID {
		t.Fatalf("SavedLocations = %+v, want two distinct ids", locs)
	}
	for _, l := range locs {
		if l.Sync != models.SyncSynced {
			t.Errorf("%s Sync = %q, want synced", l.Name, l.Sync)
		}
		backend, err := repo.GetLocation(context.Background(), "user-1", l.ID)
		if err != nil {
			t.Errorf("backend GetLocation(%s): %v", l.Name, err)
			continue
		}
		if backend.Name != l.Name {
			t.Errorf("id %s is %q in the backend, %q in the store", l.ID, backend.Name, l.Name)
		}
	}
}

// TestAddLocation_FavoriteToggledWhilePending verifies that a toggle made before the create
// returns reaches the backend.
func TestAddLocation_FavoriteToggledWhilePending(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	entered, release := holdCreates(repo)

	done := addAsync(c, "Paris")
	<-entered
	pendingID := c.Snapshot().SavedLocations[0].ID
	if err := c.ToggleFavorite(context.Background(), pendingID); err != nil {
		t.Fatalf("ToggleFavorite: %v", err)
	}
	release()
	if err := <-done; err != nil {
		t.Fatalf("AddLocation: %v", err)
	}

	got := c.Snapshot().SavedLocations[0]
	if !got.IsFavorite || got.Sync != models.SyncSynced {
		t.Errorf("entry = %+v, want synced favorite", got)
	}
	backend, err := repo.GetLocation(context.Background(), "user-1", got.ID)
	if err != nil {
		t.Fatalf("backend GetLocation: %v", err)
	}
	if !backend.IsFavorite {
		t.Error("backend IsFavorite = false, want true")
	}
}

// TestAddLocation_FavoriteToggledWhilePendingUpdateFails verifies that when the follow-up
// update is rejected the entry falls back to the backend's flag and the error is set.
func TestAddLocation_FavoriteToggledWhilePendingUpdateFails(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	repo.updateErr = errBackend
	entered, release := holdCreates(repo)

	done := addAsync(c, "Paris")
	<-entered
	_ = c.ToggleFavorite(context.Background(), c.Snapshot().SavedLocations[0].ID)
	release()
	if err := <-done; err != nil {
		t.Fatalf("AddLocation: %v", err)
	}

	st := c.Snapshot()
	got := st.SavedLocations[0]
	if got.IsFavorite || got.Sync != models.SyncSynced {
		t.Errorf("entry = %+v, want synced non-favorite", got)
	}
	if errMsg(st) != MsgUpdateFailed {
		t.Errorf("Error = %q, want %q", errMsg(st), MsgUpdateFailed)
	}
}

// TestAddLocation_RemovedWhilePending verifies that an entry removed before its create returns
// does not linger in the backend.
func TestAddLocation_RemovedWhilePending(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	entered, release := holdCreates(repo)

	done := addAsync(c, "Paris")
	<-entered
	if err := c.RemoveLocation(context.Background(), c.Snapshot().SavedLocations[0].ID); err != nil {
		t.Fatalf("RemoveLocation: %v", err)
	}
	release()
	if err := <-done; err != nil {
		t.Fatalf("AddLocation: %v", err)
	}

	if locs := c.Snapshot().SavedLocations; len(locs) != 0 {
		t.Errorf("SavedLocations = %+v, want empty", locs)
	}
	backend, _ := repo.ListLocations(context.Background(), "user-1")
	if len(backend) != 0 {
		t.Errorf("backend locations = %+v, want none", backend)
	}
}

// TestEnsureLoaded_EditsWaitForFirstLoad verifies that an add issued while the first load is
// in flight is applied after it, so the load does not wipe it.
func TestEnsureLoaded_EditsWaitForFirstLoad(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	ctx := context.Background()
	if _, err := repo.Repository.CreateLocation(ctx, models.SavedLocation{UserID: "user-1", Name: "Paris"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo.listEntered = make(chan struct{})
	repo.listHold = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = c.EnsureLoaded(ctx)
	}()
	<-repo.listEntered

	added := make(chan struct{})
	go func() {
		defer wg.Done()
		_ = c.EnsureLoaded(ctx)
		_, _ = c.AddLocation(ctx, "Oslo", 1, 1)
		close(added)
	}()

	select {
	case <-added:
		t.Fatal("AddLocation ran before the first load finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(repo.listHold)
	wg.Wait()

	locs := c.Snapshot().SavedLocations
	if len(locs) != 2 || locs[0].Name != "Oslo" || locs[1].Name != "Paris" {
		t.Errorf("SavedLocations = %+v, want Oslo then Paris", locs)
	}

	// Later calls do not reload.
	repo.listErr = errBackend
	if err := c.EnsureLoaded(ctx); err != nil {
		t.Errorf("second EnsureLoaded = %v, want nil", err)
	}
}

func seed(t *testing.T, c *Controller, names ...string) []models.SavedLocation {
	t.Helper()
	var out []models.SavedLocation
	for _, n := range names {
		loc, err := c.AddLocation(context.Background(), n, 1, 1)
		if err != nil {
			t.Fatalf("AddLocation(%s): %v", n, err)
		}
		out = append(out, loc)
	}
	return out
}

// TestRemoveLocation_RollbackOnFailure verifies that a rejected delete restores the entry
// at its original position and sets the error.
func TestRemoveLocation_RollbackOnFailure(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	locs := seed(t, c, "A", "B", "C") // list: C B A
	repo.deleteErr = errBackend

	if err := c.RemoveLocation(context.Background(), locs[1].ID); !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want errBackend", err)
	}
	got := c.Snapshot().SavedLocations
	if len(got) != 3 || got[1].ID != locs[1].ID {
		t.Errorf("after rollback = %+v, want B restored at index 1", got)
	}
	if errMsg(c.Snapshot()) != MsgDeleteFailed {
		t.Errorf("Error = %q, want %q", errMsg(c.Snapshot()), MsgDeleteFailed)
	}
}

// TestRemoveLocation_Idempotent verifies that removing twice succeeds both times.
func TestRemoveLocation_Idempotent(t *testing.T) {
	c, _, _ := newTestController(okWeather())
	locs := seed(t, c, "A")
	_ = c.SelectLocation(context.Background(), locs[0].ID)

	for i := 0; i < 2; i++ {
		if err := c.RemoveLocation(context.Background(), locs[0].ID); err != nil {
			t.Fatalf("RemoveLocation #%d: %v", i+1, err)
		}
	}
	st := c.Snapshot()
	if len(st.SavedLocations) != 0 {
		t.Errorf("SavedLocations = %+v, want empty", st.SavedLocations)
	}
	if st.SelectedLocation != nil {
		t.Error("SelectedLocation not cleared after removing it")
	}
}

// TestRemoveLocation_UnsyncedIsLocal verifies that an entry the backend never accepted is
// removed without a backend call.
func TestRemoveLocation_UnsyncedIsLocal(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	repo.createErr = errBackend
	loc, _ := c.AddLocation(context.Background(), "A", 1, 1)
	repo.deleteErr = errBackend

	if err := c.RemoveLocation(context.Background(), loc.ID); err != nil {
		t.Fatalf("RemoveLocation: %v", err)
	}
	if repo.deletes != 0 {
		t.Errorf("backend deletes = %d, want 0", repo.deletes)
	}
}

// TestToggleFavorite verifies persisted toggles, rollback on failure and the unknown-id no-op.
func TestToggleFavorite(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	ctx := context.Background()
	loc := seed(t, c, "Paris")[0]

	if err := c.ToggleFavorite(ctx, loc.ID); err != nil {
		t.Fatalf("ToggleFavorite: %v", err)
	}
	if !c.Snapshot().SavedLocations[0].IsFavorite {
		t.Error("IsFavorite = false after toggle")
	}
	if backend, _ := repo.GetLocation(ctx, "user-1", loc.ID); !backend.IsFavorite {
		t.Error("backend IsFavorite = false after toggle")
	}

	repo.updateErr = errBackend
	if err := c.ToggleFavorite(ctx, loc.ID); !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want errBackend", err)
	}
	if !c.Snapshot().SavedLocations[0].IsFavorite {
		t.Error("IsFavorite not rolled back to true")
	}

	if err := c.ToggleFavorite(ctx, "missing"); err != nil {
		t.Errorf("ToggleFavorite(missing) = %v, want nil", err)
	}
}

// TestSelectLocation verifies selection, weather load and history recording.
func TestSelectLocation(t *testing.T) {
	c, repo, _ := newTestController(okWeather())
	ctx := context.Background()
	loc := seed(t, c, "Paris")[0]
	c.store.SetAIInsight(&models.Insight{Insight: "old"})

	if err := c.SelectLocation(ctx, loc.ID); err != nil {
		t.Fatalf("SelectLocation: %v", err)
	}
	st := c.Snapshot()
	if st.SelectedLocation == nil || st.SelectedLocation.ID != loc.ID {
		t.Errorf("SelectedLocation = %+v", st.SelectedLocation)
	}
	if st.AIInsight != nil {
		t.Error("AIInsight not cleared on selection")
	}
	if st.Phase() != state.PhaseReady {
		t.Errorf("Phase = %v, want ready", st.Phase())
	}
	hist, _ := repo.ListHistoryByLocation(ctx, "user-1", loc.ID, 0)
	if len(hist) != 1 || hist[0].Temperature != 18 || hist[0].Condition != "Clear" {
		t.Errorf("history = %+v, want one Clear 18 record", hist)
	}

	if err := c.SelectLocation(ctx, "missing"); !errors.Is(err, ErrLocationNotFound) {
		t.Errorf("err = %v, want ErrLocationNotFound", err)
	}
}

// TestGenerateInsight verifies preconditions, persistence of tagged results and the failure path.
func TestGenerateInsight(t *testing.T) {
	c, repo, ins := newTestController(okWeather())
	ctx := context.Background()

	if _, err := c.GenerateInsight(ctx); !errors.Is(err, ErrNoWeather) {
		t.Errorf("err = %v, want ErrNoWeather", err)
	}
	_ = c.LoadWeather(ctx, 1, 1)
	if _, err := c.GenerateInsight(ctx); !errors.Is(err, ErrNoSelection) {
		t.Errorf("err = %v, want ErrNoSelection", err)
	}

	loc := seed(t, c, "Paris")[0]
	_ = c.SelectLocation(ctx, loc.ID)
	ins.res = insight.Result{Insight: insight.FallbackInsight, Suggestions: insight.FallbackSuggestions, Fallback: true, Reason: insight.ErrNoJSON}

	got, err := c.GenerateInsight(ctx)
	if err != nil {
		t.Fatalf("GenerateInsight: %v", err)
	}
	if !got.Fallback || got.LocationID != loc.ID || got.ID == "" {
		t.Errorf("insight = %+v", got)
	}
	if active := c.Snapshot().AIInsight; active == nil || active.ID != got.ID {
		t.Errorf("AIInsight = %+v, want %s", active, got.ID)
	}
	if stored, err := repo.LatestInsightByLocation(ctx, "user-1", loc.ID); err != nil || !stored.Fallback {
		t.Errorf("stored = %+v, %v", stored, err)
	}

	repo.insightErr = errBackend
	c.store.SetAIInsight(nil)
	if _, err := c.GenerateInsight(ctx); !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want errBackend", err)
	}
	st := c.Snapshot()
	if st.AIInsight != nil || errMsg(st) != MsgInsightFailed {
		t.Errorf("after failure AIInsight=%v Error=%q", st.AIInsight, errMsg(st))
	}
}

// TestReset verifies that Reset yields the initial state.
func TestReset(t *testing.T) {
	c, _, _ := newTestController(okWeather())
	seed(t, c, "A")
	_ = c.LoadWeather(context.Background(), 1, 1)

	c.Reset()
	st := c.Snapshot()
	if st.CurrentWeather != nil || len(st.SavedLocations) != 0 || st.Phase() != state.PhaseIdle {
		t.Errorf("after Reset = %+v", st)
	}
}
