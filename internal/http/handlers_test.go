package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-insight-service/internal/cache"
	"github.com/kjstillabower/weather-insight-service/internal/client"
	"github.com/kjstillabower/weather-insight-service/internal/dashboard"
	"github.com/kjstillabower/weather-insight-service/internal/insight"
	"github.com/kjstillabower/weather-insight-service/internal/lifecycle"
	"github.com/kjstillabower/weather-insight-service/internal/models"
	"github.com/kjstillabower/weather-insight-service/internal/service"
	"github.com/kjstillabower/weather-insight-service/internal/store"
	"github.com/kjstillabower/weather-insight-service/internal/traffic"
)

type mockWeatherClient struct {
	mu          sync.Mutex
	snapshot    models.WeatherSnapshot
	cities      []models.GeoLocation
	err         error
	validateErr error
	calls       int
}

func (m *mockWeatherClient) GetWeather(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return models.WeatherSnapshot{}, m.err
	}
	snap := m.snapshot
	snap.Lat, snap.Lon = lat, lon
	return snap, nil
}

func (m *mockWeatherClient) SearchCities(ctx context.Context, query string) ([]models.GeoLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cities, m.err
}

func (m *mockWeatherClient) ReverseGeocode(ctx context.Context, lat, lon float64) (models.GeoLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.GeoLocation{}, m.err
	}
	if len(m.cities) == 0 {
		return models.GeoLocation{}, client.ErrLocationNotFound
	}
	return m.cities[0], nil
}

func (m *mockWeatherClient) ValidateAPIKey(ctx context.Context) error {
	return m.validateErr
}

func (m *mockWeatherClient) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type fakeText struct {
	reply string
	err   error
}

func (f *fakeText) Generate(ctx context.Context, prompt string) (string, error) {
	return f.reply, f.err
}

func sampleSnapshot() models.WeatherSnapshot {
	return models.WeatherSnapshot{
		Timezone: "America/Los_Angeles",
		Current:  models.Reading{Temp: 12.5, Main: "Clouds", Description: "overcast clouds", Humidity: 80},
		Daily:    []models.Reading{{TempMin: 8, TempMax: 14, Main: "Rain"}},
	}
}

type testEnv struct {
	client   *mockWeatherClient
	repo     *store.MemoryRepository
	sessions *dashboard.Sessions
	handler  *Handler
	router   *mux.Router
}

// newTestEnv builds the full router over an in-memory cache and repository.
// A nil text generator makes every insight fall back.
func newTestEnv(t *testing.T, text insight.TextGenerator, health *HealthConfig, logger *zap.Logger) *testEnv {
	t.Helper()
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	if logger == nil {
		logger = zap.NewNop()
	}
	mc := &mockWeatherClient{snapshot: sampleSnapshot()}
	weather := service.NewWeatherService(mc, cache.NewInMemoryCache(), 5*time.Minute)
	gen := insight.New(text, logger)
	repo := store.NewMemoryRepository()
	sessions := dashboard.NewSessions(weather, gen, repo, logger)
	h := NewHandler(Deps{
		Weather:  weather,
		Client:   mc,
		Insights: gen,
		Repo:     repo,
		Sessions: sessions,
		Health:   health,
		Logger:   logger,
	})
	return &testEnv{
		client:   mc,
		repo:     repo,
		sessions: sessions,
		handler:  h,
		router:   NewRouter(h, nil, 5*time.Second, logger),
	}
}

// do sends a request through the router. user, when non-empty, is sent as X-User-ID.
func (e *testEnv) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return body
}

// errorCode returns error.code from an error envelope.
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := decodeBody(t, w)["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no error object: %s", w.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

// TestHandler_GetWeather_Success verifies that GET /api/weather returns the snapshot in the
// success envelope.
func TestHandler_GetWeather_Success(t *testing.T) {
	// Arrange
	env := newTestEnv(t, nil, nil, nil)

	// Act
	w := env.do(t, "GET", "/api/weather?lat=47.61&lon=-122.33", "", nil)

	// Assert
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	body := decodeBody(t, w)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	data := body["data"].(map[string]interface{})
	current := data["current"].(map[string]interface{})
	if current["temp"] != 12.5 {
		t.Errorf("current.temp = %v, want 12.5", current["temp"])
	}
}

// TestHandler_GetWeather_CachedAcrossRequests verifies that a second request for the same
// rounded coordinates is served from cache.
func TestHandler_GetWeather_CachedAcrossRequests(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)

	env.do(t, "GET", "/api/weather?lat=47.611&lon=-122.331", "", nil)
	w := env.do(t, "GET", "/api/weather?lat=47.609&lon=-122.329", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if env.client.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", env.client.calls)
	}
}

// TestHandler_GetWeather_InvalidCoordinates verifies 400 INVALID_REQUEST for bad query params.
func TestHandler_GetWeather_InvalidCoordinates(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	tests := []struct {
		name  string
		query string
	}{
		{"missing lat", "?lon=10"},
		{"missing both", ""},
		{"lat out of range", "?lat=91&lon=0"},
		{"lon out of range", "?lat=0&lon=-181"},
		{"not a number", "?lat=abc&lon=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "GET", "/api/weather"+tt.query, "", nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if code := errorCode(t, w); code != "INVALID_REQUEST" {
				t.Errorf("code = %q, want INVALID_REQUEST", code)
			}
		})
	}
	if env.client.calls != 0 {
		t.Errorf("upstream calls = %d, want 0", env.client.calls)
	}
}

// TestHandler_GetWeather_UpstreamError verifies 503 UPSTREAM_UNAVAILABLE with the correlation id
// echoed as requestId.
func TestHandler_GetWeather_UpstreamError(t *testing.T) {
	// Arrange
	env := newTestEnv(t, nil, nil, nil)
	env.client.setErr(client.ErrUpstreamFailure)

	// Act
	req := httptest.NewRequest("GET", "/api/weather?lat=1&lon=2", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	// Assert
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	errObj := decodeBody(t, w)["error"].(map[string]interface{})
	if errObj["code"] != "UPSTREAM_UNAVAILABLE" {
		t.Errorf("code = %v, want UPSTREAM_UNAVAILABLE", errObj["code"])
	}
	if errObj["requestId"] != "corr-123" {
		t.Errorf("requestId = %v, want corr-123", errObj["requestId"])
	}
	if errs, total := traffic.ErrorRate(time.Minute); errs != 1 || total != 1 {
		t.Errorf("ErrorRate = %d/%d, want 1/1", errs, total)
	}
}

// TestHandler_SearchCities verifies geocoding results, empty results as [] and query validation.
func TestHandler_SearchCities(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)

	w := env.do(t, "GET", "/api/geocode?q=", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", w.Code)
	}

	w = env.do(t, "GET", "/api/geocode?q=Nowhere", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if data, ok := decodeBody(t, w)["data"].([]interface{}); !ok || len(data) != 0 {
		t.Errorf("data = %v, want empty array", decodeBody(t, w)["data"])
	}

	env.client.cities = []models.GeoLocation{{Name: "Paris", Country: "FR", Lat: 48.85, Lon: 2.35}}
	w = env.do(t, "GET", "/api/geocode?q=Paris", "", nil)
	data := decodeBody(t, w)["data"].([]interface{})
	if len(data) != 1 || data[0].(map[string]interface{})["name"] != "Paris" {
		t.Errorf("data = %v, want [Paris]", data)
	}
}

// TestHandler_ReverseGeocode verifies the first match is returned and an empty match is 404.
func TestHandler_ReverseGeocode(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)

	w := env.do(t, "GET", "/api/geocode/reverse?lat=48.85&lon=2.35", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("no match status = %d, want 404", w.Code)
	}

	env.client.cities = []models.GeoLocation{{Name: "Paris", Country: "FR"}}
	w = env.do(t, "GET", "/api/geocode/reverse?lat=48.85&lon=2.35", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if name := decodeBody(t, w)["data"].(map[string]interface{})["name"]; name != "Paris" {
		t.Errorf("name = %v, want Paris", name)
	}
}

// TestHandler_PostInsight_MissingFields verifies that a request missing any of the four required
// fields is rejected with 400 and nothing is persisted.
func TestHandler_PostInsight_MissingFields(t *testing.T) {
	env := newTestEnv(t, &fakeText{reply: `{"insight":"ok","suggestions":[]}`}, nil, nil)
	snap := sampleSnapshot()
	full := map[string]interface{}{
		"weatherData": snap,
		"location":    "Seattle",
		"locationId":  "loc-1",
		"userId":      "u1",
	}
	for _, missing := range []string{"weatherData", "location", "locationId", "userId"} {
		t.Run(missing, func(t *testing.T) {
			body := make(map[string]interface{}, len(full))
			for k, v := range full {
				if k != missing {
					body[k] = v
				}
			}
			w := env.do(t, "POST", "/api/weather/insight", "", body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			errObj := decodeBody(t, w)["error"].(map[string]interface{})
			if errObj["message"] != "Missing required fields" {
				t.Errorf("message = %v, want Missing required fields", errObj["message"])
			}
		})
	}

	all, err := env.repo.ListInsightsByUser(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("persisted %d insights, want 0", len(all))
	}
}

// TestHandler_PostInsight_Created verifies that a parsed insight is persisted and returned with 201.
func TestHandler_PostInsight_Created(t *testing.T) {
	env := newTestEnv(t, &fakeText{reply: "```json\n{\"insight\":\"Cool and cloudy.\",\"suggestions\":[\"Bring a jacket\"]}\n```"}, nil, nil)

	w := env.do(t, "POST", "/api/weather/insight", "", map[string]interface{}{
		"weatherData": sampleSnapshot(),
		"location":    "Seattle",
		"locationId":  "loc-1",
		"userId":      "u1",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]interface{})
	if data["insight"] != "Cool and cloudy." || data["fallback"] != false {
		t.Errorf("data = %v, want parsed insight without fallback", data)
	}
	latest, err := env.repo.LatestInsightByLocation(context.Background(), "u1", "loc-1")
	if err != nil {
		t.Fatalf("LatestInsightByLocation: %v", err)
	}
	if latest.ID != data["id"] {
		t.Errorf("persisted id = %q, response id = %v", latest.ID, data["id"])
	}
}

// TestHandler_PostInsight_FallbackPersisted verifies that without a model the fallback insight
// is still stored, tagged as a fallback.
func TestHandler_PostInsight_FallbackPersisted(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)

	w := env.do(t, "POST", "/api/weather/insight", "", map[string]interface{}{
		"weatherData": sampleSnapshot(),
		"location":    "Seattle",
		"locationId":  "loc-1",
		"userId":      "u1",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]interface{})
	if data["fallback"] != true || data["insight"] != insight.FallbackInsight {
		t.Errorf("data = %v, want tagged fallback", data)
	}
}

// TestHandler_PostActivities verifies the {success, data, fallback} shape for both paths.
func TestHandler_PostActivities(t *testing.T) {
	tests := []struct {
		name         string
		text         insight.TextGenerator
		wantFallback bool
		wantFirst    string
	}{
		{"parsed", &fakeText{reply: `Try these: ["Walk in the park", "Visit a museum"]`}, false, "Walk in the park"},
		{"unparseable", &fakeText{reply: "Go outside!"}, true, insight.FallbackActivities[0]},
		{"no model", nil, true, insight.FallbackActivities[0]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.text, nil, nil)
			w := env.do(t, "POST", "/api/weather/activities", "", map[string]interface{}{
				"weatherData": sampleSnapshot(),
				"location":    "Seattle",
			})
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			body := decodeBody(t, w)
			if body["fallback"] != tt.wantFallback {
				t.Errorf("fallback = %v, want %v", body["fallback"], tt.wantFallback)
			}
			data := body["data"].([]interface{})
			if len(data) == 0 || data[0] != tt.wantFirst {
				t.Errorf("data = %v, want first %q", data, tt.wantFirst)
			}
		})
	}
}

// TestHandler_RequireUser verifies that user-scoped routes reject requests without X-User-ID.
func TestHandler_RequireUser(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	for _, path := range []string{"/api/locations", "/api/history", "/api/insights", "/api/dashboard"} {
		t.Run(path, func(t *testing.T) {
			w := env.do(t, "GET", path, "", nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			errObj := decodeBody(t, w)["error"].(map[string]interface{})
			if errObj["code"] != "AUTH_REQUIRED" || errObj["message"] != "User ID required" {
				t.Errorf("error = %v, want AUTH_REQUIRED / User ID required", errObj)
			}
		})
	}
}

// TestHandler_Locations_CRUD walks a location through create, read, update and delete.
func TestHandler_Locations_CRUD(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)

	// Create
	w := env.do(t, "POST", "/api/locations", "u1", map[string]interface{}{
		"name": " Seattle ", "country": "US", "lat": 47.61, "lon": -122.33,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201; body %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)["data"].(map[string]interface{})
	id := created["id"].(string)
	if id == "" || created["name"] != "Seattle" {
		t.Fatalf("created = %v, want trimmed name and id", created)
	}

	// Read
	w = env.do(t, "GET", "/api/locations/"+id, "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}

	// Update
	w = env.do(t, "PUT", "/api/locations/"+id, "u1", map[string]interface{}{"name": "Seattle, WA", "is_favorite": true})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	updated := decodeBody(t, w)["data"].(map[string]interface{})
	if updated["name"] != "Seattle, WA" || updated["is_favorite"] != true || updated["lat"] != 47.61 {
		t.Errorf("updated = %v", updated)
	}

	// Other users cannot see it
	w = env.do(t, "GET", "/api/locations/"+id, "u2", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("other user status = %d, want 404", w.Code)
	}

	// Delete
	w = env.do(t, "DELETE", "/api/locations/"+id, "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", w.Code)
	}
	w = env.do(t, "GET", "/api/locations/"+id, "u1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}
}

// TestHandler_ListLocations_Favorites verifies the favorites filter.
func TestHandler_ListLocations_Favorites(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	ctx := context.Background()
	for _, loc := range []models.SavedLocation{
		{UserID: "u1", Name: "Paris", Lat: 48.85, Lon: 2.35, IsFavorite: true},
		{UserID: "u1", Name: "Oslo", Lat: 59.91, Lon: 10.75},
	} {
		if _, err := env.repo.CreateLocation(ctx, loc); err != nil {
			t.Fatal(err)
		}
	}

	all := decodeBody(t, env.do(t, "GET", "/api/locations", "u1", nil))["data"].([]interface{})
	favs := decodeBody(t, env.do(t, "GET", "/api/locations?favorites=true", "u1", nil))["data"].([]interface{})

	if len(all) != 2 {
		t.Errorf("all = %d locations, want 2", len(all))
	}
	if len(favs) != 1 || favs[0].(map[string]interface{})["name"] != "Paris" {
		t.Errorf("favorites = %v, want [Paris]", favs)
	}
}

// TestHandler_CreateLocation_Invalid verifies body validation.
func TestHandler_CreateLocation_Invalid(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	tests := []struct {
		name string
		body interface{}
	}{
		{"bad json", "{"},
		{"missing name", map[string]interface{}{"lat": 1, "lon": 2}},
		{"blank name", map[string]interface{}{"name": "  ", "lat": 1, "lon": 2}},
		{"missing lat", map[string]interface{}{"name": "X", "lon": 2}},
		{"lat out of range", map[string]interface{}{"name": "X", "lat": 95, "lon": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/locations", "u1", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body %s", w.Code, w.Body.String())
			}
		})
	}
}

// TestHandler_History verifies create, listing by location and by user, and delete.
func TestHandler_History(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)

	for _, rec := range []map[string]interface{}{
		{"location_id": "loc-1", "temperature": 10.5, "condition": "Rain"},
		{"location_id": "loc-1", "temperature": 11, "condition": "Clouds"},
		{"location_id": "loc-2", "temperature": 20, "condition": "Clear"},
	} {
		w := env.do(t, "POST", "/api/history", "u1", rec)
		if w.Code != http.StatusCreated {
			t.Fatalf("create status = %d, want 201; body %s", w.Code, w.Body.String())
		}
	}

	byLoc := decodeBody(t, env.do(t, "GET", "/api/history?locationId=loc-1", "u1", nil))["data"].([]interface{})
	if len(byLoc) != 2 {
		t.Fatalf("by location = %d, want 2", len(byLoc))
	}
	if first := byLoc[0].(map[string]interface{}); first["condition"] != "Clouds" {
		t.Errorf("first = %v, want newest (Clouds)", first)
	}
	byUser := decodeBody(t, env.do(t, "GET", "/api/history", "u1", nil))["data"].([]interface{})
	if len(byUser) != 3 {
		t.Errorf("by user = %d, want 3", len(byUser))
	}

	id := byUser[0].(map[string]interface{})["id"].(string)
	if w := env.do(t, "DELETE", "/api/history/"+id, "u1", nil); w.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", w.Code)
	}
	if w := env.do(t, "DELETE", "/api/history/"+id, "u1", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}

	w := env.do(t, "POST", "/api/history", "u1", map[string]interface{}{"location_id": "loc-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing temperature status = %d, want 400", w.Code)
	}
}

// TestHandler_GetInsights verifies latest-by-location, 404 when absent, and list by user.
func TestHandler_GetInsights(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	ctx := context.Background()

	w := env.do(t, "GET", "/api/insights?locationId=loc-1", "u1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	for _, text := range []string{"first", "second"} {
		if _, err := env.repo.CreateInsight(ctx, models.Insight{UserID: "u1", LocationID: "loc-1", Insight: text}); err != nil {
			t.Fatal(err)
		}
	}
	w = env.do(t, "GET", "/api/insights?locationId=loc-1", "u1", nil)
	if got := decodeBody(t, w)["data"].(map[string]interface{})["insight"]; got != "second" {
		t.Errorf("latest = %v, want second", got)
	}
	all := decodeBody(t, env.do(t, "GET", "/api/insights", "u1", nil))["data"].([]interface{})
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
	none := decodeBody(t, env.do(t, "GET", "/api/insights", "u2", nil))["data"].([]interface{})
	if len(none) != 0 {
		t.Errorf("other user = %d, want 0", len(none))
	}
}

// TestHandler_GetHealth verifies status selection in priority order.
func TestHandler_GetHealth(t *testing.T) {
	tests := []struct {
		name        string
		arrange     func(env *testEnv)
		health      *HealthConfig
		wantCode    int
		wantStatus  string
		wantChecked string
	}{
		{
			name:       "healthy",
			arrange:    func(*testEnv) {},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "invalid api key",
			arrange:    func(env *testEnv) { env.client.validateErr = client.ErrInvalidAPIKey },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
		{
			name:       "shutting down wins",
			arrange:    func(env *testEnv) { env.client.validateErr = client.ErrInvalidAPIKey; lifecycle.SetShuttingDown(true) },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "shutting-down",
		},
		{
			name: "overloaded",
			arrange: func(*testEnv) {
				for i := 0; i < 7; i++ {
					traffic.RecordSuccess()
				}
			},
			health:     &HealthConfig{OverloadWindow: 10 * time.Second, OverloadThresholdPct: 50, RateLimitRPS: 1},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "overloaded",
		},
		{
			name: "degraded error rate",
			arrange: func(*testEnv) {
				traffic.RecordSuccess()
				traffic.RecordError()
			},
			health:     &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
		{
			name: "below error threshold",
			arrange: func(*testEnv) {
				traffic.RecordSuccess()
				traffic.RecordSuccess()
				traffic.RecordError()
			},
			health:     &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:        "cache down does not change status",
			arrange:     func(*testEnv) {},
			health:      &HealthConfig{CachePing: func() error { return context.DeadlineExceeded }},
			wantCode:    http.StatusOK,
			wantStatus:  "healthy",
			wantChecked: "cache",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			env := newTestEnv(t, nil, tt.health, nil)
			defer lifecycle.SetShuttingDown(false)
			tt.arrange(env)

			// Act
			w := env.do(t, "GET", "/health", "", nil)

			// Assert
			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			body := decodeBody(t, w)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			checks := body["checks"].(map[string]interface{})
			if checks["database"] != "healthy" {
				t.Errorf("checks.database = %v, want healthy", checks["database"])
			}
			if tt.wantChecked != "" && checks[tt.wantChecked] != "unhealthy" {
				t.Errorf("checks.%s = %v, want unhealthy", tt.wantChecked, checks[tt.wantChecked])
			}
			for _, key := range []string{"service", "version", "uptime", "timestamp"} {
				if _, ok := body[key]; !ok {
					t.Errorf("missing %q in health response", key)
				}
			}
		})
	}
}

// TestHandler_GetHealth_LogsTransition verifies that a transition is logged once, when the
// status changes, and not on every call.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	// Arrange
	core, logs := observer.New(zap.InfoLevel)
	env := newTestEnv(t, nil, &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}, zap.New(core))
	traffic.RecordSuccess()
	traffic.RecordSuccess()

	// Act: first call establishes the previous status
	if w := env.do(t, "GET", "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}
	traffic.RecordError()
	traffic.RecordError()
	env.do(t, "GET", "/health", "", nil)
	env.do(t, "GET", "/health", "", nil)

	// Assert
	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" || fields["reason"] != "error_rate_breach" {
		t.Errorf("transition fields = %v", fields)
	}
}

// TestCoverageGaps_IntentionallyUntested documents paths that are not unit tested.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Skip("documentation only: persistence 500 paths are covered by store tests with injected failures; " +
		"the Postgres-backed router is exercised only in integration runs")
}
