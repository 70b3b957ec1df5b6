package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-insight-service/internal/models"
	"github.com/kjstillabower/weather-insight-service/internal/observability"
)

// WeatherClient is the remote weather gateway: forecasts by coordinates plus forward and reverse geocoding.
type WeatherClient interface {
	GetWeather(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error)
	SearchCities(ctx context.Context, query string) ([]models.GeoLocation, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (models.GeoLocation, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrCircuitOpen      = errors.New("circuit breaker open")
)

const (
	endpointOneCall = "onecall"
	endpointDirect  = "direct"
	endpointReverse = "reverse"

	searchLimit = 5
)

// Options configures an OpenWeatherClient. Zero retry fields mean a single attempt.
type Options struct {
	APIKey       string
	WeatherURL   string
	GeocodingURL string
	Timeout      time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	// HTTPClient overrides the default client (tests). Its Timeout is left as set.
	HTTPClient *http.Client
}

type OpenWeatherClient struct {
	apiKey         string
	weatherURL     string
	geocodingURL   string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

func NewOpenWeatherClient(opts Options) (*OpenWeatherClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(opts.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	c := &OpenWeatherClient{
		apiKey:         opts.APIKey,
		weatherURL:     opts.WeatherURL,
		geocodingURL:   strings.TrimRight(opts.GeocodingURL, "/"),
		timeout:        opts.Timeout,
		client:         httpClient,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
	}
	if opts.BreakerEnabled {
		c.breaker = newBreaker("openweather", opts.BreakerFailureThreshold, opts.BreakerTimeout)
	}
	return c, nil
}

type owmCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owmReading struct {
	Dt         int64          `json:"dt"`
	Temp       float64        `json:"temp"`
	FeelsLike  float64        `json:"feels_like"`
	Pressure   int            `json:"pressure"`
	Humidity   int            `json:"humidity"`
	UVI        float64        `json:"uvi"`
	Clouds     int            `json:"clouds"`
	Visibility int            `json:"visibility"`
	WindSpeed  float64        `json:"wind_speed"`
	WindDeg    int            `json:"wind_deg"`
	Weather    []owmCondition `json:"weather"`
	Rain       *owmVolume     `json:"rain"`
	Snow       *owmVolume     `json:"snow"`
}

type owmVolume struct {
	OneHour float64 `json:"1h"`
}

type owmDaily struct {
	Dt   int64 `json:"dt"`
	Temp struct {
		Day float64 `json:"day"`
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"temp"`
	FeelsLike struct {
		Day float64 `json:"day"`
	} `json:"feels_like"`
	Pressure  int            `json:"pressure"`
	Humidity  int            `json:"humidity"`
	UVI       float64        `json:"uvi"`
	Clouds    int            `json:"clouds"`
	WindSpeed float64        `json:"wind_speed"`
	WindDeg   int            `json:"wind_deg"`
	Weather   []owmCondition `json:"weather"`
	Rain      *float64       `json:"rain"`
	Snow      *float64       `json:"snow"`
}

type oneCallResponse struct {
	Lat      float64        `json:"lat"`
	Lon      float64        `json:"lon"`
	Timezone string         `json:"timezone"`
	Current  owmReading     `json:"current"`
	Hourly   []owmReading   `json:"hourly"`
	Daily    []owmDaily     `json:"daily"`
	Alerts   []models.Alert `json:"alerts"`
}

type geoResponse struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// GetWeather fetches current conditions, the hourly window and the daily forecast for a coordinate pair.
func (c *OpenWeatherClient) GetWeather(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
	u, err := c.buildURL(c.weatherURL, url.Values{
		"lat":     {formatCoord(lat)},
		"lon":     {formatCoord(lon)},
		"units":   {"metric"},
		"exclude": {"minutely"},
	})
	if err != nil {
		return models.WeatherSnapshot{}, err
	}

	var resp oneCallResponse
	if err := c.do(ctx, endpointOneCall, u, &resp); err != nil {
		return models.WeatherSnapshot{}, err
	}
	return mapOneCall(resp), nil
}

// SearchCities returns up to five geocoding matches for a free-text query.
func (c *OpenWeatherClient) SearchCities(ctx context.Context, query string) ([]models.GeoLocation, error) {
	u, err := c.buildURL(c.geocodingURL+"/direct", url.Values{
		"q":     {query},
		"limit": {strconv.Itoa(searchLimit)},
	})
	if err != nil {
		return nil, err
	}

	var resp []geoResponse
	if err := c.do(ctx, endpointDirect, u, &resp); err != nil {
		return nil, err
	}
	out := make([]models.GeoLocation, 0, len(resp))
	for _, g := range resp {
		out = append(out, mapGeo(g))
	}
	return out, nil
}

// ReverseGeocode returns the nearest named place, or ErrLocationNotFound when the provider has none.
func (c *OpenWeatherClient) ReverseGeocode(ctx context.Context, lat, lon float64) (models.GeoLocation, error) {
	u, err := c.buildURL(c.geocodingURL+"/reverse", url.Values{
		"lat":   {formatCoord(lat)},
		"lon":   {formatCoord(lon)},
		"limit": {"1"},
	})
	if err != nil {
		return models.GeoLocation{}, err
	}

	var resp []geoResponse
	if err := c.do(ctx, endpointReverse, u, &resp); err != nil {
		return models.GeoLocation{}, err
	}
	if len(resp) == 0 {
		return models.GeoLocation{}, ErrLocationNotFound
	}
	return mapGeo(resp[0]), nil
}

// do runs one logical upstream call: retries (when configured) around the breaker around one HTTP exchange.
func (c *OpenWeatherClient) do(ctx context.Context, endpoint string, u string, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := c.execute(ctx, endpoint, u, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if ctx.Err() != nil || !c.isRetryable(err) {
			return err
		}
	}

	if c.retryAttempts > 1 {
		return fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return lastErr
}

// execute routes one attempt through the circuit breaker. Only upstream faults count against the
// breaker; caller mistakes (bad key, unknown location) and caller cancellation pass through untouched.
func (c *OpenWeatherClient) execute(ctx context.Context, endpoint string, u string, out interface{}) error {
	if c.breaker == nil {
		return c.callAPI(ctx, endpoint, u, out)
	}

	var callErr error
	_, err := c.breaker.Execute(func() (interface{}, error) {
		callErr = c.callAPI(ctx, endpoint, u, out)
		if callErr != nil && ctx.Err() == nil && countsAgainstBreaker(callErr) {
			return nil, callErr
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return err
	}
	return callErr
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint string, u string, out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if isTimeout(err) {
			return fmt.Errorf("%w: request timeout: %w", ErrUpstreamFailure, err)
		}
		return fmt.Errorf("%w: http request failed: %w", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response body: %w", ErrUpstreamFailure, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse response: %w", ErrUpstreamFailure, err)
	}
	return nil
}

func (c *OpenWeatherClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure)
}

func countsAgainstBreaker(err error) bool {
	return errors.Is(err, ErrUpstreamFailure) || errors.Is(err, ErrRateLimited)
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if c.retryMaxDelay > 0 && delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildURL(rawURL string, params url.Values) (string, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid API URL: %w", err)
	}
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()
	return baseURL.String(), nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func mapOneCall(r oneCallResponse) models.WeatherSnapshot {
	snap := models.WeatherSnapshot{
		Lat:       r.Lat,
		Lon:       r.Lon,
		Timezone:  r.Timezone,
		Current:   mapReading(r.Current),
		Hourly:    make([]models.Reading, 0, len(r.Hourly)),
		Daily:     make([]models.Reading, 0, len(r.Daily)),
		Alerts:    r.Alerts,
		FetchedAt: time.Now().UTC(),
	}
	for _, h := range r.Hourly {
		snap.Hourly = append(snap.Hourly, mapReading(h))
	}
	for _, d := range r.Daily {
		snap.Daily = append(snap.Daily, mapDaily(d))
	}
	return snap
}

// mapReading flattens weather[0] into the reading. Point-in-time readings have no range, so min and max equal temp.
func mapReading(r owmReading) models.Reading {
	out := models.Reading{
		Dt:         r.Dt,
		Temp:       r.Temp,
		FeelsLike:  r.FeelsLike,
		TempMin:    r.Temp,
		TempMax:    r.Temp,
		Humidity:   r.Humidity,
		Pressure:   r.Pressure,
		WindSpeed:  r.WindSpeed,
		WindDeg:    r.WindDeg,
		Clouds:     r.Clouds,
		Visibility: r.Visibility,
		UVI:        r.UVI,
	}
	applyCondition(&out, r.Weather)
	if r.Rain != nil {
		v := r.Rain.OneHour
		out.Rain = &v
	}
	if r.Snow != nil {
		v := r.Snow.OneHour
		out.Snow = &v
	}
	return out
}

func mapDaily(d owmDaily) models.Reading {
	out := models.Reading{
		Dt:        d.Dt,
		Temp:      d.Temp.Day,
		FeelsLike: d.FeelsLike.Day,
		TempMin:   d.Temp.Min,
		TempMax:   d.Temp.Max,
		Humidity:  d.Humidity,
		Pressure:  d.Pressure,
		WindSpeed: d.WindSpeed,
		WindDeg:   d.WindDeg,
		Clouds:    d.Clouds,
		UVI:       d.UVI,
		Rain:      d.Rain,
		Snow:      d.Snow,
	}
	applyCondition(&out, d.Weather)
	return out
}

func applyCondition(r *models.Reading, conds []owmCondition) {
	if len(conds) == 0 {
		return
	}
	r.ID = conds[0].ID
	r.Main = conds[0].Main
	r.Description = conds[0].Description
	r.Icon = conds[0].Icon
}

func mapGeo(g geoResponse) models.GeoLocation {
	return models.GeoLocation{
		Name:    g.Name,
		Country: g.Country,
		State:   g.State,
		Lat:     g.Lat,
		Lon:     g.Lon,
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues a minimal geocoding lookup. Used at startup and by the health check.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	u, err := c.buildURL(c.geocodingURL+"/direct", url.Values{"q": {"London"}, "limit": {"1"}})
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
