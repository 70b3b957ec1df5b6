package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-insight-service/internal/client"
	"github.com/kjstillabower/weather-insight-service/internal/dashboard"
	"github.com/kjstillabower/weather-insight-service/internal/insight"
	"github.com/kjstillabower/weather-insight-service/internal/lifecycle"
	"github.com/kjstillabower/weather-insight-service/internal/observability"
	"github.com/kjstillabower/weather-insight-service/internal/service"
	"github.com/kjstillabower/weather-insight-service/internal/store"
	"github.com/kjstillabower/weather-insight-service/internal/traffic"
)

// maxBodyBytes caps JSON request bodies. A full snapshot with 48 hourly and 8 daily entries is ~20KB.
const maxBodyBytes = 1 << 20

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Deps are the collaborators a Handler serves from.
type Deps struct {
	Weather  *service.WeatherService
	Client   client.WeatherClient
	Insights *insight.Generator
	Repo     store.Repository
	Sessions *dashboard.Sessions
	Health   *HealthConfig
	Logger   *zap.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          *service.WeatherService
	client           client.WeatherClient
	insights         *insight.Generator
	repo             store.Repository
	sessions         *dashboard.Sessions
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:      d.Weather,
		client:       d.Client,
		insights:     d.Insights,
		repo:         d.Repo,
		sessions:     d.Sessions,
		healthConfig: d.Health,
		logger:       logger,
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := h.runChecks(r.Context())
	result := h.computeHealthStatus(checks)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"uptime":    lifecycle.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// runChecks probes each dependency. cache is reported only when a ping func is configured.
func (h *Handler) runChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string)
	checks["weatherApi"] = probe(h.client.ValidateAPIKey(ctx))
	if h.repo != nil {
		checks["database"] = probe(h.repo.Ping(ctx))
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = probe(h.healthConfig.CachePing())
	}
	return checks
}

func probe(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > dependency down > overloaded > degraded > healthy.
// A failing cache is reported in checks but never changes status; cache errors do not fail requests.
func (h *Handler) computeHealthStatus(checks map[string]string) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if checks["weatherApi"] == "unhealthy" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if checks["database"] == "unhealthy" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "database_unreachable"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if traffic.Overloaded(h.healthConfig.OverloadWindow, h.healthConfig.RateLimitRPS, h.healthConfig.OverloadThresholdPct) {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if traffic.Degraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSuccess writes the {"success": true, "data": ...} envelope.
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r.Context()),
		},
	})
}

// writeServiceError maps a weather gateway failure to a response. Unknown places are 404;
// everything else is 503 Service Unavailable. The underlying error is logged at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	loggerFrom(r.Context()).Debug("upstream error", zap.Error(err))
	if errors.Is(err, client.ErrLocationNotFound) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Location not found")
		return
	}
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
}

// writeStoreError maps a persistence failure: ErrNotFound is 404, anything else 500 with message.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg, failMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", notFoundMsg)
		return
	}
	loggerFrom(r.Context()).Warn("persistence error", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", failMsg)
}

// recordOutcome feeds the degraded-status window: upstream unavailability counts as an error,
// caller mistakes (bad input, unknown place) do not.
func recordOutcome(err error) {
	switch {
	case err == nil:
		traffic.RecordSuccess()
	case service.IsUpstreamUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		traffic.RecordError()
	}
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are allowed.
func decodeJSON(r *http.Request, v interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func correlationID(ctx context.Context) string {
	if v, ok := ctx.Value("correlation_id").(string); ok {
		return v
	}
	return ""
}

func loggerFrom(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value("logger").(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
