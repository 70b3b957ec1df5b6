// Package insight is the remote insight gateway: it prompts a text generator about a weather
// snapshot and parses a JSON fragment out of the reply. Every call yields a usable answer; when the
// generator fails or replies with something unparseable, the fixed default is returned and tagged
// as a fallback so callers can tell it apart from a genuine insight.
package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-insight-service/internal/models"
	"github.com/kjstillabower/weather-insight-service/internal/observability"
)

const (
	kindInsight    = "insight"
	kindActivities = "activities"
)

var (
	ErrUnconfigured = errors.New("insight generator not configured")
	ErrNoJSON       = errors.New("no JSON fragment in response")
	ErrInvalidJSON  = errors.New("invalid JSON fragment")
	ErrEmptyInsight = errors.New("empty insight text")
)

// FallbackInsight and FallbackSuggestions are returned when no genuine insight is available.
const FallbackInsight = "Weather analysis unavailable at the moment."

var (
	FallbackSuggestions = []string{
		"Check the current conditions before heading out",
		"Dress appropriately for the temperature",
		"Stay hydrated",
	}
	FallbackActivities = []string{"Check weather", "Stay flexible", "Plan ahead"}
)

// Result is the outcome of WeatherInsight. When Fallback is true, Reason says why.
type Result struct {
	Insight     string
	Suggestions []string
	Fallback    bool
	Reason      error
}

// ActivityResult is the outcome of ActivityRecommendations.
type ActivityResult struct {
	Activities []string
	Fallback   bool
	Reason     error
}

// Generator builds prompts, calls the TextGenerator and parses replies.
type Generator struct {
	text   TextGenerator
	logger *zap.Logger
}

// New returns a Generator. A nil text generator is allowed: every call then falls back.
func New(text TextGenerator, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{text: text, logger: logger}
}

// Configured reports whether a real text generator is attached.
func (g *Generator) Configured() bool {
	return g.text != nil
}

// WeatherInsight asks for a short description of the weather at location plus practical suggestions.
func (g *Generator) WeatherInsight(ctx context.Context, snap models.WeatherSnapshot, location string) Result {
	reply, err := g.generate(ctx, kindInsight, BuildInsightPrompt(snap, location))
	if err != nil {
		return insightFallback(err)
	}
	text, suggestions, err := ParseInsight(reply)
	if err != nil {
		observability.InsightGenerationsTotal.WithLabelValues(kindInsight, "parse_error").Inc()
		g.logger.Debug("insight reply not parseable", zap.Error(err), zap.Int("reply_len", len(reply)))
		return insightFallback(err)
	}
	observability.InsightGenerationsTotal.WithLabelValues(kindInsight, "success").Inc()
	return Result{Insight: text, Suggestions: suggestions}
}

// ActivityRecommendations asks for a handful of indoor and outdoor activities suited to the weather.
func (g *Generator) ActivityRecommendations(ctx context.Context, snap models.WeatherSnapshot, location string) ActivityResult {
	reply, err := g.generate(ctx, kindActivities, BuildActivitiesPrompt(snap, location))
	if err != nil {
		return activitiesFallback(err)
	}
	activities, err := ParseActivities(reply)
	if err != nil {
		observability.InsightGenerationsTotal.WithLabelValues(kindActivities, "parse_error").Inc()
		g.logger.Debug("activities reply not parseable", zap.Error(err), zap.Int("reply_len", len(reply)))
		return activitiesFallback(err)
	}
	observability.InsightGenerationsTotal.WithLabelValues(kindActivities, "success").Inc()
	return ActivityResult{Activities: activities}
}

func (g *Generator) generate(ctx context.Context, kind, prompt string) (string, error) {
	if g.text == nil {
		return "", ErrUnconfigured
	}
	start := time.Now()
	reply, err := g.text.Generate(ctx, prompt)
	observability.InsightGenerationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.InsightGenerationsTotal.WithLabelValues(kind, "error").Inc()
		g.logger.Warn("insight generation failed", zap.String("kind", kind), zap.Error(err))
		return "", fmt.Errorf("generate %s: %w", kind, err)
	}
	return reply, nil
}

func insightFallback(reason error) Result {
	observability.InsightFallbacksTotal.WithLabelValues(kindInsight, reasonLabel(reason)).Inc()
	return Result{
		Insight:     FallbackInsight,
		Suggestions: append([]string(nil), FallbackSuggestions...),
		Fallback:    true,
		Reason:      reason,
	}
}

func activitiesFallback(reason error) ActivityResult {
	observability.InsightFallbacksTotal.WithLabelValues(kindActivities, reasonLabel(reason)).Inc()
	return ActivityResult{
		Activities: append([]string(nil), FallbackActivities...),
		Fallback:   true,
		Reason:     reason,
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnconfigured):
		return "unconfigured"
	case errors.Is(err, ErrNoJSON), errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrEmptyInsight):
		return "parse_error"
	default:
		return "generator_error"
	}
}

// ParseInsight extracts the outermost {...} fragment and decodes {"insight": string, "suggestions": [string]}.
// The insight text must be non-empty; blank suggestions are dropped.
func ParseInsight(reply string) (string, []string, error) {
	fragment, err := extract(reply, "{", "}")
	if err != nil {
		return "", nil, err
	}
	var payload struct {
		Insight     *string  `json:"insight"`
		Suggestions []string `json:"suggestions"`
	}
	if err := strictDecode(fragment, &payload); err != nil {
		return "", nil, err
	}
	if payload.Insight == nil || strings.TrimSpace(*payload.Insight) == "" {
		return "", nil, ErrEmptyInsight
	}
	return strings.TrimSpace(*payload.Insight), compact(payload.Suggestions), nil
}

// ParseActivities extracts the outermost [...] fragment and decodes it as a list of strings.
// An empty list is treated as unparseable.
func ParseActivities(reply string) ([]string, error) {
	fragment, err := extract(reply, "[", "]")
	if err != nil {
		return nil, err
	}
	var activities []string
	if err := strictDecode(fragment, &activities); err != nil {
		return nil, err
	}
	activities = compact(activities)
	if len(activities) == 0 {
		return nil, fmt.Errorf("%w: no activities", ErrInvalidJSON)
	}
	return activities, nil
}

func extract(reply, open, close string) (string, error) {
	start := strings.Index(reply, open)
	end := strings.LastIndex(reply, close)
	if start == -1 || end == -1 || end < start {
		return "", ErrNoJSON
	}
	return reply[start : end+1], nil
}

func strictDecode(fragment string, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(fragment)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
