package dashboard

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-insight-service/internal/observability"
	"github.com/kjstillabower/weather-insight-service/internal/store"
)

// Sessions holds one Controller per user id, created on first use.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Controller

	weather  WeatherSource
	insights InsightSource
	repo     store.Repository
	logger   *zap.Logger
}

// NewSessions returns an empty registry whose controllers share the given gateways.
func NewSessions(weather WeatherSource, insights InsightSource, repo store.Repository, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		sessions: make(map[string]*Controller),
		weather:  weather,
		insights: insights,
		repo:     repo,
		logger:   logger,
	}
}

// Get returns the user's controller, creating it if needed. The second result is true
// when the controller was just created. Callers run Controller.EnsureLoaded before use.
func (s *Sessions) Get(userID string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.sessions[userID]; ok {
		return c, false
	}
	c := NewController(userID, s.weather, s.insights, s.repo, s.logger)
	s.sessions[userID] = c
	observability.DashboardSessions.Set(float64(len(s.sessions)))
	return c, true
}

// Drop resets and forgets the user's controller. Reports whether one existed.
func (s *Sessions) Drop(userID string) bool {
	s.mu.Lock()
	c, ok := s.sessions[userID]
	delete(s.sessions, userID)
	n := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return false
	}
	c.Reset()
	observability.DashboardSessions.Set(float64(n))
	return true
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
