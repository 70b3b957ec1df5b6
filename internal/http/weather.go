package http

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-insight-service/internal/models"
	"github.com/kjstillabower/weather-insight-service/internal/validation"
)

const (
	queryMinLen = 1
	queryMaxLen = 100
)

// GetWeather handles GET /api/weather?lat=&lon=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	snap, err := h.weather.GetWeather(r.Context(), lat, lon)
	recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, snap)
}

// SearchCities handles GET /api/geocode?q=.
func (h *Handler) SearchCities(w http.ResponseWriter, r *http.Request) {
	query, err := validation.ValidateQuery(r.URL.Query().Get("q"), queryMinLen, queryMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	results, err := h.weather.SearchCities(r.Context(), query)
	recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []models.GeoLocation{}
	}
	writeSuccess(w, http.StatusOK, results)
}

// ReverseGeocode handles GET /api/geocode/reverse?lat=&lon=.
func (h *Handler) ReverseGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	loc, err := h.weather.ReverseGeocode(r.Context(), lat, lon)
	recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, loc)
}

type insightRequest struct {
	WeatherData *models.WeatherSnapshot `json:"weatherData" validate:"required"`
	Location    string                  `json:"location" validate:"required"`
	LocationID  string                  `json:"locationId" validate:"required"`
	UserID      string                  `json:"userId" validate:"required"`
}

// PostInsight handles POST /api/weather/insight. All four body fields are required.
// The generated (or fallback) insight is persisted and returned with 201.
func (h *Handler) PostInsight(w http.ResponseWriter, r *http.Request) {
	var req insightRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Missing required fields")
		return
	}
	req.Location = strings.TrimSpace(req.Location)
	if err := validation.Struct(req); err != nil {
		loggerFrom(r.Context()).Debug("insight request rejected", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Missing required fields")
		return
	}

	res := h.insights.WeatherInsight(r.Context(), *req.WeatherData, req.Location)
	if res.Fallback {
		loggerFrom(r.Context()).Info("insight fallback used", zap.Error(res.Reason))
	}
	saved, err := h.repo.CreateInsight(r.Context(), models.Insight{
		UserID:      req.UserID,
		LocationID:  req.LocationID,
		Insight:     res.Insight,
		Suggestions: res.Suggestions,
		Fallback:    res.Fallback,
	})
	if err != nil {
		writeStoreError(w, r, err, "", "Failed to generate insight")
		return
	}
	writeSuccess(w, http.StatusCreated, saved)
}

type activitiesRequest struct {
	WeatherData *models.WeatherSnapshot `json:"weatherData" validate:"required"`
	Location    string                  `json:"location" validate:"required"`
}

// PostActivities handles POST /api/weather/activities. Nothing is persisted.
func (h *Handler) PostActivities(w http.ResponseWriter, r *http.Request) {
	var req activitiesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Missing required fields")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	res := h.insights.ActivityRecommendations(r.Context(), *req.WeatherData, req.Location)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"data":     res.Activities,
		"fallback": res.Fallback,
	})
}

// GetInsights handles GET /api/insights. With ?locationId= it returns the latest insight for
// that location (404 if none), otherwise every insight of the user, newest first.
func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())
	if locationID := r.URL.Query().Get("locationId"); locationID != "" {
		ins, err := h.repo.LatestInsightByLocation(r.Context(), user, locationID)
		if err != nil {
			writeStoreError(w, r, err, "Insight not found", "Failed to fetch insights")
			return
		}
		writeSuccess(w, http.StatusOK, ins)
		return
	}
	all, err := h.repo.ListInsightsByUser(r.Context(), user)
	if err != nil {
		writeStoreError(w, r, err, "", "Failed to fetch insights")
		return
	}
	writeSuccess(w, http.StatusOK, all)
}

// DeleteInsight handles DELETE /api/insights/{id}.
func (h *Handler) DeleteInsight(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteInsight(r.Context(), userID(r.Context()), pathID(r)); err != nil {
		writeStoreError(w, r, err, "Insight not found", "Failed to delete insight")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
