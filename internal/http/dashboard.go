package http

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-insight-service/internal/dashboard"
	"github.com/kjstillabower/weather-insight-service/internal/state"
	"github.com/kjstillabower/weather-insight-service/internal/validation"
)

type dashboardView struct {
	state.State
	Phase string `json:"phase"`
}

// session returns the caller's controller once its saved locations have loaded. Requests
// racing a new session's first load wait for it; a load failure is left in the session's
// error field.
func (h *Handler) session(r *http.Request) *dashboard.Controller {
	c, created := h.sessions.Get(userID(r.Context()))
	if err := c.EnsureLoaded(r.Context()); err != nil && created {
		loggerFrom(r.Context()).Warn("load saved locations failed", zap.Error(err))
	}
	return c
}

func writeDashboard(w http.ResponseWriter, status int, c *dashboard.Controller) {
	st := c.Snapshot()
	writeSuccess(w, status, dashboardView{State: st, Phase: st.Phase().String()})
}

// GetDashboard handles GET /api/dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	writeDashboard(w, http.StatusOK, h.session(r))
}

type coordinatesRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

// PostDashboardWeather handles POST /api/dashboard/weather. Gateway failures are reported in
// the returned state, not as an HTTP error.
func (h *Handler) PostDashboardWeather(w http.ResponseWriter, r *http.Request) {
	var req coordinatesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	c := h.session(r)
	err := c.LoadWeather(r.Context(), *req.Lat, *req.Lon)
	recordOutcome(err)
	if err != nil {
		loggerFrom(r.Context()).Debug("dashboard weather failed", zap.Error(err))
	}
	writeDashboard(w, http.StatusOK, c)
}

type addLocationRequest struct {
	Name string   `json:"name" validate:"required"`
	Lat  *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon  *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

// PostDashboardLocation handles POST /api/dashboard/locations (optimistic add).
// Returns 201 whether or not the backend accepted it; an unsynced entry carries sync=unsynced.
func (h *Handler) PostDashboardLocation(w http.ResponseWriter, r *http.Request) {
	var req addLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	name, err := validation.ValidateName(req.Name)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	c := h.session(r)
	if _, err := c.AddLocation(r.Context(), name, *req.Lat, *req.Lon); err != nil {
		loggerFrom(r.Context()).Warn("location left unsynced", zap.Error(err))
	}
	writeDashboard(w, http.StatusCreated, c)
}

// DeleteDashboardLocation handles DELETE /api/dashboard/locations/{id} (optimistic remove).
func (h *Handler) DeleteDashboardLocation(w http.ResponseWriter, r *http.Request) {
	c := h.session(r)
	if err := c.RemoveLocation(r.Context(), pathID(r)); err != nil {
		loggerFrom(r.Context()).Warn("location remove rolled back", zap.Error(err))
	}
	writeDashboard(w, http.StatusOK, c)
}

// PostDashboardFavorite handles POST /api/dashboard/locations/{id}/favorite.
func (h *Handler) PostDashboardFavorite(w http.ResponseWriter, r *http.Request) {
	c := h.session(r)
	if err := c.ToggleFavorite(r.Context(), pathID(r)); err != nil {
		loggerFrom(r.Context()).Warn("favorite toggle rolled back", zap.Error(err))
	}
	writeDashboard(w, http.StatusOK, c)
}

// PostDashboardSelect handles POST /api/dashboard/locations/{id}/select.
func (h *Handler) PostDashboardSelect(w http.ResponseWriter, r *http.Request) {
	c := h.session(r)
	err := c.SelectLocation(r.Context(), pathID(r))
	if errors.Is(err, dashboard.ErrLocationNotFound) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Location not found")
		return
	}
	recordOutcome(err)
	if err != nil {
		loggerFrom(r.Context()).Debug("dashboard weather failed", zap.Error(err))
	}
	writeDashboard(w, http.StatusOK, c)
}

// PostDashboardInsight handles POST /api/dashboard/insight.
func (h *Handler) PostDashboardInsight(w http.ResponseWriter, r *http.Request) {
	c := h.session(r)
	_, err := c.GenerateInsight(r.Context())
	switch {
	case errors.Is(err, dashboard.ErrNoWeather), errors.Is(err, dashboard.ErrNoSelection):
		writeError(w, r, http.StatusConflict, "INVALID_STATE", err.Error())
		return
	case err != nil:
		loggerFrom(r.Context()).Warn("dashboard insight failed", zap.Error(err))
	}
	writeDashboard(w, http.StatusOK, c)
}

// PostDashboardReset handles POST /api/dashboard/reset. The session is dropped; the next
// request starts a fresh one.
func (h *Handler) PostDashboardReset(w http.ResponseWriter, r *http.Request) {
	h.sessions.Drop(userID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
