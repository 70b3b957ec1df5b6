package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/weather-insight-service/internal/models"
	"github.com/kjstillabower/weather-insight-service/internal/store"
	"github.com/kjstillabower/weather-insight-service/internal/validation"
)

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

type createLocationRequest struct {
	Name       string   `json:"name" validate:"required"`
	Country    string   `json:"country"`
	Lat        *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon        *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
	IsFavorite bool     `json:"is_favorite"`
}

// ListLocations handles GET /api/locations. ?favorites=true limits the list to favorites.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())
	var (
		locs []models.SavedLocation
		err  error
	)
	if fav, _ := strconv.ParseBool(r.URL.Query().Get("favorites")); fav {
		locs, err = h.repo.ListFavorites(r.Context(), user)
	} else {
		locs, err = h.repo.ListLocations(r.Context(), user)
	}
	if err != nil {
		writeStoreError(w, r, err, "", "Failed to fetch locations")
		return
	}
	writeSuccess(w, http.StatusOK, locs)
}

// CreateLocation handles POST /api/locations.
func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
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

	now := time.Now().UTC()
	loc, err := h.repo.CreateLocation(r.Context(), models.SavedLocation{
		UserID:     userID(r.Context()),
		Name:       name,
		Country:    req.Country,
		Lat:        *req.Lat,
		Lon:        *req.Lon,
		IsFavorite: req.IsFavorite,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		writeStoreError(w, r, err, "", "Failed to create location")
		return
	}
	writeSuccess(w, http.StatusCreated, loc)
}

// GetLocation handles GET /api/locations/{id}.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.repo.GetLocation(r.Context(), userID(r.Context()), pathID(r))
	if err != nil {
		writeStoreError(w, r, err, "Location not found", "Failed to fetch location")
		return
	}
	writeSuccess(w, http.StatusOK, loc)
}

type updateLocationRequest struct {
	Name       *string  `json:"name"`
	Country    *string  `json:"country"`
	Lat        *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon        *float64 `json:"lon" validate:"omitempty,gte=-180,lte=180"`
	IsFavorite *bool    `json:"is_favorite"`
}

// UpdateLocation handles PUT /api/locations/{id}. Absent fields are left unchanged.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req updateLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Name != nil {
		name, err := validation.ValidateName(*req.Name)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		req.Name = &name
	}

	now := time.Now().UTC()
	loc, err := h.repo.UpdateLocation(r.Context(), userID(r.Context()), pathID(r), models.LocationPatch{
		Name:       req.Name,
		Country:    req.Country,
		Lat:        req.Lat,
		Lon:        req.Lon,
		IsFavorite: req.IsFavorite,
		UpdatedAt:  &now,
	})
	if err != nil {
		writeStoreError(w, r, err, "Location not found", "Failed to update location")
		return
	}
	writeSuccess(w, http.StatusOK, loc)
}

// DeleteLocation handles DELETE /api/locations/{id}.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteLocation(r.Context(), userID(r.Context()), pathID(r)); err != nil {
		writeStoreError(w, r, err, "Location not found", "Failed to delete location")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type createHistoryRequest struct {
	LocationID  string     `json:"location_id" validate:"required"`
	Temperature *float64   `json:"temperature" validate:"required"`
	Condition   string     `json:"condition" validate:"required,max=100"`
	Timestamp   *time.Time `json:"timestamp"`
}

// ListHistory handles GET /api/history. ?locationId= selects one location (latest 30),
// otherwise the user's full history (latest 100).
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())
	var (
		recs []models.HistoryRecord
		err  error
	)
	if locationID := r.URL.Query().Get("locationId"); locationID != "" {
		recs, err = h.repo.ListHistoryByLocation(r.Context(), user, locationID, store.HistoryByLocationLimit)
	} else {
		recs, err = h.repo.ListHistoryByUser(r.Context(), user, store.HistoryByUserLimit)
	}
	if err != nil {
		writeStoreError(w, r, err, "", "Failed to fetch history")
		return
	}
	writeSuccess(w, http.StatusOK, recs)
}

// CreateHistory handles POST /api/history.
func (h *Handler) CreateHistory(w http.ResponseWriter, r *http.Request) {
	var req createHistoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	now := time.Now().UTC()
	ts := now
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	rec, err := h.repo.CreateHistory(r.Context(), models.HistoryRecord{
		UserID:      userID(r.Context()),
		LocationID:  req.LocationID,
		Temperature: *req.Temperature,
		Condition:   req.Condition,
		Timestamp:   ts,
		CreatedAt:   now,
	})
	if err != nil {
		writeStoreError(w, r, err, "", "Failed to create history record")
		return
	}
	writeSuccess(w, http.StatusCreated, rec)
}

// DeleteHistory handles DELETE /api/history/{id}.
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteHistory(r.Context(), userID(r.Context()), pathID(r)); err != nil {
		writeStoreError(w, r, err, "History record not found", "Failed to delete history record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
