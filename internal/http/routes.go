package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-insight-service/internal/observability"
)

// NewRouter wires the middleware chain and every route. A nil limiter disables rate limiting;
// a zero requestTimeout leaves request contexts without a deadline.
func NewRouter(h *Handler, limiter *rate.Limiter, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	if requestTimeout > 0 {
		api.Use(TimeoutMiddleware(requestTimeout))
	}

	// Gateway routes do not need a user.
	api.HandleFunc("/weather", h.GetWeather).Methods("GET")
	api.HandleFunc("/geocode", h.SearchCities).Methods("GET")
	api.HandleFunc("/geocode/reverse", h.ReverseGeocode).Methods("GET")
	api.HandleFunc("/weather/activities", h.PostActivities).Methods("POST")
	// userId travels in the body here, so the header is not required.
	api.HandleFunc("/weather/insight", h.PostInsight).Methods("POST")

	user := api.NewRoute().Subrouter()
	user.Use(RequireUser)
	user.HandleFunc("/insights", h.GetInsights).Methods("GET")
	user.HandleFunc("/insights/{id}", h.DeleteInsight).Methods("DELETE")

	user.HandleFunc("/locations", h.ListLocations).Methods("GET")
	user.HandleFunc("/locations", h.CreateLocation).Methods("POST")
	user.HandleFunc("/locations/{id}", h.GetLocation).Methods("GET")
	user.HandleFunc("/locations/{id}", h.UpdateLocation).Methods("PUT")
	user.HandleFunc("/locations/{id}", h.DeleteLocation).Methods("DELETE")

	user.HandleFunc("/history", h.ListHistory).Methods("GET")
	user.HandleFunc("/history", h.CreateHistory).Methods("POST")
	user.HandleFunc("/history/{id}", h.DeleteHistory).Methods("DELETE")

	user.HandleFunc("/dashboard", h.GetDashboard).Methods("GET")
	user.HandleFunc("/dashboard/weather", h.PostDashboardWeather).Methods("POST")
	user.HandleFunc("/dashboard/locations", h.PostDashboardLocation).Methods("POST")
	user.HandleFunc("/dashboard/locations/{id}", h.DeleteDashboardLocation).Methods("DELETE")
	user.HandleFunc("/dashboard/locations/{id}/favorite", h.PostDashboardFavorite).Methods("POST")
	user.HandleFunc("/dashboard/locations/{id}/select", h.PostDashboardSelect).Methods("POST")
	user.HandleFunc("/dashboard/insight", h.PostDashboardInsight).Methods("POST")
	user.HandleFunc("/dashboard/reset", h.PostDashboardReset).Methods("POST")

	return router
}
