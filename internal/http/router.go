package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/observability"
)

// RouterConfig carries the settings NewRouter needs beyond the handler.
type RouterConfig struct {
	RequestTimeout time.Duration
	TestingMode    bool
}

// NewRouter registers every route. Everything under /api/v1 is rate limited,
// counted for health and bounded by the request timeout.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(RateLimitMiddleware(h.rateLimiter))
	api.Use(TrafficMiddleware)
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}

	user := func(f http.HandlerFunc) http.Handler { return RequireUser(f) }

	weather := api.PathPrefix("/weather").Subrouter()
	weather.Handle("/current", user(h.GetCurrentWeather)).Methods("GET")
	weather.Handle("/forecast", user(h.GetForecast)).Methods("GET")
	weather.Handle("/locations", user(h.ListLocations)).Methods("GET")
	weather.Handle("/locations", user(h.CreateLocation)).Methods("POST")
	weather.Handle("/locations/{id:[0-9]+}", user(h.GetLocation)).Methods("GET")
	weather.Handle("/locations/{id:[0-9]+}", user(h.UpdateLocation)).Methods("PUT")
	weather.Handle("/locations/{id:[0-9]+}", user(h.DeleteLocation)).Methods("DELETE")
	weather.Handle("/locations/{id:[0-9]+}/set-default", user(h.SetDefaultLocation)).Methods("POST")

	det := api.PathPrefix("/detection").Subrouter()
	det.Handle("/detect", user(h.Detect)).Methods("POST")
	det.Handle("/history", user(h.DetectionHistory)).Methods("GET")
	det.Handle("/history/{id}", user(h.GetDetection)).Methods("GET")
	det.Handle("/history/{id}", user(h.DeleteDetection)).Methods("DELETE")
	det.Handle("/statistics", user(h.DetectionStatistics)).Methods("GET")
	det.HandleFunc("/diseases", h.ListDiseases).Methods("GET")
	det.HandleFunc("/diseases/{id:[0-9]+}", h.GetDisease).Methods("GET")
	det.HandleFunc("/model", h.GetModelInfo).Methods("GET")

	if cfg.TestingMode {
		router.HandleFunc("/test", h.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods("POST")
		logger.Info("testing mode enabled: /test endpoints registered")
	}
	return router
}
