package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New builds the service's HTTP handler: the API, the connect callback, health and metrics.
func New(deps Deps, allowedOrigins []string) http.Handler {
	api := NewAPI(deps)
	logger := api.Logger.With("component", "http")

	router := NewMuxRouter()
	router.Use(Recovery(logger), Logging(logger), Metrics("/metrics", "/health"))

	// The callback goes first so /api/connect/{platform} does not match it.
	if deps.Callback != nil {
		router.Handler(deps.Callback)
	}
	router.Handler(api)
	router.Handle(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	router.Handle(http.MethodGet, "/metrics", promhttp.Handler())

	if len(allowedOrigins) == 0 {
		return router
	}
	return CORS(allowedOrigins)(router)
}
