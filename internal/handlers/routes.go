package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes wires the admin surface, health and metrics endpoints,
// and the catch-all gateway handler. The gateway route must come last:
// every other path may have been registered as a dynamic endpoint.
func RegisterRoutes(r *mux.Router, gh *GatewayHandler, ah *AdminHandler, metricsHandler http.Handler) {
	r.HandleFunc("/healthz", HandleHealth).Methods("GET")
	r.Handle("/metrics", metricsHandler).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/endpoints", ah.RegisterEndpoint).Methods("POST")
	admin.HandleFunc("/endpoints/{id}", ah.DeactivateEndpoint).Methods("DELETE")
	admin.HandleFunc("/endpoints/{id}/stats", ah.EndpointStats).Methods("GET")
	admin.HandleFunc("/endpoints/{id}/insights", ah.EndpointInsights).Methods("GET")
	admin.HandleFunc("/endpoints/{id}/docs", ah.EndpointDocs).Methods("GET")
	admin.HandleFunc("/cache/invalidate", ah.InvalidateCache).Methods("POST")

	r.PathPrefix("/").Handler(gh)
}
