package httpapi

import (
	"os"
	"strings"

	"github.com/gorilla/mux"
)

// NewRouter wires the admin HTTP surface exactly as the teacher's
// cmd/main.go does: plain routes for health and the /v1 read views, a
// subrouter for /v1 carrying the opt-in security middlewares plus the
// unconditional audit log, and an optional Prometheus endpoint gated on
// PROM_EXPORTER_ENABLED.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(AdminIPAllowlistMiddleware)
	v1.Use(AdminAuthMiddleware)
	v1.Use(AdminRateLimitMiddleware)
	v1.Use(AdminAuditMiddleware(h.store, h.sessions))
	v1.HandleFunc("/rooms", h.ListRooms).Methods("GET")
	v1.HandleFunc("/auctions", h.ListAuctions).Methods("GET")
	v1.HandleFunc("/metrics/overview", h.MetricsOverview).Methods("GET")

	if enabled(os.Getenv("PROM_EXPORTER_ENABLED")) {
		r.HandleFunc("/metrics", h.PrometheusHandler()).Methods("GET")
	}
	return r
}

func enabled(v string) bool {
	v = strings.TrimSpace(v)
	return v == "true" || v == "1" || v == "TRUE"
}
