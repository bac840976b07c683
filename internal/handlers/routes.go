package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the health, version and API routes on r.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/size-classes", h.GetSizeClasses).Methods(http.MethodGet)
	api.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", h.CreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.CancelJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/events", h.JobEvents).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/download", h.DownloadJob).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/history", h.GetHistory).Methods(http.MethodGet)
}
