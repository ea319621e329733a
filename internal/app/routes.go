package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {
	h := deps.ViewHandler

	// Read
	r.HandleFunc("/api/sources", h.GetSources).Methods("GET")
	r.HandleFunc("/api/occurrences", h.GetOccurrences).Methods("GET")
	r.HandleFunc("/api/updates", h.GetUpdates).Methods("GET")

	// Events
	r.HandleFunc("/api/calendars/{calendarId}/events", h.CreateEvent).Methods("POST")
	r.HandleFunc("/api/events/{id}", h.UpdateEvent).Methods("PUT")
	r.HandleFunc("/api/events/{id}", h.DeleteEvent).Methods("DELETE")
	r.HandleFunc("/api/events/{id}/calendar", h.MoveEvent).Methods("PUT")

	// Recurring instances
	r.HandleFunc("/api/events/{id}/instances/{date}", h.CreateInstance).Methods("POST")
	r.HandleFunc("/api/events/{id}/instances/{date}/completion", h.SetInstanceCompletion).Methods("PUT")

	r.HandleFunc("/api/revalidate", h.Revalidate).Methods("POST")
}
