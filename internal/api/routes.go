package api

import "github.com/gorilla/mux"

// SetupRoutes registers all HTTP endpoints on the router.
func SetupRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/search", h.Search).Methods("POST")
	r.HandleFunc("/tasks", h.ListTasks).Methods("GET")
	r.HandleFunc("/tasks/{id}/stop", h.StopTask).Methods("POST")
	r.HandleFunc("/api/tickets", h.ListTickets).Methods("GET")
	r.HandleFunc("/watches", h.CreateWatch).Methods("POST")
	r.HandleFunc("/watches/{id}/stop", h.StopWatch).Methods("POST")
	r.HandleFunc("/stream", h.Stream).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}
