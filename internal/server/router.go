// Package server exposes the JSON API consumed by the dashboard: cauldron
// lists, level series, transport tickets, and drain intervals. Drains are
// recomputed from stored readings on every request; they are never persisted.
package server

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/witchbrew/cauldronwatch/internal/detect"
	"github.com/witchbrew/cauldronwatch/internal/storage"
)

// Server holds the API's dependencies
type Server struct {
	store     *storage.Storage
	detectCfg detect.Config
}

// New creates a Server backed by store, detecting drains with cfg.
func New(store *storage.Storage, cfg detect.Config) *Server {
	return &Server{store: store, detectCfg: cfg}
}

// Router builds the API route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/api/cauldrons", s.listCauldrons).Methods("GET")
	r.HandleFunc("/api/cauldrons/{id}/levels", s.getLevels).Methods("GET")
	r.HandleFunc("/api/cauldrons/{id}/drains", s.getDrains).Methods("GET")
	r.HandleFunc("/api/cauldrons/{id}/tickets", s.getTickets).Methods("GET")
	r.HandleFunc("/api/cauldrons/{id}/overlay", s.getOverlay).Methods("GET")

	return r
}

// Handler wraps the router with request logging.
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	return handlers.LoggingHandler(accessLog, s.Router())
}
