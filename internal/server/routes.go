// Package server wires HTTP handlers into a chi router for the relay.
package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes configures and returns the router with all relay routes:
// health check, WebSocket endpoint, roster snapshot and test page.
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.Get("/ws", s.WebSocketHandler)
	r.Get("/roster", s.RosterHandler)
	r.Get("/test", TestPageHandler)
	return r
}
