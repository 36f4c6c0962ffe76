// Package server assembles the relay: configuration, hub and the WebSocket
// upgrader that feeds new connections into the hub.
package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/presencechat/internal/sanitize"
)

// Server bundles the hub with the HTTP-facing pieces that accept connections.
type Server struct {
	cfg      Config
	hub      *Hub
	origins  originPolicy
	upgrader websocket.Upgrader
}

// New creates a Server. A nil cfg selects NewConfig defaults and a nil
// sanitizer selects sanitize.NewStrict.
func New(cfg *Config, auth Authenticator, sanitizer sanitize.Sanitizer) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := cfg.withDefaults()

	s := &Server{
		cfg:     c,
		hub:     NewHub(auth, sanitizer),
		origins: newOriginPolicy(c.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub returns the server's hub for shutdown coordination and inspection.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the effective configuration after defaults were applied.
func (s *Server) Config() Config {
	return s.cfg
}

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	return s.SetupRoutes()
}
