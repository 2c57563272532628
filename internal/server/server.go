// Package server assembles the transport around an injected chat coordinator.
package server

import (
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/giphy"
	"github.com/Tyrowin/roomchat/internal/metrics"
)

// Server binds the HTTP handlers, the connection hub and the chat engine.
// Nothing here is process-global: tests build as many servers as they need.
type Server struct {
	cfg         Config
	coordinator *chat.Coordinator
	searcher    giphy.Searcher
	hub         *Hub
	origins     originPolicy
	upgrader    websocket.Upgrader
	metrics     *metrics.Metrics
	log         *zap.Logger
}

// New creates a server. The hub is created but not started; call StartHub.
func New(cfg Config, coordinator *chat.Coordinator, searcher giphy.Searcher, m *metrics.Metrics, log *zap.Logger) *Server {
	cfg = sanitizeConfig(cfg)

	s := &Server{
		cfg:         cfg,
		coordinator: coordinator,
		searcher:    searcher,
		hub:         NewHub(m, log.Named("hub")),
		origins:     newOriginPolicy(cfg.AllowedOrigins, log.Named("origin")),
		metrics:     m,
		log:         log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Hub returns the connection hub for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartHub starts the hub loop in a separate goroutine.
// This should be called before starting the HTTP server.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.log.Info("Hub started and ready to manage WebSocket connections")
}
