package api

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"broadphase/internal/config"
)

// Server is the HTTP API server with WebSocket support.
type Server struct {
	world       WorldInterface
	router      *chi.Mux
	wsHub       *WebSocketHub
	limits      *ClientLimiter
	httpServer  *http.Server
}

// NewServer creates the API server.
//
// Background workers do NOT start until Start() is called, so tests can
// build a server and use Router() without any goroutines running.
func NewServer(world WorldInterface, cfg config.ServerConfig) *Server {
	limits := NewClientLimiter(DefaultRateLimitConfig)
	s := &Server{
		world:  world,
		wsHub:  NewWebSocketHub(limits),
		limits: limits,
	}

	s.router = NewRouter(RouterConfig{
		World:       world,
		RateLimiter: limits,
		CORSOrigins: cfg.CORSOrigins,
	})

	// WebSocket routes need the hub, so they live outside NewRouter
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start starts background workers and serves HTTP until Shutdown.
// It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.world, BroadcastInterval)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("🌐 API server listening on %s", ln.Addr())

	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown stops accepting requests, closes WebSocket clients and stops
// background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.wsHub.Stop()
	s.limits.Stop()
	return err
}
