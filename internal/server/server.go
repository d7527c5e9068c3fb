package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/lfgrelay/internal/auth"
	"github.com/Tyrowin/lfgrelay/internal/chat"
	"github.com/Tyrowin/lfgrelay/internal/protocol"
	"github.com/Tyrowin/lfgrelay/internal/ratelimit"
)

// MessageStore is the persistence the relay needs: the chat manager's store
// plus paged history reads for the HTTP API.
type MessageStore interface {
	chat.Store
	FindMessagesBefore(ctx context.Context, roomType protocol.RoomType, roomKey string, before time.Time, limit int) ([]protocol.ChatMessage, error)
}

// Server wires the hub, authentication and HTTP routes together.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	hub      *Hub
	store    MessageStore
	auth     *auth.Manager
	limiter  ratelimit.Limiter
	upgrader websocket.Upgrader
	http     *http.Server
}

// New builds a server and starts its hub. A nil limiter keeps HTTP rate
// limiting in process.
func New(cfg *Config, store MessageStore, limiter ratelimit.Limiter, log zerolog.Logger) *Server {
	c := NewConfig().sanitize()
	if cfg != nil {
		c = cfg.sanitize()
	}
	log = log.With().Str("module", "server").Logger()
	if limiter == nil {
		limiter = ratelimit.NewLocal(c.HTTPRateLimit, time.Minute)
	}

	origins := newOriginPolicy(c.AllowedOrigins, log)
	s := &Server{
		cfg:     c,
		log:     log,
		hub:     NewHub(c, store, log),
		store:   store,
		auth:    auth.NewManager(auth.Config{Secret: c.JWTSecret, Issuer: c.JWTIssuer}),
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
	s.http = &http.Server{
		Addr:         c.Port,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start listens on the configured port and blocks until the server stops.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every WebSocket connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	httpErr := s.http.Shutdown(ctx)

	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	hubErr := s.hub.Shutdown(timeout)

	return errors.Join(httpErr, hubErr)
}
