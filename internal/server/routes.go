package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/lfgrelay/internal/ratelimit"
)

// Routes configures the relay's router. The WebSocket endpoint has its own
// per-connection limiter; every other route shares the HTTP limiter.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	r.HandleFunc("/ws", s.WebSocketHandler)

	limited := r.NewRoute().Subrouter()
	limited.Use(ratelimit.Middleware(s.limiter, s.log))
	limited.HandleFunc("/", RootHandler).Methods(http.MethodGet)
	limited.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	limited.HandleFunc("/test", TestPageHandler).Methods(http.MethodGet)

	api := limited.PathPrefix("/api").Subrouter()
	api.Use(s.requireBearer)
	api.HandleFunc("/rooms/{game}/messages", s.GameMessagesHandler).Methods(http.MethodGet)
	api.HandleFunc("/groups/{groupId}/messages", s.GroupMessagesHandler).Methods(http.MethodGet)

	return r
}
