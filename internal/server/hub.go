package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/lfgrelay/internal/chat"
	"github.com/Tyrowin/lfgrelay/internal/presence"
	"github.com/Tyrowin/lfgrelay/internal/voice"
)

// Hub is the connection lifecycle handler. It registers authenticated clients
// in the connection registry, dispatches their events to the chat manager and
// voice relay, and sweeps every room a client held when it goes away.
type Hub struct {
	cfg   Config
	log   zerolog.Logger
	conns *presence.Registry
	chat  *chat.Manager
	voice *voice.Relay

	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	clients    map[*Client]struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a hub backed by store for chat persistence.
func NewHub(cfg Config, store chat.Store, log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	conns := presence.NewRegistry()
	return &Hub{
		cfg:   cfg,
		log:   log.With().Str("module", "server.hub").Logger(),
		conns: conns,
		chat: chat.NewManager(store, chat.Config{
			HistoryLimit:     cfg.HistoryLimit,
			MaxContentLength: cfg.MaxContentLength,
		}, log),
		voice:      voice.NewRelay(conns, log),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry returns the connection registry.
func (h *Hub) Registry() *presence.Registry { return h.conns }

// Chat returns the chat room manager.
func (h *Hub) Chat() *chat.Manager { return h.chat }

// Voice returns the voice relay.
func (h *Hub) Voice() *voice.Relay { return h.voice }

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn().Msg("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = struct{}{}
			clientCount := len(h.clients)
			h.mutex.Unlock()
			first := h.conns.Add(client)
			client.log.Info().Int("clients", clientCount).Bool("first_for_user", first).Msg("client registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.cleanup(client)
		}
	}
}

// registerClient hands client to the run loop. It reports false once the hub
// is shutting down.
func (h *Hub) registerClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// unregisterClient hands client to the run loop for cleanup, or cleans up
// directly once the loop has stopped.
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		h.cleanup(client)
	}
}

// cleanup removes client from every room and from the registry. Calling it
// again for the same client does nothing.
func (h *Hub) cleanup(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	chatRooms := h.chat.Disconnect(client)
	voiceRooms := h.voice.Disconnect(client)
	last := h.conns.Remove(client)
	client.closeSend()

	client.log.Info().
		Int("clients", clientCount).
		Int("chat_rooms", chatRooms).
		Int("voice_rooms", voiceRooms).
		Bool("last_for_user", last).
		Msg("client unregistered")
}

func (h *Hub) shutdownClients() {
	h.log.Info().Msg("shutting down all client connections")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			client.log.Debug().Err(err).Msg("error closing client connection")
		}
	}

	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown stops the run loop, closes every connection and waits for the
// client goroutines to finish or the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
