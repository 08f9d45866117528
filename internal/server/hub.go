// Package server coordinates websocket connections for the realtime layer:
// it upgrades requests, runs each connection's pumps and lifecycle, and
// shuts them all down together.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/auth"
	"github.com/Tyrowin/chatify/internal/config"
	"github.com/Tyrowin/chatify/internal/logging"
	"github.com/Tyrowin/chatify/internal/presence"
	"github.com/Tyrowin/chatify/internal/registry"
	"github.com/Tyrowin/chatify/internal/router"
)

// Options wires a Hub to the rest of the process. Registry and Router are
// created when nil; Presence defaults to presence.Nop.
type Options struct {
	Config        config.Config
	Registry      *registry.Registry
	Router        *router.Router
	Presence      presence.Mirror
	Authenticator auth.Authenticator
	Log           *zap.Logger
}

// Hub owns every live websocket connection. Routing goes through the
// registry and router; the hub only tracks connections so it can close them.
type Hub struct {
	cfg      config.Config
	registry *registry.Registry
	router   *router.Router
	presence *presenceQueue
	auth     auth.Authenticator
	log      *zap.Logger

	upgrader websocket.Upgrader

	mutex   sync.RWMutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates a Hub ready to accept connections.
func NewHub(opts Options) *Hub {
	log := logging.OrNop(opts.Log).Named("hub")
	cfg := config.Sanitize(opts.Config)

	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	rt := opts.Router
	if rt == nil {
		rt = router.New(reg, opts.Log)
	}
	mirror := opts.Presence
	if mirror == nil {
		mirror = presence.Nop{}
	}

	h := &Hub{
		cfg:      cfg,
		registry: reg,
		router:   rt,
		presence: newPresenceQueue(mirror, log),
		auth:     opts.Authenticator,
		log:      log,
		clients:  make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginPolicy(cfg.AllowedOrigins, log).checkOrigin,
	}
	return h
}

// Attach takes ownership of an upgraded connection and starts its pumps.
// identity is the authenticated user, or empty. It returns nil when the hub
// is shutting down, in which case conn has been closed.
func (h *Hub) Attach(conn *websocket.Conn, addr, identity string) *Client {
	client := newClient(conn, h, addr, identity)

	h.mutex.Lock()
	if h.closing {
		h.mutex.Unlock()
		client.closeTransport()
		return nil
	}
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.wg.Add(2)
	h.mutex.Unlock()

	client.log.Info("Client connected", zap.Int("connections", count))

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return client
}

func (h *Hub) detach(c *Client) {
	h.mutex.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mutex.Unlock()

	c.log.Info("Client disconnected", zap.Int("connections", count))
}

// ConnectionCount returns the number of attached connections, registered or not.
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// OnlineUsers returns the registered user ids in sorted order.
func (h *Hub) OnlineUsers() []string {
	return h.registry.SnapshotKeys()
}

// Shutdown stops accepting connections, closes the open ones, and waits for
// their goroutines. It returns context.DeadlineExceeded if they have not all
// finished within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")

	h.mutex.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.closeTransport()
	}
	h.log.Info("Closed client connections", zap.Int("count", len(clients)))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	deadline := time.Now().Add(timeout)
	select {
	case <-done:
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}

	if !h.presence.close(time.Until(deadline)) {
		h.log.Warn("Presence mirror did not drain before shutdown timeout")
		return context.DeadlineExceeded
	}
	h.log.Info("Hub shutdown completed")
	return nil
}
