// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and the session handle the router pushes to.
package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/event"
)

// Client is one websocket connection. It is the registry.Session handle for
// the user it registers as.
type Client struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	addr     string
	identity string // resolved by the authenticator, empty when anonymous
	log      *zap.Logger

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	stateMu sync.Mutex
	state   connState
	userID  string

	rateLimiter *rateLimiter
}

func newClient(conn *websocket.Conn, hub *Hub, addr, identity string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:          id,
		conn:        conn,
		hub:         hub,
		addr:        addr,
		identity:    identity,
		log:         hub.log.With(zap.String("conn", id), zap.String("remote", addr)),
		send:        make(chan []byte, cfg.SendBuffer),
		state:       stateConnecting,
		rateLimiter: newRateLimiter(cfg.RateLimit),
	}
}

// ID implements registry.Session.
func (c *Client) ID() string {
	return c.id
}

// Push implements registry.Session. It never blocks: a full buffer is
// reported as ErrSendBufferFull and the frame is dropped.
func (c *Client) Push(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// UserID returns the identity the connection registered as, if any.
func (c *Client) UserID() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.userID
}

// closeSend stops accepting pushes and lets the write pump drain and exit.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// closeTransport closes the socket, which ends the read pump and with it
// the connection's lifecycle.
func (c *Client) closeTransport() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Error closing connection", zap.Error(err))
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// logReadError logs why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("Frame exceeded maximum size", zap.Int64("max_bytes", c.hub.cfg.MaxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("Client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseMessageTooBig):
		c.log.Warn("Unexpected WebSocket close", zap.Error(err))
	default:
		c.log.Warn("WebSocket read error", zap.Error(err))
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("Rate limit exceeded; discarding frame",
			zap.Int("burst", c.hub.cfg.RateLimit.Burst),
			zap.Duration("interval", c.hub.cfg.RateLimit.RefillInterval))
		return false
	}
	return true
}

// processFrame decodes one inbound frame and dispatches it.
func (c *Client) processFrame(raw []byte) {
	env, err := event.Decode(raw)
	if err != nil {
		c.log.Debug("Dropping malformed frame", zap.Error(err))
		return
	}

	if env.Event == event.UserOnline {
		c.hub.goOnline(c, env)
		return
	}

	userID := c.UserID()
	if userID == "" {
		c.log.Debug("Dropping event from unregistered connection", zap.String("event", env.Event))
		return
	}
	c.hub.router.HandleInbound(userID, env)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.goOffline(c)
		c.closeSend()
		c.closeTransport()
		c.hub.detach(c)
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeTransport()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("Error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("Error writing close message", zap.Error(err))
		}
	}
	return false
}

// writeTextMessage writes a frame plus whatever is already queued behind
// it, one envelope per line.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Debug("Error creating writer", zap.Error(err))
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.log.Debug("Error writing message", zap.Error(err))
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		c.log.Debug("Error closing writer", zap.Error(err))
		return false
	}
	return true
}

// writeQueuedMessages appends the frames queued at call time.
func (c *Client) writeQueuedMessages(w io.Writer) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			return true
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.Debug("Error writing separator", zap.Error(err))
			return false
		}
		if _, err := w.Write(queued); err != nil {
			c.log.Debug("Error writing queued message", zap.Error(err))
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("Error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("Error writing ping message", zap.Error(err))
		return false
	}
	return true
}
