package server

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/event"
	"github.com/Tyrowin/chatify/internal/registry"
)

// connState is where a connection is in its lifecycle. The only transitions
// are Connecting -> Registered -> Closed and Connecting -> Closed.
type connState int

const (
	stateConnecting connState = iota
	stateRegistered
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateRegistered:
		return "registered"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// resolveUserID picks the identity a user_online handshake registers as.
// An authenticated connection may only announce itself.
func (c *Client) resolveUserID(announced string) (string, bool) {
	switch {
	case c.identity == "":
		return announced, announced != ""
	case announced == "" || announced == c.identity:
		return c.identity, true
	default:
		return "", false
	}
}

// goOnline handles the user_online handshake: it registers c under the
// announced user, then announces the user online.
func (h *Hub) goOnline(c *Client, env event.Envelope) {
	var online event.Online
	if err := env.DecodeData(&online); err != nil && c.identity == "" {
		c.log.Debug("Dropping malformed handshake", zap.Error(err))
		return
	}

	userID, ok := c.resolveUserID(online.UserID)
	if !ok && c.identity == "" {
		c.log.Debug("Dropping handshake without user id")
		return
	}
	if !ok {
		c.log.Warn("Handshake identity does not match token",
			zap.String("announced", online.UserID), zap.String("identity", c.identity))
		return
	}

	c.stateMu.Lock()
	switch {
	case c.state == stateClosed:
		c.stateMu.Unlock()
		return
	case c.state == stateRegistered:
		current := c.userID
		c.stateMu.Unlock()
		c.log.Debug("Ignoring repeated handshake",
			zap.String("user", current), zap.String("announced", userID))
		return
	}
	prev := h.registry.Register(userID, c)
	c.state = stateRegistered
	c.userID = userID
	c.stateMu.Unlock()

	c.log.Info("User online", zap.String("user", userID), zap.Int("online", h.registry.Len()))

	if prev != nil {
		h.supersede(userID, prev)
	}

	h.presence.enqueue(userID, event.StatusOnline)
	h.router.AnnouncePresence(userID, event.StatusOnline)
}

// supersede handles the session a new registration replaced. It stays open
// unless the hub is configured to close it; either way it is no longer
// routable and its own close will not announce the user offline.
func (h *Hub) supersede(userID string, prev registry.Session) {
	h.log.Info("Session superseded",
		zap.String("user", userID),
		zap.String("session", prev.ID()),
		zap.Bool("closing", h.cfg.CloseSuperseded))

	if !h.cfg.CloseSuperseded {
		return
	}
	if old, ok := prev.(*Client); ok {
		old.closeTransport()
	}
}

// goOffline runs once the transport reports the connection gone. The user
// is announced offline only if this connection was still the registered one.
func (h *Hub) goOffline(c *Client) {
	c.stateMu.Lock()
	prevState, userID := c.state, c.userID
	c.state = stateClosed
	c.stateMu.Unlock()

	if prevState != stateRegistered {
		return
	}

	if !h.registry.Deregister(userID, c) {
		c.log.Debug("Superseded session closed; user stays online", zap.String("user", userID))
		return
	}

	c.log.Info("User offline", zap.String("user", userID), zap.Int("online", h.registry.Len()))

	h.presence.enqueue(userID, event.StatusOffline)
	h.router.AnnouncePresence(userID, event.StatusOffline)
}
