// Package router turns realtime events into pushes on the right sessions:
// unicast to one registered user, or broadcast to all of them.
//
// Routing is fire-and-forget. A target that is not registered is a silent
// drop, a push that fails is logged, and nothing is ever reported back to
// the caller. Removing dead sessions is left to the connection lifecycle.
package router

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/event"
	"github.com/Tyrowin/chatify/internal/logging"
	"github.com/Tyrowin/chatify/internal/registry"
	"github.com/Tyrowin/chatify/internal/store"
)

// Directory is the read side of the session registry.
type Directory interface {
	Lookup(userID string) (registry.Session, bool)
	SnapshotKeys() []string
}

// Router dispatches events against a Directory.
type Router struct {
	dir Directory
	log *zap.Logger
}

// New creates a Router reading sessions from dir.
func New(dir Directory, log *zap.Logger) *Router {
	return &Router{dir: dir, log: logging.OrNop(log).Named("router")}
}

// HandleInbound routes one client event. senderID is the identity the
// sending connection registered with; payloads claiming another sender are
// dropped.
func (r *Router) HandleInbound(senderID string, env event.Envelope) {
	switch env.Event {
	case event.SendMessage:
		r.handleSendMessage(senderID, env)
	case event.UserTyping:
		r.handleTyping(senderID, env, event.KindTypingStart)
	case event.UserStoppedTyping:
		r.handleTyping(senderID, env, event.KindTypingStop)
	default:
		r.log.Debug("Dropping unroutable event", zap.String("event", env.Event), zap.String("sender", senderID))
	}
}

func (r *Router) handleSendMessage(senderID string, env event.Envelope) {
	var chat event.Chat
	if err := env.DecodeData(&chat); err != nil {
		r.log.Debug("Dropping malformed event", zap.String("sender", senderID), zap.Error(err))
		return
	}
	if !r.validParties(senderID, env.Event, chat.SenderID, chat.ReceiverID) {
		return
	}

	frame, err := event.EncodeRaw(event.ReceiveMessage, env.Data)
	if err != nil {
		r.log.Debug("Dropping malformed event", zap.String("sender", senderID), zap.Error(err))
		return
	}
	r.Route(event.Outbound{Kind: event.KindMessageDelivery, Target: chat.ReceiverID, Payload: frame})
}

func (r *Router) handleTyping(senderID string, env event.Envelope, kind event.Kind) {
	var typing event.Typing
	if err := env.DecodeData(&typing); err != nil {
		r.log.Debug("Dropping malformed event", zap.String("sender", senderID), zap.Error(err))
		return
	}
	if !r.validParties(senderID, env.Event, typing.SenderID, typing.ReceiverID) {
		return
	}

	frame, err := event.Encode(env.Event, event.TypingNotice{SenderID: typing.SenderID})
	if err != nil {
		r.log.Warn("Failed to encode typing notice", zap.Error(err))
		return
	}
	r.Route(event.Outbound{Kind: kind, Target: typing.ReceiverID, Payload: frame})
}

func (r *Router) validParties(senderID, name, claimed, receiver string) bool {
	if claimed == "" || receiver == "" {
		r.log.Debug("Dropping event with missing parties",
			zap.String("event", name), zap.String("sender", senderID))
		return false
	}
	if senderID != "" && claimed != senderID {
		r.log.Warn("Dropping event with spoofed sender",
			zap.String("event", name), zap.String("sender", senderID), zap.String("claimed", claimed))
		return false
	}
	return true
}

// AnnouncePresence broadcasts a user_status_changed event for userID to
// every session registered when the broadcast starts.
func (r *Router) AnnouncePresence(userID string, status event.Status) {
	frame, err := event.Encode(event.UserStatusChanged, event.StatusChanged{UserID: userID, Status: status})
	if err != nil {
		r.log.Warn("Failed to encode presence change", zap.Error(err))
		return
	}
	r.Route(event.Outbound{Kind: event.KindPresenceChange, Payload: frame})
}

// DeliverPersistedMessage pushes a new_message event with an already
// stored message to its receiver, if the receiver is online.
func (r *Router) DeliverPersistedMessage(msg store.Message) {
	if msg.ReceiverID == "" {
		r.log.Debug("Dropping persisted message without receiver", zap.String("message_id", msg.ID))
		return
	}
	frame, err := event.Encode(event.NewMessage, msg)
	if err != nil {
		r.log.Warn("Failed to encode persisted message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	r.Route(event.Outbound{Kind: event.KindMessageDelivery, Target: msg.ReceiverID, Payload: frame})
}

// Route pushes an outbound event. Broadcast kinds go to every registered
// session; the rest go to Target or nowhere. It returns how many sessions
// accepted the push.
func (r *Router) Route(out event.Outbound) int {
	if out.Kind.Broadcast() {
		return r.broadcast(out)
	}
	if r.unicast(out.Target, out) {
		return 1
	}
	return 0
}

func (r *Router) unicast(userID string, out event.Outbound) bool {
	s, ok := r.dir.Lookup(userID)
	if !ok {
		r.log.Debug("Target offline, dropping event", zap.Stringer("kind", out.Kind), zap.String("target", userID))
		return false
	}
	if err := s.Push(out.Payload); err != nil {
		r.log.Warn("Push to session failed",
			zap.Stringer("kind", out.Kind),
			zap.String("target", userID),
			zap.String("session", s.ID()),
			zap.Error(err))
		return false
	}
	return true
}

func (r *Router) broadcast(out event.Outbound) int {
	keys := r.dir.SnapshotKeys()
	delivered := 0
	for _, userID := range keys {
		if r.unicast(userID, out) {
			delivered++
		}
	}
	r.log.Debug("Broadcast event", zap.Stringer("kind", out.Kind), zap.Int("targets", len(keys)), zap.Int("delivered", delivered))
	return delivered
}
