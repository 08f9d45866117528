// Package event defines the realtime wire vocabulary exchanged over the
// websocket: the JSON envelope, the event names, and their payloads.
package event

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Event names. These strings are the external wire contract.
const (
	UserOnline        = "user_online"
	SendMessage       = "send_message"
	UserTyping        = "user_typing"
	UserStoppedTyping = "user_stopped_typing"
	ReceiveMessage    = "receive_message"
	UserStatusChanged = "user_status_changed"
	NewMessage        = "new_message"
)

// ErrMalformed marks an inbound frame that cannot be routed.
var ErrMalformed = errors.New("malformed event")

// Kind classifies an outbound event for routing.
type Kind int

const (
	KindMessageDelivery Kind = iota
	KindTypingStart
	KindTypingStop
	KindPresenceChange
)

func (k Kind) String() string {
	switch k {
	case KindMessageDelivery:
		return "message-delivery"
	case KindTypingStart:
		return "typing-start"
	case KindTypingStop:
		return "typing-stop"
	case KindPresenceChange:
		return "presence-change"
	default:
		return "unknown"
	}
}

// Broadcast reports whether events of this kind go to every session.
func (k Kind) Broadcast() bool {
	return k == KindPresenceChange
}

// Status is a user's presence.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is a routed event ready to be pushed. Target is empty for
// broadcast kinds.
type Outbound struct {
	Kind    Kind
	Target  string
	Payload []byte
}

// Online is the client handshake announcing its identity. Browser clients
// send the user id as a bare string; {"userId": ...} is accepted too.
type Online struct {
	UserID string `json:"userId"`
}

func (o *Online) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		o.UserID = id
		return nil
	}
	type object Online
	var obj object
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*o = Online(obj)
	return nil
}

// Chat is the send_message payload.
type Chat struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text,omitempty"`
	Image      string `json:"image,omitempty"`
}

// Typing is the payload of inbound typing events.
type Typing struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// TypingNotice is what the receiver of a typing event sees.
type TypingNotice struct {
	SenderID string `json:"senderId"`
}

// StatusChanged is the presence broadcast payload.
type StatusChanged struct {
	UserID string `json:"userId"`
	Status Status `json:"status"`
}

// Decode parses one inbound frame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(bytes.TrimSpace(raw), &env); err != nil {
		return Envelope{}, errors.Wrap(ErrMalformed, err.Error())
	}
	if env.Event == "" {
		return Envelope{}, errors.Wrap(ErrMalformed, "missing event name")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return errors.Wrapf(ErrMalformed, "%s: missing data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrapf(ErrMalformed, "%s: %v", e.Event, err)
	}
	return nil
}

// Encode builds a frame from an event name and a payload value.
func Encode(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", name)
	}
	return EncodeRaw(name, raw)
}

// EncodeRaw builds a frame around an already encoded payload, which is
// forwarded byte for byte.
func EncodeRaw(name string, data json.RawMessage) ([]byte, error) {
	out, err := json.Marshal(Envelope{Event: name, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", name)
	}
	return out, nil
}
