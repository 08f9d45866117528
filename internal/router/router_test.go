package router_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/Tyrowin/chatify/internal/event"
	"github.com/Tyrowin/chatify/internal/registry"
	"github.com/Tyrowin/chatify/internal/router"
	"github.com/Tyrowin/chatify/internal/store"
)

// recorder is a session that keeps every frame pushed to it.
type recorder struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Push(payload []byte) error {
	if r.fail {
		return errors.New("send buffer full")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), payload...))
	return nil
}

func (r *recorder) envelopes(t *testing.T) []event.Envelope {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Envelope, 0, len(r.frames))
	for _, f := range r.frames {
		env, err := event.Decode(f)
		if err != nil {
			t.Fatalf("pushed frame is not an envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func setup(users ...string) (*registry.Registry, *router.Router, map[string]*recorder) {
	reg := registry.New()
	sessions := make(map[string]*recorder, len(users))
	for _, u := range users {
		rec := &recorder{id: u + "-conn"}
		sessions[u] = rec
		reg.Register(u, rec)
	}
	return reg, router.New(reg, nil), sessions
}

func envelope(t *testing.T, name string, data any) event.Envelope {
	t.Helper()
	frame, err := event.Encode(name, data)
	if err != nil {
		t.Fatal(err)
	}
	env, err := event.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

// TestSendMessageUnicast covers A -> B delivery: B gets exactly one
// receive_message echoing the payload, A gets nothing.
func TestSendMessageUnicast(t *testing.T) {
	_, rt, s := setup("alice", "bob")

	chat := event.Chat{SenderID: "alice", ReceiverID: "bob", Text: "hello", Image: "https://img/x.png"}
	rt.HandleInbound("alice", envelope(t, event.SendMessage, chat))

	got := s["bob"].envelopes(t)
	if len(got) != 1 {
		t.Fatalf("bob received %d events, want 1", len(got))
	}
	if got[0].Event != event.ReceiveMessage {
		t.Errorf("event = %q, want %q", got[0].Event, event.ReceiveMessage)
	}
	var echoed event.Chat
	if err := json.Unmarshal(got[0].Data, &echoed); err != nil {
		t.Fatal(err)
	}
	if echoed != chat {
		t.Errorf("payload = %+v, want %+v", echoed, chat)
	}
	if n := len(s["alice"].envelopes(t)); n != 0 {
		t.Errorf("alice received %d events, want 0", n)
	}
}

// TestSendMessageForwardsUnknownFields verifies the payload is passed on
// as sent rather than re-marshaled through the known fields.
func TestSendMessageForwardsUnknownFields(t *testing.T) {
	_, rt, s := setup("alice", "bob")

	env := event.Envelope{
		Event: event.SendMessage,
		Data:  json.RawMessage(`{"senderId":"alice","receiverId":"bob","text":"hi","clientNonce":"n-1"}`),
	}
	rt.HandleInbound("alice", env)

	got := s["bob"].envelopes(t)
	if len(got) != 1 {
		t.Fatalf("bob received %d events, want 1", len(got))
	}
	var fields map[string]any
	if err := json.Unmarshal(got[0].Data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["clientNonce"] != "n-1" {
		t.Errorf("extra field lost: %v", fields)
	}
}

// TestSendMessageToOfflineUser verifies a miss produces no event anywhere.
func TestSendMessageToOfflineUser(t *testing.T) {
	_, rt, s := setup("alice", "bob")

	rt.HandleInbound("alice", envelope(t, event.SendMessage, event.Chat{SenderID: "alice", ReceiverID: "zed", Text: "?"}))

	for user, rec := range s {
		if n := len(rec.envelopes(t)); n != 0 {
			t.Errorf("%s received %d events, want 0", user, n)
		}
	}
}

// TestTypingReducedPayload verifies typing events carry only the sender.
func TestTypingReducedPayload(t *testing.T) {
	for _, name := range []string{event.UserTyping, event.UserStoppedTyping} {
		t.Run(name, func(t *testing.T) {
			_, rt, s := setup("alice", "bob")

			rt.HandleInbound("alice", envelope(t, name, event.Typing{SenderID: "alice", ReceiverID: "bob"}))

			got := s["bob"].envelopes(t)
			if len(got) != 1 || got[0].Event != name {
				t.Fatalf("bob received %+v", got)
			}
			var fields map[string]any
			if err := json.Unmarshal(got[0].Data, &fields); err != nil {
				t.Fatal(err)
			}
			if len(fields) != 1 || fields["senderId"] != "alice" {
				t.Errorf("payload = %v, want only senderId", fields)
			}
		})
	}
}

// TestMalformedInboundDropped verifies bad events are dropped quietly.
func TestMalformedInboundDropped(t *testing.T) {
	tests := []struct {
		name string
		env  event.Envelope
	}{
		{name: "unknown event", env: event.Envelope{Event: "shout", Data: json.RawMessage(`{}`)}},
		{name: "missing data", env: event.Envelope{Event: event.SendMessage}},
		{name: "missing receiver", env: event.Envelope{Event: event.SendMessage, Data: json.RawMessage(`{"senderId":"alice"}`)}},
		{name: "missing sender", env: event.Envelope{Event: event.UserTyping, Data: json.RawMessage(`{"receiverId":"bob"}`)}},
		{name: "wrong type", env: event.Envelope{Event: event.SendMessage, Data: json.RawMessage(`{"receiverId":42}`)}},
		{name: "spoofed sender", env: event.Envelope{Event: event.SendMessage, Data: json.RawMessage(`{"senderId":"mallory","receiverId":"bob"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rt, s := setup("alice", "bob")
			rt.HandleInbound("alice", tt.env)
			if n := len(s["bob"].envelopes(t)); n != 0 {
				t.Errorf("bob received %d events, want 0", n)
			}
		})
	}
}

// TestAnnouncePresenceBroadcast verifies every registered session,
// the subject included, receives exactly one status change.
func TestAnnouncePresenceBroadcast(t *testing.T) {
	_, rt, s := setup("alice", "bob", "carol")

	rt.AnnouncePresence("alice", event.StatusOffline)

	for user, rec := range s {
		got := rec.envelopes(t)
		if len(got) != 1 || got[0].Event != event.UserStatusChanged {
			t.Fatalf("%s received %+v", user, got)
		}
		var sc event.StatusChanged
		if err := json.Unmarshal(got[0].Data, &sc); err != nil {
			t.Fatal(err)
		}
		if sc.UserID != "alice" || sc.Status != event.StatusOffline {
			t.Errorf("%s got %+v", user, sc)
		}
	}
}

// TestPushFailureDoesNotDeregister verifies a broken session stays in the
// registry and the broadcast continues to the others.
func TestPushFailureDoesNotDeregister(t *testing.T) {
	reg, rt, s := setup("alice", "carol")
	broken := &recorder{id: "bob-conn", fail: true}
	reg.Register("bob", broken)

	delivered := rt.Route(event.Outbound{Kind: event.KindPresenceChange, Payload: []byte(`{"event":"user_status_changed"}`)})
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
	if got, ok := reg.Lookup("bob"); !ok || got != broken {
		t.Error("failed push must not remove the session")
	}
	if len(s["alice"].envelopes(t)) != 1 || len(s["carol"].envelopes(t)) != 1 {
		t.Error("healthy sessions should still receive the broadcast")
	}
}

// TestDeliverPersistedMessage verifies the ingress path unicasts
// new_message to the receiver only.
func TestDeliverPersistedMessage(t *testing.T) {
	_, rt, s := setup("alice", "bob")

	msg := store.Message{
		ID:         "m1",
		SenderID:   "alice",
		ReceiverID: "bob",
		Text:       "stored",
		Sender:     &store.Sender{ID: "alice", FullName: "Alice A"},
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	rt.DeliverPersistedMessage(msg)

	got := s["bob"].envelopes(t)
	if len(got) != 1 || got[0].Event != event.NewMessage {
		t.Fatalf("bob received %+v", got)
	}
	var decoded store.Message
	if err := json.Unmarshal(got[0].Data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ID != "m1" || decoded.ReceiverID != "bob" || decoded.Sender == nil || decoded.Sender.FullName != "Alice A" {
		t.Errorf("unexpected message %+v", decoded)
	}
	if len(s["alice"].envelopes(t)) != 0 {
		t.Error("sender should not receive its own persisted message")
	}

	rt.DeliverPersistedMessage(store.Message{ID: "m2", SenderID: "alice", ReceiverID: "offline"})
	rt.DeliverPersistedMessage(store.Message{ID: "m3", SenderID: "alice"})
	if len(s["bob"].envelopes(t)) != 1 {
		t.Error("messages for other receivers must not reach bob")
	}
}

// TestPerReceiverOrder verifies events from one sender arrive in order.
func TestPerReceiverOrder(t *testing.T) {
	_, rt, s := setup("alice", "bob")

	texts := []string{"1", "2", "3", "4", "5"}
	for _, text := range texts {
		rt.HandleInbound("alice", envelope(t, event.SendMessage, event.Chat{SenderID: "alice", ReceiverID: "bob", Text: text}))
	}

	got := s["bob"].envelopes(t)
	if len(got) != len(texts) {
		t.Fatalf("received %d, want %d", len(got), len(texts))
	}
	for i, env := range got {
		var c event.Chat
		if err := json.Unmarshal(env.Data, &c); err != nil {
			t.Fatal(err)
		}
		if c.Text != texts[i] {
			t.Errorf("position %d: got %q, want %q", i, c.Text, texts[i])
		}
	}
}
