package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/auth"
	"github.com/Tyrowin/chatify/internal/config"
	"github.com/Tyrowin/chatify/internal/event"
	"github.com/Tyrowin/chatify/internal/server"
)

const (
	testOrigin   = "http://localhost:8080"
	eventTimeout = 2 * time.Second
	quietPeriod  = 200 * time.Millisecond
)

type testEnv struct {
	hub   *server.Hub
	http  *httptest.Server
	wsURL string
}

// newTestEnv starts a hub behind an httptest server. mutate may adjust the
// config before the hub is built.
func newTestEnv(t *testing.T, mutate func(*config.Config), authn auth.Authenticator) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.RateLimit.Burst = 100
	if mutate != nil {
		mutate(&cfg)
	}

	hub := server.NewHub(server.Options{Config: cfg, Authenticator: authn, Log: zap.NewNop()})
	ts := httptest.NewServer(server.SetupRoutes(hub, nil))
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		ts.Close()
	})

	return &testEnv{hub: hub, http: ts, wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

// wsClient reads frames in the background and splits coalesced ones, so
// tests can wait for individual events.
type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	events chan event.Envelope
}

func (e *testEnv) dial(t *testing.T, header http.Header) *wsClient {
	t.Helper()

	conn, err := e.tryDial(header)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	c := &wsClient{t: t, conn: conn, events: make(chan event.Envelope, 256)}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (e *testEnv) tryDial(header http.Header) (*websocket.Conn, error) {
	if header == nil {
		header = http.Header{}
	}
	if _, ok := header["Origin"]; !ok {
		header.Set("Origin", testOrigin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// online dials and completes the user_online handshake for userID.
func (e *testEnv) online(t *testing.T, userID string) *wsClient {
	t.Helper()
	c := e.dial(t, nil)
	c.handshake(userID)
	return c
}

func (c *wsClient) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			env, err := event.Decode(line)
			if err != nil {
				continue
			}
			c.events <- env
		}
	}
}

func (c *wsClient) send(name string, data any) {
	c.t.Helper()
	frame, err := event.Encode(name, data)
	if err != nil {
		c.t.Fatalf("encode %s: %v", name, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.t.Fatalf("write %s: %v", name, err)
	}
}

// sendRaw writes frame exactly as given.
func (c *wsClient) sendRaw(frame string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.t.Fatalf("write raw frame: %v", err)
	}
}

// handshake registers the connection and waits for its own online
// broadcast, which means registration is complete.
func (c *wsClient) handshake(userID string) {
	c.t.Helper()
	c.send(event.UserOnline, event.Online{UserID: userID})
	c.waitStatus(userID, event.StatusOnline)
}

// wait returns the next event named name, skipping others.
func (c *wsClient) wait(name string) event.Envelope {
	c.t.Helper()
	timer := time.NewTimer(eventTimeout)
	defer timer.Stop()
	for {
		select {
		case env, ok := <-c.events:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %s", name)
			}
			if env.Event == name {
				return env
			}
		case <-timer.C:
			c.t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func (c *wsClient) waitStatus(userID string, status event.Status) {
	c.t.Helper()
	for {
		env := c.wait(event.UserStatusChanged)
		var sc event.StatusChanged
		if err := json.Unmarshal(env.Data, &sc); err != nil {
			c.t.Fatalf("decode status: %v", err)
		}
		if sc.UserID == userID && sc.Status == status {
			return
		}
	}
}

// expectNone fails if an event matching name and pred arrives within the
// quiet period. A nil pred matches any event with that name.
func (c *wsClient) expectNone(name string, pred func(event.Envelope) bool) {
	c.t.Helper()
	timer := time.NewTimer(quietPeriod)
	defer timer.Stop()
	for {
		select {
		case env, ok := <-c.events:
			if !ok {
				return
			}
			if env.Event == name && (pred == nil || pred(env)) {
				c.t.Fatalf("unexpected %s: %s", name, env.Data)
			}
		case <-timer.C:
			return
		}
	}
}

// waitClosed waits for the server to close the connection.
func (c *wsClient) waitClosed() {
	c.t.Helper()
	timer := time.NewTimer(eventTimeout)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-c.events:
			if !ok {
				return
			}
		case <-timer.C:
			c.t.Fatal("connection was not closed")
		}
	}
}

func statusFor(userID string, status event.Status) func(event.Envelope) bool {
	return func(env event.Envelope) bool {
		var sc event.StatusChanged
		return json.Unmarshal(env.Data, &sc) == nil && sc.UserID == userID && sc.Status == status
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
