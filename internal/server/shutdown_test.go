package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/config"
	"github.com/Tyrowin/chatify/internal/server"
)

// TestShutdownWithoutClients verifies that an idle hub shuts down at once.
func TestShutdownWithoutClients(t *testing.T) {
	hub := server.NewHub(server.Options{Config: config.Default(), Log: zap.NewNop()})
	if err := hub.Shutdown(time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
}

// TestShutdownClosesClients verifies that open connections are closed and
// their users deregistered.
func TestShutdownClosesClients(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	clients := []*wsClient{env.online(t, "alice"), env.online(t, "bob"), env.dial(t, nil)}
	waitFor(t, func() bool { return env.hub.ConnectionCount() == len(clients) })

	if err := env.hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}

	for _, c := range clients {
		c.waitClosed()
	}
	if n := env.hub.ConnectionCount(); n != 0 {
		t.Errorf("connections after shutdown = %d", n)
	}
	if users := env.hub.OnlineUsers(); len(users) != 0 {
		t.Errorf("online users after shutdown = %v", users)
	}
}

// TestConnectAfterShutdownIsClosed verifies that a hub refuses new
// connections once shutdown has started.
func TestConnectAfterShutdownIsClosed(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if err := env.hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}

	conn, err := env.tryDial(nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(eventTimeout))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed after shutdown")
	}
}

// TestHTTPServerLifecycle starts a real listener and shuts it down.
func TestHTTPServerLifecycle(t *testing.T) {
	hub := server.NewHub(server.Options{Config: config.Default(), Log: zap.NewNop()})
	srv := server.CreateServer("127.0.0.1:0", server.SetupRoutes(hub, nil))

	if srv.ReadTimeout == 0 || srv.WriteTimeout == 0 || srv.IdleTimeout == 0 {
		t.Errorf("expected timeouts to be set: %+v", srv)
	}

	done := make(chan error, 1)
	go func() { done <- server.StartServer(srv, zap.NewNop()) }()
	time.Sleep(50 * time.Millisecond)

	if err := server.ShutdownServer(srv, time.Second, zap.NewNop()); err != nil {
		t.Fatalf("ShutdownServer: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("StartServer returned %v after shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartServer did not return")
	}
	if err := hub.Shutdown(time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.online(t, "alice")
	env.dial(t, nil)
	waitFor(t, func() bool { return env.hub.ConnectionCount() == 2 })

	t.Run("root", func(t *testing.T) {
		resp, err := http.Get(env.http.URL + "/")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "text/plain" {
			t.Errorf("content type = %q", ct)
		}
	})

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.hub.HealthzHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
		body := rec.Body.String()
		if !strings.Contains(body, `"online":1`) || !strings.Contains(body, `"connections":2`) {
			t.Errorf("healthz body = %s", body)
		}
	})

	t.Run("websocket rejects POST", func(t *testing.T) {
		resp, err := http.Post(env.http.URL+"/ws", "text/plain", http.NoBody)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("plain GET on websocket endpoint", func(t *testing.T) {
		resp, err := http.Get(env.http.URL + "/ws")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}
