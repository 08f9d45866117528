package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// WebSocketHandler upgrades GET requests to websocket connections and hands
// them to the hub. When an authenticator is configured its identity binds
// the connection; a request without a valid token is refused only when auth
// is required.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity := ""
	if h.auth != nil {
		id, err := h.auth.Authenticate(r)
		switch {
		case err == nil:
			identity = id
		case h.cfg.Auth.Required:
			h.log.Info("Rejected unauthenticated websocket request", zap.String("remote", r.RemoteAddr), zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	} else if h.cfg.Auth.Required {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Info("WebSocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	h.Attach(conn, r.RemoteAddr, identity)
}

// HealthHandler responds with a plain text liveness message.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chatify server is running!")
}

type healthz struct {
	Status      string `json:"status"`
	Online      int    `json:"online"`
	Connections int    `json:"connections"`
}

// HealthzHandler reports how many users are registered and how many
// connections are open.
func (h *Hub) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := healthz{
		Status:      "ok",
		Online:      h.registry.Len(),
		Connections: h.ConnectionCount(),
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("Error writing health response", zap.Error(err))
	}
}
