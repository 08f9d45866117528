package server

import "net/http"

// SetupRoutes builds the process mux: health checks, the websocket endpoint,
// and api mounted under /api/ when not nil.
func SetupRoutes(h *Hub, api http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/healthz", h.HealthzHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	if api != nil {
		mux.Handle("/api/", api)
	}
	return mux
}
