// Package server implements the websocket side of the realtime layer.
//
// A Hub upgrades requests on /ws and runs a read pump and a write pump per
// connection. Each connection is a registry.Session: it starts Connecting,
// becomes Registered when the client sends user_online, and is Closed when
// the transport goes away. Registration and removal announce the user's
// presence through the router. A connection that was superseded by a newer
// one for the same user is removed silently.
//
// Outbound frames are queued on a bounded per-connection buffer. The write
// pump may coalesce queued frames into one websocket message, one JSON
// envelope per line.
package server
