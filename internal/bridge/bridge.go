// Package bridge hands messages that the durable store has already
// accepted to the realtime router. It is the only point where the
// request/response write path touches realtime delivery, and it never
// reports delivery outcomes back to the writer.
package bridge

import (
	"context"

	"github.com/Tyrowin/chatify/internal/store"
)

// Deliverer is the router side of the bridge.
type Deliverer interface {
	DeliverPersistedMessage(msg store.Message)
}

// Bridge forwards a persisted message towards realtime delivery. Callers
// must only invoke it after the store write succeeded.
type Bridge interface {
	Deliver(ctx context.Context, msg store.Message)
}

// Direct calls the in-process router synchronously.
type Direct struct {
	router Deliverer
}

// NewDirect creates a Direct bridge.
func NewDirect(router Deliverer) *Direct {
	return &Direct{router: router}
}

// Deliver implements Bridge.
func (d *Direct) Deliver(_ context.Context, msg store.Message) {
	d.router.DeliverPersistedMessage(msg)
}
