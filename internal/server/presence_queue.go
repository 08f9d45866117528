package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/chatify/internal/event"
	"github.com/Tyrowin/chatify/internal/presence"
)

const (
	presenceTimeout   = 2 * time.Second
	presenceQueueSize = 1024
)

type presenceUpdate struct {
	userID string
	status event.Status
}

// presenceQueue applies presence transitions to the mirror from a single
// goroutine, in the order they were enqueued. Enqueueing never blocks the
// connection that caused the transition.
type presenceQueue struct {
	mirror presence.Mirror
	log    *zap.Logger

	mu      sync.Mutex
	updates chan presenceUpdate
	closed  bool
	done    chan struct{}
}

func newPresenceQueue(mirror presence.Mirror, log *zap.Logger) *presenceQueue {
	q := &presenceQueue{
		mirror:  mirror,
		log:     log,
		updates: make(chan presenceUpdate, presenceQueueSize),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *presenceQueue) enqueue(userID string, status event.Status) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.updates <- presenceUpdate{userID: userID, status: status}:
	default:
		q.log.Warn("Presence mirror queue full, dropping update",
			zap.String("user", userID), zap.String("status", string(status)))
	}
}

func (q *presenceQueue) run() {
	defer close(q.done)
	for u := range q.updates {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		var err error
		if u.status == event.StatusOnline {
			err = q.mirror.Online(ctx, u.userID)
		} else {
			err = q.mirror.Offline(ctx, u.userID)
		}
		cancel()
		if err != nil {
			q.log.Warn("Failed to mirror presence",
				zap.String("user", u.userID), zap.String("status", string(u.status)), zap.Error(err))
		}
	}
}

// close stops accepting updates and waits up to timeout for the queued ones
// to be applied.
func (q *presenceQueue) close(timeout time.Duration) bool {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.updates)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
