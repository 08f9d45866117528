// Package server defines shared session errors and utility helpers that
// are reused across client and hub logic.
package server

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrSessionClosed is returned by Push once the connection is gone.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendBufferFull is returned by Push when the writer is backed up.
	ErrSendBufferFull = errors.New("send buffer full")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
