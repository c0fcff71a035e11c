package server

import (
	"log/slog"
	"sync/atomic"
)

// Handle requests a running Server to stop. It is safe to use from any
// goroutine. Close does not wait: callers that need to know when the
// server is done wait for Run to return.
type Handle struct {
	closed atomic.Bool
}

// Close asks the server to stop. Repeated calls, or calls after the server
// has stopped, have no effect.
func (h *Handle) Close() {
	if h.closed.CompareAndSwap(false, true) {
		slog.Debug("server close requested")
	}
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}
