package batch

import "sync/atomic"

// Token is a cooperative cancellation flag shared by the caller and the worker.
// The worker only observes it between files.
type Token struct {
	cancelled atomic.Bool
}

// Cancel requests that the run stop before its next file
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called. A nil Token is never cancelled.
func (t *Token) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
