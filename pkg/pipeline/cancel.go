package pipeline

import (
	"sync/atomic"
)

// CancelToken is a shared flag polled cooperatively by stages. It is handed
// to the pipeline by whoever runs it (the task executor watches the durable
// cancel flag and trips the token).
type CancelToken struct {
	cancelled atomic.Bool
}

func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel trips the token. Safe to call from any goroutine, idempotent.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether the token has been tripped.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}
