// Package ctxutil collects small context.Context helpers shared across
// kestrel's packages: applying an optional wire-level timeout, and
// deriving a context that ends when either of two parents ends.
package ctxutil

import (
	"context"
	"time"
)

// WithOptionalTimeout returns a context bounded by seconds if seconds is
// non-nil, and ctx unchanged (with a no-op cancel) otherwise. This
// collapses the "apply the wire request's optional TimeoutSeconds field"
// pattern repeated across the agent's handlers.
func WithOptionalTimeout(ctx context.Context, seconds *uint64) (context.Context, context.CancelFunc) {
	if seconds == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(*seconds)*time.Second)
}

// Merge returns a context that is done as soon as either a or b is done.
// Its Err is context.Canceled whichever parent ended it; the parent's own
// error is not carried over. Callers must call the returned
// CancelFunc to release the background goroutine once done with the
// merged context, whether or not either parent has fired.
func Merge(a, b context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(context.Background())

	stop := make(chan struct{})
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-stop:
		}
	}()

	return merged, func() {
		close(stop)
		cancel()
	}
}
