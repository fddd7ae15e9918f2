// Package agent implements the agent-side dispatch loop: reading framed
// requests from stdin, routing them by tag to a registered Handler, and
// writing framed responses to stdout (spec.md §4.6).
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrel-run/kestrel/protocol"
)

// Handler answers one request kind. Implementations are expected to
// complete in bounded time or respect request.TimeoutSeconds where the
// request carries one; the dispatch loop does not itself enforce a
// handler-level deadline beyond ctx cancellation.
type Handler interface {
	Handle(ctx context.Context, req protocol.Request) (protocol.Response, error)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(ctx context.Context, req protocol.Request) (protocol.Response, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	return f(ctx, req)
}

// Registry is an open, tag-keyed handler table. The dispatch loop's
// catalogue is fixed (§4.2), but tests install fakes under the same tags
// via RegisterHandler without touching the real implementations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// RegisterHandler installs h under tag, replacing any existing handler.
func (r *Registry) RegisterHandler(tag string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tag] = h
}

// Lookup returns the handler registered for tag, if any.
func (r *Registry) Lookup(tag string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[tag]
	return h, ok
}

// Dispatch looks up the handler for req's tag and invokes it, converting
// an absent handler or a handler failure into an Error response per
// spec.md §4.6 step 5.
func (r *Registry) Dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	if err := req.Validate(); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.WrapError(protocol.ErrorCodeInvalidRequest, err))
	}

	h, ok := r.Lookup(req.HandlerTag())
	if !ok {
		return protocol.NewErrorResponse(req.ID, protocol.NewErrorRecord(
			protocol.ErrorCodeUnsupported,
			fmt.Sprintf("no handler registered for %q", req.HandlerTag()),
		))
	}

	resp, err := h.Handle(ctx, req)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.WrapError(protocol.ErrorCodeInternalError, err))
	}
	return resp
}
