package handlers

import (
	"context"
	"fmt"

	"github.com/kestrel-run/kestrel/protocol"
)

// JSONMethod answers one named json_call method: a JSON params blob in,
// a JSON result blob out.
type JSONMethod func(ctx context.Context, params []byte) ([]byte, error)

// JSONCall dispatches json_call requests to a method table keyed by
// name. The wire-level request/response shapes are fixed by spec.md §6,
// but which methods exist is left open — callers register their own via
// RegisterMethod, the same "closed envelope, open table" shape as the
// agent's top-level Registry.
type JSONCall struct {
	methods map[string]JSONMethod
}

// NewJSONCall constructs an empty JSONCall handler.
func NewJSONCall() *JSONCall {
	return &JSONCall{methods: make(map[string]JSONMethod)}
}

// RegisterMethod installs fn under name, replacing any existing method.
func (j *JSONCall) RegisterMethod(name string, fn JSONMethod) {
	j.methods[name] = fn
}

// Handle implements agent.Handler.
func (j *JSONCall) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	p := req.JSONCall
	fn, ok := j.methods[p.Method]
	if !ok {
		return errResponse(req.ID, protocol.ErrorCodeUnsupported, fmt.Sprintf("no json_call method registered for %q", p.Method)), nil
	}

	result, err := fn(ctx, p.Params)
	if err != nil {
		return errResponse(req.ID, protocol.ErrorCodeInternalError, err.Error()), nil
	}
	return protocol.Response{
		RequestID:  req.ID,
		Kind:       protocol.RespJSONResult,
		JSONResult: &protocol.JSONResult{Result: result},
	}, nil
}
