package handlers

import (
	"context"
	"time"

	"github.com/kestrel-run/kestrel/internal/ctxutil"
	"github.com/kestrel-run/kestrel/protocol"
	"github.com/kestrel-run/kestrel/sandbox"
)

// WasmExec loads and runs a WebAssembly module through a shared Sandbox,
// delivering the request's Input as the module's stdin and returning
// whatever it wrote to stdout as the result.
type WasmExec struct {
	Sandbox *sandbox.Sandbox
}

// Handle implements agent.Handler.
func (w WasmExec) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	p := req.WasmExec
	if len(p.Module) == 0 {
		return errResponse(req.ID, protocol.ErrorCodeInvalidRequest, "empty module"), nil
	}

	runCtx, cancel := ctxutil.WithOptionalTimeout(ctx, p.TimeoutSeconds)
	defer cancel()

	start := time.Now()
	m, err := w.Sandbox.LoadModule(runCtx, p.Module)
	if err != nil {
		return errResponse(req.ID, protocol.ErrorCodeWasmFailed, "load module: "+err.Error()), nil
	}

	output, err := w.Sandbox.ExecuteWithStdio(runCtx, m, string(p.Input), sandbox.ExecContext{})
	if err != nil {
		if runCtx.Err() != nil {
			return errResponse(req.ID, protocol.ErrorCodeTimeout, "wasm execution timed out"), nil
		}
		return errResponse(req.ID, protocol.ErrorCodeWasmFailed, "wasm execution: "+err.Error()), nil
	}

	return protocol.Response{
		RequestID: req.ID,
		Kind:      protocol.RespWasmResult,
		WasmResult: &protocol.WasmResult{
			Output:     []byte(output),
			DurationMS: uint64(time.Since(start).Milliseconds()),
		},
	}, nil
}
