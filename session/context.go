package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/protocol"
	"github.com/kestrel-run/kestrel/router"
)

// defaultProcessTimeoutSeconds is ProcExec's default per-request timeout,
// matching context.rs's 5 minute default.
const defaultProcessTimeoutSeconds = uint64(300)

// defaultWasmTimeoutSeconds is CallWasm's default per-request timeout,
// matching context.rs's 1 minute default.
const defaultWasmTimeoutSeconds = uint64(60)

// Context is the request-issuing surface for one active session: every
// method builds a protocol.Request, sends it through the router, and
// translates the correlated protocol.Response (or Error) into a typed
// result.
type Context struct {
	sessionID uuid.UUID
	router    *router.Router
}

func newContext(sessionID uuid.UUID, r *router.Router) *Context {
	return &Context{sessionID: sessionID, router: r}
}

// SessionID returns the owning session's id.
func (c *Context) SessionID() uuid.UUID {
	return c.sessionID
}

// ProcessOutput is the result of a ProcExec/ProcExecWithEnv call.
type ProcessOutput struct {
	ExitCode int32
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Success reports whether the process exited zero.
func (o ProcessOutput) Success() bool { return o.ExitCode == 0 }

// StdoutString returns Stdout decoded as UTF-8.
func (o ProcessOutput) StdoutString() string { return string(o.Stdout) }

// StderrString returns Stderr decoded as UTF-8.
func (o ProcessOutput) StderrString() string { return string(o.Stderr) }

// ProcExec runs command on the remote host with the default timeout and
// no extra environment or working directory.
func (c *Context) ProcExec(ctx context.Context, command []string) (ProcessOutput, error) {
	return c.ProcExecWithEnv(ctx, command, nil, "", nil)
}

// ProcExecWithEnv runs command on the remote host with the given
// environment, working directory, and stdin.
func (c *Context) ProcExecWithEnv(ctx context.Context, command []string, env map[string]string, cwd string, stdin []byte) (ProcessOutput, error) {
	timeout := defaultProcessTimeoutSeconds
	req := protocol.NewProcessExecRequest(protocol.ProcessExecRequest{
		Command:        command,
		Env:            env,
		Cwd:            cwd,
		Stdin:          stdin,
		TimeoutSeconds: &timeout,
	})

	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return ProcessOutput{}, err
	}
	if resp.IsError() {
		return ProcessOutput{}, fmt.Errorf("session: process execution failed: %w", resp.Error)
	}
	if resp.ProcessResult == nil {
		return ProcessOutput{}, errUnexpectedResponse(resp.Kind)
	}
	r := resp.ProcessResult
	return ProcessOutput{
		ExitCode: r.ExitCode,
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		Duration: time.Duration(r.DurationMS) * time.Millisecond,
	}, nil
}

// Put uploads localPath's content to remotePath, creating parent
// directories on the remote host as needed.
func (c *Context) Put(ctx context.Context, localPath, remotePath string) (uint64, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return 0, fmt.Errorf("session: read local file: %w", err)
	}

	req := protocol.NewFilePutRequest(protocol.FilePutRequest{
		Path:       remotePath,
		Content:    content,
		CreateDirs: true,
	})
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("session: file upload failed: %w", resp.Error)
	}
	if resp.FilePutResult == nil {
		return 0, errUnexpectedResponse(resp.Kind)
	}
	return resp.FilePutResult.BytesWritten, nil
}

// Get downloads remotePath's content to localPath, creating local parent
// directories as needed.
func (c *Context) Get(ctx context.Context, remotePath, localPath string) (uint64, error) {
	req := protocol.NewFileGetRequest(protocol.FileGetRequest{Path: remotePath})
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("session: file download failed: %w", resp.Error)
	}
	if resp.FileContent == nil {
		return 0, errUnexpectedResponse(resp.Kind)
	}

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("session: create local directory: %w", err)
		}
	}
	if err := os.WriteFile(localPath, resp.FileContent.Content, 0o644); err != nil {
		return 0, fmt.Errorf("session: write local file: %w", err)
	}
	return uint64(len(resp.FileContent.Content)), nil
}

// CallJSON invokes a named method on the remote host, marshaling params
// and unmarshaling the result into out.
func (c *Context) CallJSON(ctx context.Context, method string, params, out interface{}) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("session: marshal json_call params: %w", err)
	}

	req := protocol.NewJSONCallRequest(protocol.JSONCallRequest{Method: method, Params: paramsJSON})
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("session: json_call failed: %w", resp.Error)
	}
	if resp.JSONResult == nil {
		return errUnexpectedResponse(resp.Kind)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.JSONResult.Result, out); err != nil {
		return fmt.Errorf("session: unmarshal json_call result: %w", err)
	}
	return nil
}

// CallWasm executes a WASM module on the remote host with input
// marshaled to JSON, unmarshaling the module's JSON output into out.
func (c *Context) CallWasm(ctx context.Context, module []byte, input, out interface{}) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("session: marshal wasm_exec input: %w", err)
	}

	timeout := defaultWasmTimeoutSeconds
	req := protocol.NewWasmExecRequest(protocol.WasmExecRequest{
		Module:         module,
		Input:          inputJSON,
		TimeoutSeconds: &timeout,
	})
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("session: wasm_exec failed: %w", resp.Error)
	}
	if resp.WasmResult == nil {
		return errUnexpectedResponse(resp.Kind)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.WasmResult.Output, out); err != nil {
		return fmt.Errorf("session: unmarshal wasm_exec output: %w", err)
	}
	return nil
}

// Ping measures round-trip latency to the remote agent.
func (c *Context) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	req := protocol.NewPingRequest(protocol.PingRequest{Timestamp: uint64(start.Unix())})
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	if resp.IsError() {
		return 0, fmt.Errorf("session: ping failed: %w", resp.Error)
	}
	if resp.Pong == nil {
		return 0, errUnexpectedResponse(resp.Kind)
	}
	return elapsed, nil
}

func (c *Context) sendRequest(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	return c.router.SendMessage(ctx, protocol.WrapRequest(req))
}

func errUnexpectedResponse(kind protocol.ResponseKind) error {
	return fmt.Errorf("session: unexpected response kind %q", kind)
}
