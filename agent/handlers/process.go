package handlers

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/protocol"
)

// ProcessExec spawns a process with the given argv, environment, and cwd,
// pipes stdin bytes in, applies an optional timeout, and captures stdout,
// stderr, exit code, and elapsed time.
//
// Spawn and wait are separated deliberately (Start then Wait, raced
// against a timer) so a timeout can still kill the child — a single
// combined wait-with-output call cannot be interrupted and killed
// afterwards. Elapsed time is wall-clock on this handler's host and is
// not meaningfully comparable across hosts.
type ProcessExec struct{}

// Handle implements agent.Handler.
func (ProcessExec) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	p := req.ProcessExec
	if len(p.Command) == 0 {
		return errResponse(req.ID, protocol.ErrorCodeInvalidRequest, "empty command"), nil
	}

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	for k, v := range p.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if p.Cwd != "" {
		cmd.Dir = p.Cwd
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(p.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(p.Stdin)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return errResponse(req.ID, protocol.ErrorCodeProcessFailed, "spawn: "+err.Error()), nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timer <-chan time.Time
	if p.TimeoutSeconds != nil {
		t := time.NewTimer(time.Duration(*p.TimeoutSeconds) * time.Second)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-done:
		elapsed := time.Since(start)
		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				return errResponse(req.ID, protocol.ErrorCodeProcessFailed, err.Error()), nil
			}
		}
		return processResultResponse(req.ID, cmd, stdout.Bytes(), stderr.Bytes(), elapsed), nil
	case <-timer:
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done // best-effort reap; do not re-raise the wait result
		return errResponse(req.ID, protocol.ErrorCodeTimeout, "process execution timed out"), nil
	}
}

func processResultResponse(requestID uuid.UUID, cmd *exec.Cmd, stdout, stderr []byte, elapsed time.Duration) protocol.Response {
	exitCode := int32(-1)
	if cmd.ProcessState != nil {
		exitCode = int32(cmd.ProcessState.ExitCode())
	}
	return protocol.Response{
		RequestID: requestID,
		Kind:      protocol.RespProcessResult,
		ProcessResult: &protocol.ProcessResult{
			ExitCode:   exitCode,
			Stdout:     stdout,
			Stderr:     stderr,
			DurationMS: uint64(elapsed.Milliseconds()),
		},
	}
}

func errResponse(requestID uuid.UUID, code protocol.ErrorCode, msg string) protocol.Response {
	return protocol.NewErrorResponse(requestID, protocol.NewErrorRecord(code, msg))
}
