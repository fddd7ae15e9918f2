package handlers

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/kestrel-run/kestrel/protocol"
)

// defaultPromptPatterns are checked case-insensitively as substrings when a
// PtyExec request carries no custom PromptPatterns.
var defaultPromptPatterns = []string{
	"password:",
	"[sudo] password",
	"su:",
	"doas:",
}

// PtyExec runs a command with an optional privilege-escalation preamble,
// merging stdout and stderr into a single ordered stream. It reuses the
// spawn/wait separation from ProcessExec so a timeout can still kill the
// child.
type PtyExec struct{}

// Handle implements agent.Handler.
func (PtyExec) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	p := req.PtyExec
	if len(p.Command) == 0 {
		return errResponse(req.ID, protocol.ErrorCodeInvalidRequest, "empty command"), nil
	}

	command := p.Command
	if p.Privilege != nil {
		var err error
		command, err = buildPrivilegedCommand(p.Command, p.Privilege)
		if err != nil {
			return errResponse(req.ID, protocol.ErrorCodePrivilegeEscalationFailed, err.Error()), nil
		}
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	for k, v := range p.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if p.Cwd != "" {
		cmd.Dir = p.Cwd
	}

	var merged mergedOutput
	cmd.Stdout = &merged
	cmd.Stderr = &merged

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
		exitCode := int32(-1)
		if cmd.ProcessState != nil {
			exitCode = int32(cmd.ProcessState.ExitCode())
		}
		return protocol.Response{
			RequestID: req.ID,
			Kind:      protocol.RespPtyResult,
			PtyResult: &protocol.PtyResult{
				ExitCode:   exitCode,
				Output:     merged.Bytes(),
				DurationMS: uint64(elapsed.Milliseconds()),
			},
		}, nil
	case <-timer:
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		return errResponse(req.ID, protocol.ErrorCodeTimeout, "process execution timed out"), nil
	}
}

// mergedOutput is an io.Writer that preserves interleaving order between
// two writers sharing it (here, stdout and stderr both write into it).
type mergedOutput struct {
	buf bytes.Buffer
}

func (m *mergedOutput) Write(p []byte) (int, error) {
	return m.buf.Write(p)
}

func (m *mergedOutput) Bytes() []byte {
	return m.buf.Bytes()
}

func buildPrivilegedCommand(command []string, priv *protocol.PrivilegeEscalation) ([]string, error) {
	switch priv.Method {
	case protocol.PrivilegeSudo:
		out := []string{"sudo", "-S"}
		if priv.User != "" {
			out = append(out, "-u", priv.User)
		}
		return append(out, command...), nil
	case protocol.PrivilegeSu:
		out := []string{"su"}
		if priv.User != "" {
			out = append(out, priv.User)
		}
		return append(out, "-c", strings.Join(command, " ")), nil
	case protocol.PrivilegeDoas:
		out := []string{"doas"}
		if priv.User != "" {
			out = append(out, "-u", priv.User)
		}
		return append(out, command...), nil
	case protocol.PrivilegeCustom:
		out := []string{priv.CustomCommand}
		return append(out, command...), nil
	default:
		return nil, errUnknownPrivilegeMethod(priv.Method)
	}
}

type errUnknownPrivilegeMethod protocol.PrivilegeMethod

func (e errUnknownPrivilegeMethod) Error() string {
	return "unknown privilege escalation method: " + string(e)
}

// detectPrivilegePrompt reports whether output contains any of patterns
// (case-insensitive substring match), or defaultPromptPatterns if patterns
// is empty.
func detectPrivilegePrompt(output string, patterns []string) bool {
	if len(patterns) == 0 {
		patterns = defaultPromptPatterns
	}
	lower := strings.ToLower(output)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
