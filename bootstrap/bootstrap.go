package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// CommandRunner executes a one-shot command on the target host and returns
// its output. Transports that support bootstrap detection implement this
// by running test_connection-style one-shot commands;
// transport.SSHTransport.RunCommand starts a separate ssh subprocess per
// call and does not trim the output.
type CommandRunner func(ctx context.Context, command string) (string, error)

// Bootstrap detects the remote platform and generates the launcher
// script used to materialize and exec the agent binary.
type Bootstrap struct {
	platform     *PlatformInfo
	customScript string
}

// Option configures a Bootstrap at construction time.
type Option func(*Bootstrap)

// WithCustomScript overrides automatic method selection with a literal
// launcher script.
func WithCustomScript(script string) Option {
	return func(b *Bootstrap) { b.customScript = script }
}

// New constructs a Bootstrap.
func New(opts ...Option) *Bootstrap {
	b := &Bootstrap{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DetectPlatform runs the platform probe, then each capability probe
// concurrently (they are independent one-shot commands), and records the
// result.
func (b *Bootstrap) DetectPlatform(ctx context.Context, run CommandRunner) (*PlatformInfo, error) {
	out, err := run(ctx, probeCommand)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: platform probe: %w", err)
	}
	arch, os, version, ok := parsePlatformOutput(out)
	if !ok {
		return nil, fmt.Errorf("bootstrap: failed to detect platform from probe output %q", out)
	}

	methods, err := b.detectMethods(ctx, run, os)
	if err != nil {
		return nil, err
	}

	info := &PlatformInfo{Arch: arch, OS: os, Version: version, Methods: methods}
	b.platform = info
	return info, nil
}

// detectMethods runs the four optional capability checks concurrently via
// errgroup and always appends MethodShell as the guaranteed fallback, in
// the priority order memfd_create > dev_shm > temp_file > python > shell
// used by GenerateScript's method selection.
func (b *Bootstrap) detectMethods(ctx context.Context, run CommandRunner, os string) ([]Method, error) {
	var (
		hasMemfd, hasPython, hasDevShm, hasTempFile bool
	)

	g, gctx := errgroup.WithContext(ctx)

	if os == "Linux" {
		g.Go(func() error {
			out, err := run(gctx, memfdCheckCmd)
			if err == nil && strings.TrimSpace(out) == "True" {
				hasMemfd = true
			}
			return nil
		})
	}
	g.Go(func() error {
		_, err := run(gctx, pythonCheckCmd)
		hasPython = err == nil
		return nil
	})
	g.Go(func() error {
		out, err := run(gctx, devShmCheckCmd)
		if err == nil && strings.TrimSpace(out) == "available" {
			hasDevShm = true
		}
		return nil
	})
	g.Go(func() error {
		out, err := run(gctx, tmpCheckCmd)
		if err == nil && strings.TrimSpace(out) == "available" {
			hasTempFile = true
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bootstrap: capability detection: %w", err)
	}

	var methods []Method
	if hasMemfd {
		methods = append(methods, MethodMemfdCreate)
	}
	if hasDevShm {
		methods = append(methods, MethodDevShm)
	}
	if hasTempFile {
		methods = append(methods, MethodTempFile)
	}
	if hasPython {
		methods = append(methods, MethodPython)
	}
	methods = append(methods, MethodShell)
	return methods, nil
}

// Platform returns the most recently detected platform info, if any.
func (b *Bootstrap) Platform() (*PlatformInfo, bool) {
	if b.platform == nil {
		return nil, false
	}
	return b.platform, true
}

// GenerateScript returns the launcher script for the best available
// bootstrap method (the first entry of Methods, in priority order),
// or the custom script if one was configured.
func (b *Bootstrap) GenerateScript() (string, error) {
	if b.customScript != "" {
		return b.customScript, nil
	}
	if b.platform == nil {
		return "", fmt.Errorf("bootstrap: platform not detected")
	}
	if len(b.platform.Methods) == 0 {
		return "", fmt.Errorf("bootstrap: no bootstrap methods available")
	}

	switch b.platform.Methods[0] {
	case MethodMemfdCreate:
		return memfdScript, nil
	case MethodPython:
		return pythonScript, nil
	case MethodDevShm:
		return devShmScript, nil
	case MethodTempFile:
		return tempFileScript, nil
	default:
		return shellScript, nil
	}
}
