// Command kestrel-agent is the agent binary dropped onto a remote host by
// the bootstrap transport. It reads framed requests from stdin, dispatches
// them to the fixed handler catalogue, and writes framed responses to
// stdout; everything else (diagnostics, signals) goes to stderr or an
// optional log file so stdout stays a pure wire channel.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrel-run/kestrel/agent"
	"github.com/kestrel-run/kestrel/agent/handlers"
	kestrellog "github.com/kestrel-run/kestrel/internal/log"
	"github.com/kestrel-run/kestrel/protocol"
	"github.com/kestrel-run/kestrel/sandbox"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kestrel-agent:", err)
		os.Exit(1)
	}
}

type agentOptions struct {
	logFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var opts agentOptions

	cmd := &cobra.Command{
		Use:   "kestrel-agent",
		Short: "Remote execution agent speaking kestrel's framed wire protocol over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.logFile, "log-file", "", "path to a rotating diagnostic log file (default: stderr only)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, or error")

	return cmd
}

func run(ctx context.Context, opts agentOptions) error {
	log, closeLog, err := newLogger(opts)
	if err != nil {
		return fmt.Errorf("kestrel-agent: %w", err)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sb, err := sandbox.New(ctx, sandbox.DefaultConfig())
	if err != nil {
		return fmt.Errorf("kestrel-agent: start wasm sandbox: %w", err)
	}
	defer sb.Close(context.Background())

	registry := newRegistry(sb)
	loop := agent.NewLoop(os.Stdin, os.Stdout, registry, log)

	log.Info("kestrel-agent: starting dispatch loop")
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("kestrel-agent: dispatch loop: %w", err)
	}
	log.Info("kestrel-agent: stopped")
	return nil
}

// newRegistry wires every handler in the fixed catalogue (spec.md §4.2)
// under its wire tag.
func newRegistry(sb *sandbox.Sandbox) *agent.Registry {
	registry := agent.NewRegistry()
	registry.RegisterHandler(string(protocol.KindProcessExec), handlers.ProcessExec{})
	registry.RegisterHandler(string(protocol.KindPtyExec), handlers.PtyExec{})
	registry.RegisterHandler(string(protocol.KindFileGet), handlers.FileGet{})
	registry.RegisterHandler(string(protocol.KindFilePut), handlers.FilePut{})
	registry.RegisterHandler(string(protocol.KindDirList), handlers.DirList{})
	registry.RegisterHandler(string(protocol.KindWasmExec), handlers.WasmExec{Sandbox: sb})
	registry.RegisterHandler(string(protocol.KindJSONCall), handlers.NewJSONCall())
	registry.RegisterHandler(string(protocol.KindPing), handlers.Ping{})
	return registry
}

// newLogger builds the redacting slog logger used for the agent's own
// diagnostics (never the wire protocol itself, which lives on
// stdin/stdout untouched). Output always includes stderr so a failure to
// open --log-file is still visible; when --log-file is set, a rotating
// file sink receives the same records.
func newLogger(opts agentOptions) (*slog.Logger, func(), error) {
	level, err := parseLevel(opts.logLevel)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}

	if opts.logFile != "" {
		rf, err := kestrellog.NewRotatingFile(opts.logFile, 10*1024*1024, 5)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, rf)
		closeFn = func() { _ = rf.Close() }
	}

	base := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(kestrellog.NewRedactingHandler(base)), closeFn, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid --log-level %q", s)
	}
}
