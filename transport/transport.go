// Package transport defines the abstract byte-stream connection contract
// used by a session to reach a remote agent, plus the default SSH
// subprocess implementation.
package transport

import (
	"context"
	"io"
)

// Connection is a live byte-stream endpoint to a remote process: a
// writable stdin, a readable stdout, and a readable stderr. It signals
// liveness via IsConnected and owns cleanup on Close.
type Connection interface {
	// Stdin is the writable input stream to the remote process.
	Stdin() io.Writer
	// Stdout is the readable output stream from the remote process.
	Stdout() io.Reader
	// Stderr is the readable error stream from the remote process.
	Stderr() io.Reader
	// IsConnected reports whether the underlying process/session is
	// still alive.
	IsConnected() bool
	// Close releases the connection's resources. Idempotent.
	Close() error
}

// Info describes a connection's addressing for diagnostics and logging.
type Info struct {
	Host string
	Port int
	User string
}

// Transport constructs and verifies connections to one target.
type Transport interface {
	// Connect establishes the connection and returns it.
	Connect(ctx context.Context) (Connection, error)
	// BootstrapAgent streams the agent bootstrap payload (launcher script
	// plus embedded binary) over an already-open Connection's stdin.
	BootstrapAgent(ctx context.Context, conn Connection, agentBytes []byte) error
	// ConnectionInfo returns the target's addressing information.
	ConnectionInfo() Info
	// TestConnection runs a one-shot liveness probe and returns an error
	// if the target is unreachable or misbehaving.
	TestConnection(ctx context.Context) error
}
