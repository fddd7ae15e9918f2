// Package handlers implements the fixed request handler catalogue dispatched
// by the agent loop: ping, process exec, pty exec, file ops, and wasm exec.
package handlers

import (
	"context"
	"time"

	"github.com/kestrel-run/kestrel/protocol"
)

// Ping echoes the incoming timestamp and attaches a current one.
type Ping struct{}

// Handle implements agent.Handler.
func (Ping) Handle(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	now := uint64(time.Now().Unix())
	return protocol.Response{
		RequestID: req.ID,
		Kind:      protocol.RespPong,
		Pong:      &protocol.Pong{Timestamp: req.Ping.Timestamp, ResponseTimestamp: now},
	}, nil
}
