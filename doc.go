// Package kestrel provides a client-agent remote execution runtime: a
// small statically-linked agent binary is bootstrapped onto a remote host
// over SSH and driven from a local Session over a length-prefixed,
// multiplexed CBOR protocol.
//
// # Architecture
//
// The module is organized into layers:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  session/      Session: the caller-facing API           │
//	├─────────────────────────────────────────────────────────┤
//	│  pool/         connection pooling and health checks     │
//	├─────────────────────────────────────────────────────────┤
//	│  router/       request/response correlation             │
//	├─────────────────────────────────────────────────────────┤
//	│  stream/       stream multiplexing                      │
//	├─────────────────────────────────────────────────────────┤
//	│  protocol/     request/response wire types (CBOR)        │
//	├─────────────────────────────────────────────────────────┤
//	│  frame/        length-prefixed frame codec               │
//	├─────────────────────────────────────────────────────────┤
//	│  transport/    SSH subprocess connection                 │
//	└─────────────────────────────────────────────────────────┘
//
// bootstrap/ detects a target's capabilities and produces a launcher
// script that streams and runs the agent binary built from cmd/kestrel-agent.
// sandbox/ is the agent-side WebAssembly execution sandbox a wasm_exec
// request runs against.
//
// # Quick Start
//
//	cfg := session.DefaultConfig("user@host")
//	cfg.AgentBinary = loadAgent // returns the kestrel-agent bytes to bootstrap
//	sess := session.New("user@host", cfg)
//	conn, err := sess.Connect(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Disconnect()
//
//	c, err := conn.Context()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := c.ProcExec(ctx, []string{"uname", "-a"})
package kestrel
