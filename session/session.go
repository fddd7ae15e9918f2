// Package session manages the lifecycle of one remote execution session:
// connect, bootstrap the agent, hand out Contexts for issuing requests,
// and disconnect.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/kestrel-run/kestrel/bootstrap"
	"github.com/kestrel-run/kestrel/router"
	"github.com/kestrel-run/kestrel/transport"
)

// Status is the closed set of session lifecycle states.
type Status int

const (
	StatusConnecting Status = iota
	StatusBootstrapping
	StatusActive
	StatusDisconnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusBootstrapping:
		return "Bootstrapping"
	case StatusActive:
		return "Active"
	case StatusDisconnected:
		return "Disconnected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// AgentConfig describes the agent binary for the remote host. Session
// passes it unchanged to Config.AgentBinary and reads none of its fields
// itself; Session has no embedded agent binary.
type AgentConfig struct {
	// BinaryPath names an agent binary on disk. Session does not read the
	// file; a Config.AgentBinary function may.
	BinaryPath string
	// ExecutionTimeout is an agent execution time budget. Session does not
	// enforce it.
	ExecutionTimeout time.Duration
	// VerifyHash requests SHA-256 verification of the agent binary.
	// Session performs no such verification itself.
	VerifyHash bool
}

// DefaultAgentConfig returns the agent defaults: no binary path, a
// 5 minute execution timeout, no hash verification.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{ExecutionTimeout: 5 * time.Minute}
}

// Config configures a Session's connection, agent bootstrap, and router.
type Config struct {
	SSH          transport.SSHConfig
	Agent        AgentConfig
	Timeout      time.Duration
	MaxStreams   uint32
	Bootstrap    bool
	Log          *slog.Logger
	AgentBinary  func(ctx context.Context, cfg AgentConfig) ([]byte, error)
}

// DefaultConfig returns a Config with target's parsed SSH settings and
// spec.md-aligned defaults: a 30 second connect timeout, 100 concurrent
// streams, and agent bootstrapping enabled.
func DefaultConfig(target string) Config {
	user, host, port := ParseTarget(target)
	ssh := transport.DefaultSSHConfig(host)
	ssh.User = user
	ssh.Port = port

	return Config{
		SSH:        ssh,
		Agent:      DefaultAgentConfig(),
		Timeout:    30 * time.Second,
		MaxStreams: 100,
		Bootstrap:  true,
	}
}

// ParseTarget splits a "[user@]host[:port]" target string. User defaults
// to "root" and port to 22 when absent.
func ParseTarget(target string) (user, host string, port int) {
	user = "root"
	host = target
	port = 22

	if at := strings.Index(target, "@"); at >= 0 {
		user = target[:at]
		host = target[at+1:]
	}
	if colon := strings.LastIndex(host, ":"); colon >= 0 {
		if p, err := strconv.Atoi(host[colon+1:]); err == nil {
			port = p
			host = host[:colon]
		}
	}
	return user, host, port
}

// State is a point-in-time snapshot of a session's lifecycle.
type State struct {
	ID             uuid.UUID
	Target         string
	Status         Status
	ErrorMessage   string
	Capabilities   []string
	ConnectionInfo *transport.Info
}

// Session connects a target host, bootstraps its agent, and returns a
// Connected session ready to issue requests.
type Session struct {
	target string
	config Config
}

// New constructs a Session for target with the given Config.
func New(target string, config Config) *Session {
	if config.Log == nil {
		config.Log = slog.Default()
	}
	return &Session{target: target, config: config}
}

// Connect establishes the transport connection, optionally bootstraps the
// agent, and starts the router, mirroring session.rs's Session::connect.
func (s *Session) Connect(ctx context.Context) (*Connected, error) {
	log := s.config.Log
	log.Info("session: connecting", "target", s.target)

	state := State{
		ID:     uuid.New(),
		Target: s.target,
		Status: StatusConnecting,
	}

	opts := []transport.SSHOption{
		transport.WithUser(s.config.SSH.User),
		transport.WithPort(s.config.SSH.Port),
	}
	if s.config.SSH.IdentityFile != "" {
		opts = append(opts, transport.WithIdentityFile(s.config.SSH.IdentityFile))
	}
	if s.config.SSH.StrictHostKeyChecking {
		opts = append(opts, transport.WithStrictHostKeyChecking(s.config.SSH.KnownHostsFile))
	}
	if s.config.SSH.ConnectTimeout > 0 {
		opts = append(opts, transport.WithConnectTimeout(s.config.SSH.ConnectTimeout))
	}
	tr := transport.NewSSHTransport(s.config.SSH.Host, opts...)

	if err := tr.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("session: connection test failed: %w", err)
	}

	conn, err := tr.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: connect failed: %w", err)
	}

	info := tr.ConnectionInfo()
	state.ConnectionInfo = &info

	if s.config.Bootstrap {
		state.Status = StatusBootstrapping
		agentBinary, err := s.agentBinary(ctx)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("session: resolve agent binary: %w", err)
		}

		bs := bootstrap.New()
		if _, err := bs.DetectPlatform(ctx, tr.RunCommand); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("session: platform detection failed: %w", err)
		}
		script, err := bs.GenerateScript()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("session: generate bootstrap script: %w", err)
		}

		payload := append([]byte(script), agentBinary...)
		if err := tr.BootstrapAgent(ctx, conn, payload); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("session: agent bootstrap failed: %w", err)
		}
		log.Info("session: agent bootstrapped", "target", s.target)
	}

	timeout := s.config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := router.New(conn, s.config.MaxStreams, timeout, log)

	state.Status = StatusActive
	state.Capabilities = []string{"process_exec", "file_ops", "pty_exec", "json_call", "wasm_exec"}

	log.Info("session: established", "id", state.ID, "target", s.target)
	return &Connected{state: state, router: r, conn: conn, config: s.config, log: log}, nil
}

func (s *Session) agentBinary(ctx context.Context) ([]byte, error) {
	if s.config.AgentBinary != nil {
		return s.config.AgentBinary(ctx, s.config.Agent)
	}
	return nil, errors.New("session: no agent binary source configured")
}

// Connected is an active session with an established connection and
// router.
type Connected struct {
	mu     sync.RWMutex
	state  State
	router *router.Router
	conn   transport.Connection
	config Config
	log    *slog.Logger
}

// State returns a snapshot of the session's current lifecycle state.
func (c *Connected) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ID returns the session's unique identifier.
func (c *Connected) ID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ID
}

// Context returns a new request-issuing Context bound to this session's
// router, failing if the session is not Active.
func (c *Connected) Context() (*Context, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Status != StatusActive {
		return nil, fmt.Errorf("session: not active (status=%s)", c.state.Status)
	}
	return newContext(c.state.ID, c.router), nil
}

// Ping is a convenience wrapper around Context().Ping.
func (c *Connected) Ping(ctx context.Context) (time.Duration, error) {
	sessCtx, err := c.Context()
	if err != nil {
		return 0, err
	}
	return sessCtx.Ping(ctx)
}

// ConnectionInfo returns the session's transport addressing information.
func (c *Connected) ConnectionInfo() *transport.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ConnectionInfo
}

// Disconnect transitions the session to Disconnected, shuts down the
// router (draining any pending requests), and closes the underlying
// connection. Router shutdown already closes the connection as part of
// its own cleanup; Disconnect closes it again defensively (Close is
// idempotent) and aggregates both results, since a router-level failure
// should not hide an otherwise-clean transport close or vice versa.
func (c *Connected) Disconnect() error {
	c.mu.Lock()
	c.state.Status = StatusDisconnected
	c.mu.Unlock()

	c.log.Info("session: disconnecting", "id", c.ID())

	var result *multierror.Error
	if err := c.router.Shutdown(); err != nil {
		result = multierror.Append(result, fmt.Errorf("router shutdown: %w", err))
	}
	if err := c.conn.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("connection close: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	c.log.Info("session: disconnected", "id", c.ID())
	return nil
}
