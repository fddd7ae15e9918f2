// Package pool manages a set of per-host Sessions, reusing Active ones
// across callers instead of reconnecting and re-bootstrapping for every
// request.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/internal/ctxutil"
	"github.com/kestrel-run/kestrel/session"
)

// Handle is the subset of *session.Connected the pool depends on. It
// exists so tests can exercise pool bookkeeping without a live SSH
// connection underneath.
type Handle interface {
	State() session.State
	Context() (*session.Context, error)
	Ping(ctx context.Context) (time.Duration, error)
	Disconnect() error
}

var _ Handle = (*session.Connected)(nil)

// Config controls pool sizing, idle eviction, and connection retry.
type Config struct {
	// MaxConnectionsPerHost caps how many Sessions the pool holds open
	// for a single host at once.
	MaxConnectionsPerHost int
	// MaxIdleTime is how long an unused Session may sit in the pool
	// before the health check evicts it.
	MaxIdleTime time.Duration
	// ConnectionTimeout bounds a single connection attempt.
	ConnectionTimeout time.Duration
	// HealthCheckInterval is how often the background task sweeps for
	// idle or dead Sessions.
	HealthCheckInterval time.Duration
	// MaxRetries is the maximum number of connection attempts per Get
	// call, including the first.
	MaxRetries int
	// RetryDelay is the initial backoff between connection attempts.
	RetryDelay time.Duration
}

// DefaultConfig mirrors the original pool's defaults: 10 connections per
// host, a 5 minute idle ceiling, a 30 second connect timeout, a 1 minute
// health check sweep, and 3 attempts at 1 second backoff.
func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerHost: 10,
		MaxIdleTime:           5 * time.Minute,
		ConnectionTimeout:     30 * time.Second,
		HealthCheckInterval:   time.Minute,
		MaxRetries:            3,
		RetryDelay:            time.Second,
	}
}

type poolEntry struct {
	conn     Handle
	lastUsed time.Time
	healthy  bool
	useCount uint64
}

// Stats summarizes the pool's current occupancy.
type Stats struct {
	TotalConnections   int
	HealthyConnections int
	Hosts              int
}

// connector establishes a new Handle for host using cfg. The default
// dials a real Session; tests substitute a fake.
type connector func(ctx context.Context, host string, cfg session.Config) (Handle, error)

func defaultConnector(ctx context.Context, host string, cfg session.Config) (Handle, error) {
	return session.New(host, cfg).Connect(ctx)
}

// Pool holds open Sessions per host and hands them out to callers,
// creating and retrying new connections as needed.
type Pool struct {
	config    Config
	log       *slog.Logger
	connector connector

	mu          sync.Mutex
	connections map[string][]*poolEntry
	sessionCfgs map[string]session.Config

	// lifecycleCtx is done once Stop has been called, so that in-flight
	// connection attempts started by createNew are abandoned along with
	// the pool itself rather than leaking past it.
	lifecycleCtx context.Context

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// New constructs a Pool with the given Config. Call Start to begin the
// background health check sweep.
func New(config Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		config:       config,
		log:          log,
		connector:    defaultConnector,
		connections:  make(map[string][]*poolEntry),
		sessionCfgs:  make(map[string]session.Config),
		lifecycleCtx: context.Background(),
	}
}

// Start launches the background health check task. It is safe to call
// Start at most once per Pool.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.lifecycleCtx = ctx
	p.mu.Unlock()
	p.healthCancel = cancel
	p.healthDone = make(chan struct{})
	go p.healthCheckLoop(ctx)
	p.log.Info("pool: started")
}

// Stop halts the health check task and disconnects every pooled Session.
func (p *Pool) Stop() error {
	p.log.Info("pool: stopping")
	if p.healthCancel != nil {
		p.healthCancel()
		<-p.healthDone
	}

	p.mu.Lock()
	connections := p.connections
	p.connections = make(map[string][]*poolEntry)
	p.mu.Unlock()

	var errs []error
	for host, entries := range connections {
		p.log.Info("pool: closing connections", "host", host, "count", len(entries))
		for _, entry := range entries {
			if err := entry.conn.Disconnect(); err != nil {
				errs = append(errs, fmt.Errorf("pool: disconnect %s: %w", host, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pool: %d error(s) while stopping: %v", len(errs), errs)
	}
	return nil
}

// AddHost registers the session.Config used to establish new connections
// to host.
func (p *Pool) AddHost(host string, cfg session.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionCfgs[host] = cfg
	p.log.Debug("pool: added host", "host", host)
}

// Get returns a PooledConnection for host, reusing an idle Active
// Session when one is available and connecting a new one otherwise.
func (p *Pool) Get(ctx context.Context, host string) (*PooledConnection, error) {
	if entry := p.takeExisting(host); entry != nil {
		p.log.Debug("pool: reusing connection", "host", host)
		return &PooledConnection{id: uuid.New(), host: host, conn: entry.conn, pool: p}, nil
	}
	return p.createNew(ctx, host)
}

func (p *Pool) takeExisting(host string) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.connections[host]
	for i, entry := range entries {
		if entry.healthy && entry.conn.State().Status == session.StatusActive {
			entry.lastUsed = time.Now()
			entry.useCount++
			p.connections[host] = append(entries[:i:i], entries[i+1:]...)
			return entry
		}
	}
	return nil
}

func (p *Pool) createNew(ctx context.Context, host string) (*PooledConnection, error) {
	p.mu.Lock()
	if len(p.connections[host]) >= p.config.MaxConnectionsPerHost {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: maximum connections reached for host %q", host)
	}
	cfg, ok := p.sessionCfgs[host]
	lifecycleCtx := p.lifecycleCtx
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pool: no session configuration registered for host %q", host)
	}

	// Bound the attempt by whichever ends first: the caller's own context
	// or the pool's lifecycle (cancelled by Stop), so a connect retry loop
	// never outlives a pool that has been torn down.
	boundCtx, cancel := ctxutil.Merge(ctx, lifecycleCtx)
	defer cancel()

	p.log.Debug("pool: creating new connection", "host", host)
	conn, err := p.connectWithRetries(boundCtx, host, cfg)
	if err != nil {
		return nil, err
	}
	p.log.Info("pool: connected", "host", host)
	return &PooledConnection{id: uuid.New(), host: host, conn: conn, pool: p}, nil
}

// connectWithRetries attempts to establish a Session up to
// Config.MaxRetries times, backing off exponentially from RetryDelay
// between attempts, matching the original pool's fixed-attempt retry
// loop bounded by max_retries.
func (p *Pool) connectWithRetries(ctx context.Context, host string, cfg session.Config) (Handle, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryDelay
	b.MaxElapsedTime = 0

	var attempt int
	var conn Handle
	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.config.ConnectionTimeout)
		defer cancel()

		c, err := p.connector(attemptCtx, host, cfg)
		if err != nil {
			p.log.Warn("pool: connection attempt failed", "host", host, "attempt", attempt, "error", err)
			return err
		}
		conn = c
		return nil
	}

	bounded := backoff.WithMaxRetries(b, uint64(maxInt(p.config.MaxRetries-1, 0)))
	if err := backoff.Retry(operation, backoff.WithContext(bounded, ctx)); err != nil {
		return nil, fmt.Errorf("pool: all connection attempts to %q failed: %w", host, err)
	}
	return conn, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// release returns conn to the pool for host, or disconnects it if the
// pool is already at capacity or the Session is no longer Active.
func (p *Pool) release(host string, conn Handle) {
	if conn.State().Status != session.StatusActive {
		p.log.Debug("pool: not returning inactive connection", "host", host)
		_ = conn.Disconnect()
		return
	}

	p.mu.Lock()
	entries := p.connections[host]
	if len(entries) >= p.config.MaxConnectionsPerHost {
		p.mu.Unlock()
		p.log.Debug("pool: pool full, closing connection", "host", host)
		_ = conn.Disconnect()
		return
	}
	p.connections[host] = append(entries, &poolEntry{conn: conn, lastUsed: time.Now(), healthy: true, useCount: 1})
	p.mu.Unlock()
	p.log.Debug("pool: returned connection", "host", host)
}

func (p *Pool) healthCheckLoop(ctx context.Context) {
	defer close(p.healthDone)

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.log.Debug("pool: running health check")

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for host, entries := range p.connections {
		kept := entries[:0]
		for _, entry := range entries {
			if now.Sub(entry.lastUsed) > p.config.MaxIdleTime {
				p.log.Debug("pool: closing idle connection", "host", host, "use_count", entry.useCount, "reason", "idle")
				_ = entry.conn.Disconnect()
				continue
			}
			if entry.conn.State().Status != session.StatusActive {
				p.log.Debug("pool: removing unhealthy connection", "host", host, "use_count", entry.useCount, "reason", "unhealthy")
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(p.connections, host)
		} else {
			p.connections[host] = kept
		}
	}
}

// Stats reports the pool's current occupancy across all hosts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stats Stats
	for _, entries := range p.connections {
		stats.Hosts++
		for _, entry := range entries {
			stats.TotalConnections++
			if entry.healthy {
				stats.HealthyConnections++
			}
		}
	}
	return stats
}
