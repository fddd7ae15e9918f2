package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/session"
)

// PooledConnection wraps a Session checked out from a Pool. Callers must
// call Release when finished so the Session can be reused by a later
// Get, instead of relying on garbage collection or a destructor to
// return it automatically.
type PooledConnection struct {
	id   uuid.UUID
	host string
	conn Handle
	pool *Pool

	released bool
}

// ID returns this checkout's unique identifier.
func (pc *PooledConnection) ID() uuid.UUID { return pc.id }

// Host returns the host key this connection was checked out for.
func (pc *PooledConnection) Host() string { return pc.host }

// Session returns the underlying Handle.
func (pc *PooledConnection) Session() Handle { return pc.conn }

// Context returns a request-issuing Context bound to the underlying
// session, failing if the session is no longer Active.
func (pc *PooledConnection) Context() (*session.Context, error) {
	return pc.conn.Context()
}

// Ping measures round-trip latency over the underlying session.
func (pc *PooledConnection) Ping(ctx context.Context) (time.Duration, error) {
	return pc.conn.Ping(ctx)
}

// IsConnected reports whether the underlying session is still Active.
func (pc *PooledConnection) IsConnected() bool {
	return pc.conn.State().Status == session.StatusActive
}

// Release returns the underlying Session to the pool for reuse, or
// disconnects it if the pool has no room or the Session is unhealthy.
// Calling Release more than once is a no-op.
func (pc *PooledConnection) Release() {
	if pc.released {
		return
	}
	pc.released = true
	pc.pool.release(pc.host, pc.conn)
}
