// Package router multiplexes request/response correlation over a single
// transport.Connection: one read goroutine owns the connection's stdout,
// request frames are written to stdin through the frame codec's write
// mutex, and callers hand it a protocol.Message and block on its matching
// response.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/frame"
	"github.com/kestrel-run/kestrel/protocol"
	"github.com/kestrel-run/kestrel/transport"
	"golang.org/x/sync/semaphore"
)

// ErrShutdown is returned by SendMessage called after the router has shut
// down. Requests still pending at shutdown receive an InternalError
// response instead (see Shutdown).
var ErrShutdown = errors.New("router: shut down")

// ErrNoRequestID is returned when a Message wraps neither a Request nor a
// Response carrying a correlating id.
var ErrNoRequestID = errors.New("router: message has no request id")

// Router owns a connection and correlates outbound requests with inbound
// responses by request id.
type Router struct {
	codec   *frame.Codec
	conn    transport.Connection
	log     *slog.Logger
	timeout time.Duration

	sem *semaphore.Weighted

	mu      sync.Mutex
	pending map[uuid.UUID]chan protocol.Response
	closed  bool

	nextStreamID atomic.Uint32

	shutdownOnce sync.Once
	done         chan struct{}
}

// New starts a Router bound to conn. maxStreams bounds the number of
// requests that may be in flight at once; requestTimeout bounds how long
// SendMessage waits for a matching response.
func New(conn transport.Connection, maxStreams uint32, requestTimeout time.Duration, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		codec:   frame.NewCodec(),
		conn:    conn,
		log:     log,
		timeout: requestTimeout,
		sem:     semaphore.NewWeighted(int64(maxStreams)),
		pending: make(map[uuid.UUID]chan protocol.Response),
		done:    make(chan struct{}),
	}
	r.nextStreamID.Store(1)
	go r.readLoop()
	return r
}

// SendMessage sends msg and blocks until its matching response arrives,
// ctx is cancelled, the request timeout elapses, or the router shuts
// down.
func (r *Router) SendMessage(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	requestID, ok := msg.RequestIDOf()
	if !ok {
		return protocol.Response{}, ErrNoRequestID
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return protocol.Response{}, fmt.Errorf("router: acquire stream slot: %w", err)
	}
	defer r.sem.Release(1)

	respCh := make(chan protocol.Response, 1)
	if err := r.register(requestID, respCh); err != nil {
		return protocol.Response{}, err
	}
	defer r.unregister(requestID)

	streamID := r.nextStreamID.Add(1) - 1
	writeErr := make(chan error, 1)
	go func() {
		if err := r.writeMessage(streamID, msg); err != nil {
			writeErr <- err
		}
	}()

	timeoutCh := time.After(r.timeout)
	select {
	case resp := <-respCh:
		return resp, nil
	case err := <-writeErr:
		return protocol.Response{}, fmt.Errorf("router: send message: %w", err)
	case <-timeoutCh:
		return protocol.Response{}, fmt.Errorf("router: request %s: %w", requestID, context.DeadlineExceeded)
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	case <-r.done:
		select {
		case resp := <-respCh:
			return resp, nil
		default:
			return protocol.Response{}, ErrShutdown
		}
	}
}

func (r *Router) register(requestID uuid.UUID, ch chan protocol.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	r.pending[requestID] = ch
	return nil
}

func (r *Router) unregister(requestID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, requestID)
}

func (r *Router) writeMessage(streamID uint32, msg protocol.Message) error {
	payload, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	return r.codec.Write(r.conn.Stdin(), frame.Data(streamID, 0, payload))
}

// readLoop owns the connection's stdout for the router's lifetime,
// dispatching each decoded response to its waiting SendMessage caller.
func (r *Router) readLoop() {
	defer close(r.done)

	reader := frame.BufferedReader(r.conn.Stdout())
	for {
		f, err := r.codec.Read(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Error("router: frame read failed", "error", err)
			}
			r.drain()
			return
		}

		if f.IsEndStream() || f.IsError() {
			continue
		}

		msg, err := protocol.Unmarshal(f.Payload)
		if err != nil {
			r.log.Error("router: malformed incoming message", "error", err)
			continue
		}
		r.handleMessage(msg)
	}
}

func (r *Router) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.MessageTypeResponse:
		if msg.Response == nil {
			r.log.Warn("router: response message missing response payload")
			return
		}
		r.deliver(*msg.Response)
	case protocol.MessageTypeRequest:
		r.log.Warn("router: received unexpected request from remote agent")
	default:
		r.log.Warn("router: unknown message type", "type", msg.Type)
	}
}

func (r *Router) deliver(resp protocol.Response) {
	r.mu.Lock()
	ch, ok := r.pending[resp.RequestID]
	if ok {
		delete(r.pending, resp.RequestID)
	}
	r.mu.Unlock()

	if !ok {
		r.log.Warn("router: response for unknown request", "request_id", resp.RequestID)
		return
	}
	select {
	case ch <- resp:
	default:
		r.log.Warn("router: response receiver not ready, dropping", "request_id", resp.RequestID)
	}
}

// Shutdown stops the router, failing every still-pending request with an
// InternalError response and closing the underlying connection.
func (r *Router) Shutdown() error {
	var closeErr error
	r.shutdownOnce.Do(func() {
		r.drain()
		closeErr = r.conn.Close()
	})
	return closeErr
}

// drain cancels every pending request with an InternalError response, the
// same shape the remote agent would send for "Router shutdown".
func (r *Router) drain() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.pending
	r.pending = make(map[uuid.UUID]chan protocol.Response)
	r.mu.Unlock()

	rec := protocol.NewErrorRecord(protocol.ErrorCodeInternalError, "Router shutdown")
	for requestID, ch := range pending {
		select {
		case ch <- protocol.NewErrorResponse(requestID, rec):
		default:
		}
	}
	r.log.Info("router: shutdown complete")
}
