package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/frame"
)

// ErrTooManyStreams is returned by CreateStream when MaxStreams is
// non-zero and already reached (Open Question resolution #2 in
// DESIGN.md: spec.md §9 notes the original leaves this unenforced).
type ErrTooManyStreams struct{ Max uint32 }

func (e *ErrTooManyStreams) Error() string {
	return fmt.Sprintf("stream: concurrent stream limit reached (%d)", e.Max)
}

// Multiplexer owns every stream on one connection: it assigns outbound
// stream ids, routes inbound frames to the owning stream's receive queue,
// and enforces per-stream sequence order and flow control (spec.md §4.3).
type Multiplexer struct {
	nextStreamID atomic.Uint32

	mu      sync.RWMutex
	streams map[uint32]*entry

	flowConfig FlowControlConfig
	maxStreams uint32 // 0 = unbounded

	outbound chan frame.Frame
}

// Option configures a Multiplexer at construction time.
type Option func(*Multiplexer)

// WithFlowControlConfig overrides the default flow control windows.
func WithFlowControlConfig(cfg FlowControlConfig) Option {
	return func(m *Multiplexer) { m.flowConfig = cfg }
}

// WithMaxStreams caps the number of concurrently open streams. Zero (the
// default) leaves the bound unenforced, matching spec.md's description of
// the original behavior; pass a positive value to enforce one.
func WithMaxStreams(max uint32) Option {
	return func(m *Multiplexer) { m.maxStreams = max }
}

// WithOutboundBuffer sets the outbound frame queue's buffer size.
func WithOutboundBuffer(size int) Option {
	return func(m *Multiplexer) { m.outbound = make(chan frame.Frame, size) }
}

// New constructs a Multiplexer. Outbound stream ids start at 1 and never
// reuse within the multiplexer's lifetime.
func New(opts ...Option) *Multiplexer {
	m := &Multiplexer{
		streams:    make(map[uint32]*entry),
		flowConfig: DefaultFlowControlConfig(),
		outbound:   make(chan frame.Frame, 64),
	}
	m.nextStreamID.Store(1)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Outbound returns the queue a connection-handler goroutine should drain
// and write to the transport.
func (m *Multiplexer) Outbound() <-chan frame.Frame {
	return m.outbound
}

func (m *Multiplexer) enqueueOutbound(f frame.Frame) {
	m.outbound <- f
}

// CreateStream allocates the next outbound stream id and registers its
// state. requestID is optional context carried for diagnostics/lookup.
func (m *Multiplexer) CreateStream(requestID *uuid.UUID) (*Handle, error) {
	m.mu.Lock()
	if m.maxStreams != 0 && uint32(len(m.streams)) >= m.maxStreams {
		m.mu.Unlock()
		return nil, &ErrTooManyStreams{Max: m.maxStreams}
	}
	id := m.nextStreamID.Add(1) - 1

	e := &entry{
		state:   Open,
		flow:    newFlowControlState(m.flowConfig.InitialWindow),
		inbound: make(chan frame.Frame, 16),
		done:    make(chan struct{}),
	}
	if requestID != nil {
		rid := *requestID
		e.requestID = &rid
	}
	m.streams[id] = e
	m.mu.Unlock()

	h := &Handle{streamID: id, mux: m, entry: e}
	if requestID != nil {
		h.requestID = *requestID
		h.hasReqID = true
	}
	return h, nil
}

// RegisterInbound registers a stream id initiated by the *peer* (e.g. the
// agent side answering on the stream id the request arrived on). Used when
// this side did not call CreateStream for the id.
func (m *Multiplexer) RegisterInbound(streamID uint32) *Handle {
	m.mu.Lock()
	e, ok := m.streams[streamID]
	if !ok {
		e = &entry{
			state:   Open,
			flow:    newFlowControlState(m.flowConfig.InitialWindow),
			inbound: make(chan frame.Frame, 16),
			done:    make(chan struct{}),
		}
		m.streams[streamID] = e
	}
	m.mu.Unlock()
	return &Handle{streamID: streamID, mux: m, entry: e}
}

// RouteFrame implements spec.md §4.3's inbound routing algorithm.
func (m *Multiplexer) RouteFrame(f frame.Frame) error {
	m.mu.RLock()
	e, ok := m.streams[f.StreamID]
	m.mu.RUnlock()
	if !ok {
		return &ErrInvalidStreamID{StreamID: f.StreamID}
	}

	e.mu.Lock()
	if f.Sequence != e.nextExpectedSeq {
		want := e.nextExpectedSeq
		e.mu.Unlock()
		m.removeStream(f.StreamID)
		return &ErrInvalidFrame{StreamID: f.StreamID, Got: f.Sequence, Want: want}
	}
	e.nextExpectedSeq++

	if f.IsEndStream() {
		if e.state == HalfClosed || e.state == Open {
			e.state = Closed
		}
	}
	e.mu.Unlock()

	select {
	case e.inbound <- f:
	case <-e.done:
		m.removeStream(f.StreamID)
	default:
		// Receive queue full and no one draining fast enough; fall back
		// to a blocking send racing against the done signal so a slow
		// consumer doesn't lose frames under burst load.
		select {
		case e.inbound <- f:
		case <-e.done:
			m.removeStream(f.StreamID)
		}
	}
	return nil
}

// StreamState returns the current state of streamID, if it exists.
func (m *Multiplexer) StreamState(streamID uint32) (State, bool) {
	m.mu.RLock()
	e, ok := m.streams[streamID]
	m.mu.RUnlock()
	if !ok {
		return Closed, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// StreamCount returns the number of tracked streams.
func (m *Multiplexer) StreamCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// CloseStream force-closes and evicts streamID.
func (m *Multiplexer) CloseStream(streamID uint32) error {
	m.mu.Lock()
	e, ok := m.streams[streamID]
	if !ok {
		m.mu.Unlock()
		return &ErrInvalidStreamID{StreamID: streamID}
	}
	delete(m.streams, streamID)
	m.mu.Unlock()

	e.mu.Lock()
	e.state = Closed
	e.mu.Unlock()
	e.closeDone()
	closeInboundSafely(e.inbound)
	return nil
}

func (m *Multiplexer) removeStream(streamID uint32) {
	m.mu.Lock()
	e, ok := m.streams[streamID]
	if ok {
		delete(m.streams, streamID)
	}
	m.mu.Unlock()
	if ok {
		e.closeDone()
		closeInboundSafely(e.inbound)
	}
}

func closeInboundSafely(ch chan frame.Frame) {
	defer func() { _ = recover() }()
	close(ch)
}

// Maintenance removes every stream observed as Closed. Callers run this
// periodically or after draining to reclaim memory (spec.md §4.3: "Closed
// streams are eligible for removal on next maintenance pass").
func (m *Multiplexer) Maintenance() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.streams {
		e.mu.Lock()
		closed := e.state == Closed
		e.mu.Unlock()
		if closed {
			delete(m.streams, id)
			e.closeDone()
			closeInboundSafely(e.inbound)
			removed++
		}
	}
	return removed
}
