package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kestrel-run/kestrel/frame"
)

// State is the lifecycle of one side of a stream.
type State int

const (
	Open State = iota
	HalfClosed
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case HalfClosed:
		return "HalfClosed"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ErrInvalidStreamID is returned when a frame references a stream that
// does not exist.
type ErrInvalidStreamID struct{ StreamID uint32 }

func (e *ErrInvalidStreamID) Error() string {
	return fmt.Sprintf("stream: invalid stream id %d", e.StreamID)
}

// ErrInvalidFrame is returned when a frame's sequence does not match the
// stream's next expected sequence.
type ErrInvalidFrame struct {
	StreamID uint32
	Got      uint32
	Want     uint32
}

func (e *ErrInvalidFrame) Error() string {
	return fmt.Sprintf("stream: out-of-order frame on stream %d: got sequence %d, want %d", e.StreamID, e.Got, e.Want)
}

// ErrStreamClosed is returned by send operations on a stream that is no
// longer Open.
var ErrStreamClosed = errors.New("stream: stream is closed")

// entry is the multiplexer-owned bookkeeping for one stream.
type entry struct {
	mu              sync.Mutex
	state           State
	nextExpectedSeq uint32
	requestID       *uuid.UUID
	flow            flowControlState
	inbound         chan frame.Frame
	done            chan struct{}
	doneOnce        sync.Once
}

func (e *entry) closeDone() {
	e.doneOnce.Do(func() { close(e.done) })
}

// Handle is a caller-facing, non-owning reference to one stream. It knows
// its multiplexer but the multiplexer owns the stream's lifecycle (spec.md
// §9: "non-owning back-reference").
type Handle struct {
	streamID    uint32
	mux         *Multiplexer
	entry       *entry
	nextOutSeq  atomic.Uint32
	requestID   uuid.UUID
	hasReqID    bool
}

// StreamID returns the stream's identifier.
func (h *Handle) StreamID() uint32 { return h.streamID }

// State returns the stream's current lifecycle state.
func (h *Handle) State() State {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return h.entry.state
}

// RequestID returns the request id that owns this stream, if any.
func (h *Handle) RequestID() (uuid.UUID, bool) {
	return h.requestID, h.hasReqID
}

// SendData builds a data frame with the next outbound sequence number,
// checks flow control, consumes send credits, and enqueues the frame on
// the multiplexer's outbound queue.
func (h *Handle) SendData(payload []byte) error {
	h.entry.mu.Lock()
	if h.entry.state == Closed {
		h.entry.mu.Unlock()
		return ErrStreamClosed
	}
	size := uint32(len(payload))
	if !h.entry.flow.consumeSendCredits(size) {
		avail := h.entry.flow.sendWindow
		h.entry.mu.Unlock()
		return &ErrFlowControlViolation{StreamID: h.streamID, Requested: size, Available: avail}
	}
	h.entry.mu.Unlock()

	seq := h.nextOutSeq.Add(1) - 1
	f := frame.Data(h.streamID, seq, payload)
	h.mux.enqueueOutbound(f)
	return nil
}

// SendEndStream writes an end-of-stream frame and transitions the local
// side to HalfClosed.
func (h *Handle) SendEndStream() error {
	h.entry.mu.Lock()
	if h.entry.state == Closed {
		h.entry.mu.Unlock()
		return ErrStreamClosed
	}
	h.entry.mu.Unlock()

	seq := h.nextOutSeq.Add(1) - 1
	f := frame.End(h.streamID, seq)
	h.mux.enqueueOutbound(f)

	h.entry.mu.Lock()
	if h.entry.state == Open {
		h.entry.state = HalfClosed
	}
	h.entry.mu.Unlock()
	return nil
}

// Recv returns the channel of inbound frames routed to this stream. The
// channel is closed when the stream is torn down (evicted or closed).
func (h *Handle) Recv() <-chan frame.Frame {
	return h.entry.inbound
}

// Close releases this handle's interest in the stream: it signals the
// stream's done channel and evicts the stream from the multiplexer
// immediately, closing its receive channel.
func (h *Handle) Close() {
	h.entry.closeDone()
	h.mux.removeStream(h.streamID)
}

// AckReceived credits size bytes back to the receive window, as if the
// caller had processed that much buffered data (spec.md §4.3: "acknowledging
// processed data increases recv_window and decreases bytes_buffered").
func (h *Handle) AckReceived(size uint32) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	h.entry.flow.addRecvCredits(size)
}

// ApplyWindowUpdate applies a peer-sent window update to this stream's
// send side.
func (h *Handle) ApplyWindowUpdate(delta uint32) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	h.entry.flow.updateSendWindow(delta)
}
