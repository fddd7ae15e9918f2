package stream

// FlowControlConfig configures the credit-based flow control applied to
// every stream created by a Multiplexer.
type FlowControlConfig struct {
	// InitialWindow is the starting send/receive window for a new stream.
	InitialWindow uint32
	// MaxWindow bounds how large a window may grow via window updates.
	MaxWindow uint32
	// ConnectionWindow bounds aggregate in-flight bytes across all streams
	// on the connection.
	ConnectionWindow uint32
}

// DefaultFlowControlConfig matches spec.md §4.3's defaults: 64 KiB initial
// window, 1 MiB max window, 1 MiB connection window.
func DefaultFlowControlConfig() FlowControlConfig {
	return FlowControlConfig{
		InitialWindow:    64 * 1024,
		MaxWindow:        1024 * 1024,
		ConnectionWindow: 1024 * 1024,
	}
}

// ErrFlowControlViolation is returned when a send would exceed the
// stream's available credit.
type ErrFlowControlViolation struct {
	StreamID  uint32
	Requested uint32
	Available uint32
}

func (e *ErrFlowControlViolation) Error() string {
	return "stream: flow control violation"
}

// flowControlState is the per-stream credit tracker described in spec.md §4.3.
type flowControlState struct {
	sendWindow    uint32
	recvWindow    uint32
	initialWindow uint32
	bytesInFlight uint32
	bytesBuffered uint32
}

func newFlowControlState(initialWindow uint32) flowControlState {
	return flowControlState{
		sendWindow:    initialWindow,
		recvWindow:    initialWindow,
		initialWindow: initialWindow,
	}
}

// canSend reports whether size bytes may be sent without violating the
// window or the in-flight bound.
func (f *flowControlState) canSend(size uint32) bool {
	return f.sendWindow >= size && f.bytesInFlight+size <= f.initialWindow
}

// consumeSendCredits debits size from the send window and credits it to
// bytes in flight.
func (f *flowControlState) consumeSendCredits(size uint32) bool {
	if !f.canSend(size) {
		return false
	}
	f.sendWindow -= size
	f.bytesInFlight += size
	return true
}

// addRecvCredits returns size bytes of receive credit (the peer has
// processed them) and shrinks the buffered count, saturating at zero.
func (f *flowControlState) addRecvCredits(size uint32) {
	f.recvWindow += size
	f.bytesBuffered = saturatingSub(f.bytesBuffered, size)
}

// consumeRecvCredits debits size from the receive window when data
// arrives, crediting the buffered count.
func (f *flowControlState) consumeRecvCredits(size uint32) bool {
	if f.recvWindow < size {
		return false
	}
	f.recvWindow -= size
	f.bytesBuffered += size
	return true
}

// updateSendWindow applies a peer window update, saturating bytesInFlight
// at zero.
func (f *flowControlState) updateSendWindow(delta uint32) {
	f.sendWindow += delta
	f.bytesInFlight = saturatingSub(f.bytesInFlight, delta)
}

func saturatingSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}
