// Package frame implements the bit-exact wire framing used by the kestrel
// RPC protocol: a u32 big-endian length prefix followed by a CBOR-encoded
// frame record.
package frame

// Flags is a bitset carried on every frame.
type Flags uint8

const (
	// None marks a frame with no special meaning beyond its payload.
	None Flags = 0
	// EndStream transitions the owning stream to closed.
	EndStream Flags = 1 << 0
	// ErrorFlag carries a serialized error record as the payload.
	ErrorFlag Flags = 1 << 1
	// FlowControl carries a window-update payload.
	FlowControl Flags = 1 << 2
)

// Has reports whether f has any of other's bits set.
func (f Flags) Has(other Flags) bool {
	return f&other != 0
}

// Set returns f with other's bits set.
func (f Flags) Set(other Flags) Flags {
	return f | other
}

// Clear returns f with other's bits cleared.
func (f Flags) Clear(other Flags) Flags {
	return f &^ other
}

// Frame is the unit of transport-visible framing: (stream_id, sequence,
// flags, payload).
type Frame struct {
	StreamID uint32
	Sequence uint32
	Flags    Flags
	Payload  []byte
}

// New builds a frame with explicit flags.
func New(streamID, sequence uint32, flags Flags, payload []byte) Frame {
	return Frame{StreamID: streamID, Sequence: sequence, Flags: flags, Payload: payload}
}

// Data builds a plain data frame.
func Data(streamID, sequence uint32, payload []byte) Frame {
	return New(streamID, sequence, None, payload)
}

// End builds an end-of-stream frame with an empty payload.
func End(streamID, sequence uint32) Frame {
	return New(streamID, sequence, EndStream, nil)
}

// Error builds an error frame whose payload is a serialized error record.
func Error(streamID, sequence uint32, payload []byte) Frame {
	return New(streamID, sequence, ErrorFlag, payload)
}

// PayloadSize returns the number of payload bytes.
func (f Frame) PayloadSize() int {
	return len(f.Payload)
}

// IsEndStream reports whether the EndStream flag is set.
func (f Frame) IsEndStream() bool {
	return f.Flags.Has(EndStream)
}

// IsError reports whether the ErrorFlag flag is set.
func (f Frame) IsError() bool {
	return f.Flags.Has(ErrorFlag)
}

// cborFrame is the wire-level shape encoded by the codec. Field order is
// fixed so the encoding is canonical across versions.
type cborFrame struct {
	StreamID uint32 `cbor:"1,keyasint"`
	Sequence uint32 `cbor:"2,keyasint"`
	Flags    uint8  `cbor:"3,keyasint"`
	Payload  []byte `cbor:"4,keyasint"`
}
