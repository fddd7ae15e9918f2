package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// DefaultMaxFrameSize is the default maximum serialized frame body size (16 MiB).
const DefaultMaxFrameSize = 16 * 1024 * 1024

// lengthPrefixSize is the width of the u32 big-endian length prefix.
const lengthPrefixSize = 4

// readChunkSize is the size of the scratch buffer used to pull bytes off
// the underlying reader (spec.md §5 backpressure: "bounded scratch buffer
// (8 KiB chunks)").
const readChunkSize = 8 * 1024

// FrameTooLargeError is returned at encode or decode time when a frame
// body exceeds the codec's configured maximum.
type FrameTooLargeError struct {
	Size uint32
	Max  uint32
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("frame: body size %d exceeds maximum %d", e.Size, e.Max)
}

// ErrMalformedFrame indicates a zero-length prefix or otherwise
// structurally invalid frame on the wire.
var ErrMalformedFrame = errors.New("frame: malformed frame (zero-length body is not a valid frame encoding)")

// ErrPartialFrame indicates EOF was hit mid-frame: a fatal protocol error.
var ErrPartialFrame = errors.New("frame: unexpected EOF with a partial frame buffered")

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

var decMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Codec encodes and decodes frames over a byte stream, enforcing a maximum
// frame body size. Concurrent writers are safe: Write serializes them with
// an internal mutex, and write state is independent of read state. Reads
// are not synchronized, so concurrent readers must add their own
// serialization.
type Codec struct {
	maxSize uint32

	writeMu sync.Mutex

	buf    []byte // accumulated, not-yet-consumed bytes
	scratch [readChunkSize]byte
}

// NewCodec constructs a Codec with DefaultMaxFrameSize.
func NewCodec() *Codec {
	return NewCodecWithMax(DefaultMaxFrameSize)
}

// NewCodecWithMax constructs a Codec with an explicit maximum frame body size.
func NewCodecWithMax(maxSize uint32) *Codec {
	return &Codec{maxSize: maxSize}
}

// Encode serializes a frame to bytes: a 4-byte big-endian length prefix
// followed by the CBOR-encoded frame record.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	body, err := encMode.Marshal(cborFrame{
		StreamID: f.StreamID,
		Sequence: f.Sequence,
		Flags:    uint8(f.Flags),
		Payload:  f.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("frame: encode body: %w", err)
	}
	if len(body) == 0 {
		return nil, ErrMalformedFrame
	}
	if uint32(len(body)) > c.maxSize {
		return nil, &FrameTooLargeError{Size: uint32(len(body)), Max: c.maxSize}
	}

	out := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[lengthPrefixSize:], body)
	return out, nil
}

// Write encodes f and writes it to w. Writes are serialized by an internal
// mutex so concurrent callers never interleave partial frames (spec.md §5:
// "the outbound transport writer is serialized by a mutex").
func (c *Codec) Write(w io.Writer, f Frame) error {
	buf, err := c.Encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = w.Write(buf)
	return err
}

// TryDecode attempts to decode one frame from already-buffered bytes. It
// returns (frame, true, nil) on success, (zero, false, nil) if more bytes
// are needed, or a non-nil error for malformed data. On success, the
// consumed bytes are removed from the internal buffer.
func (c *Codec) TryDecode() (Frame, bool, error) {
	if len(c.buf) < lengthPrefixSize {
		return Frame{}, false, nil
	}

	length := binary.BigEndian.Uint32(c.buf[:lengthPrefixSize])
	if length == 0 {
		return Frame{}, false, ErrMalformedFrame
	}
	if length > c.maxSize {
		return Frame{}, false, &FrameTooLargeError{Size: length, Max: c.maxSize}
	}

	total := lengthPrefixSize + int(length)
	if len(c.buf) < total {
		return Frame{}, false, nil
	}

	var cf cborFrame
	if err := decMode.Unmarshal(c.buf[lengthPrefixSize:total], &cf); err != nil {
		return Frame{}, false, fmt.Errorf("frame: decode body: %w", err)
	}

	// Consume exactly total bytes; keep remainder for the next call.
	remaining := len(c.buf) - total
	copy(c.buf, c.buf[total:])
	c.buf = c.buf[:remaining]

	return Frame{
		StreamID: cf.StreamID,
		Sequence: cf.Sequence,
		Flags:    Flags(cf.Flags),
		Payload:  cf.Payload,
	}, true, nil
}

// Feed appends bytes into the internal decode buffer without attempting a
// decode. Exposed so callers that already have bytes in hand (e.g. tests)
// can drive TryDecode directly.
func (c *Codec) Feed(b []byte) {
	c.buf = append(c.buf, b...)
}

// Read pulls bytes from r in bounded chunks until a full frame can be
// decoded, returning (frame, nil) on success, (zero, io.EOF) on a clean
// end of stream with no partial frame buffered, or a wrapped ErrPartialFrame
// if EOF arrives with bytes already buffered.
func (c *Codec) Read(r io.Reader) (Frame, error) {
	for {
		f, ok, err := c.TryDecode()
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return f, nil
		}

		n, err := r.Read(c.scratch[:])
		if n > 0 {
			c.buf = append(c.buf, c.scratch[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(c.buf) == 0 {
					return Frame{}, io.EOF
				}
				return Frame{}, fmt.Errorf("%w: %d bytes buffered", ErrPartialFrame, len(c.buf))
			}
			return Frame{}, err
		}
	}
}

// BufferedReader adapts Read to operate against a *bufio.Reader, useful
// when the transport wants its own buffering in front of the codec.
func BufferedReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, readChunkSize)
}
