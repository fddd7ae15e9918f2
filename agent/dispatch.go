package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kestrel-run/kestrel/frame"
	"github.com/kestrel-run/kestrel/protocol"
)

// Loop is the agent-side dispatch loop: a codec bound to stdin/stdout and
// a handler registry. Shutdown is observed between frames, not during a
// frame read.
type Loop struct {
	codec    *frame.Codec
	in       io.Reader
	out      io.Writer
	registry *Registry
	log      *slog.Logger
}

// NewLoop constructs a dispatch Loop reading frames from in and writing
// response frames to out.
func NewLoop(in io.Reader, out io.Writer, registry *Registry, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		codec:    frame.NewCodec(),
		in:       in,
		out:      out,
		registry: registry,
		log:      log,
	}
}

// Run drives the loop until ctx is cancelled, in reaches EOF, or a fatal
// codec error occurs. It implements spec.md §4.6's per-frame algorithm.
// ctx is checked before each frame read; a read blocked on in is not
// interrupted by cancellation, so Run returns only once that read ends.
func (l *Loop) Run(ctx context.Context) error {
	reader := frame.BufferedReader(l.in)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, err := l.codec.Read(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if f.IsError() {
			l.log.Warn("agent: received error frame", "stream_id", f.StreamID, "sequence", f.Sequence)
			continue
		}
		if f.IsEndStream() {
			continue
		}

		if err := l.handleFrame(ctx, f); err != nil {
			l.log.Error("agent: failed to write response frame", "error", err)
			return err
		}
	}
}

func (l *Loop) handleFrame(ctx context.Context, f frame.Frame) error {
	msg, err := protocol.Unmarshal(f.Payload)
	if err != nil {
		rec := protocol.WrapError(protocol.ErrorCodeInvalidRequest, fmt.Errorf("malformed request payload: %w", err))
		return l.writeErrorFrame(f.StreamID, f.Sequence, rec)
	}

	switch msg.Type {
	case protocol.MessageTypeResponse:
		l.log.Warn("agent: unexpected response message, discarding", "stream_id", f.StreamID)
		return nil
	case protocol.MessageTypeRequest:
		if msg.Request == nil {
			rec := protocol.NewErrorRecord(protocol.ErrorCodeInvalidRequest, "request message missing request payload")
			return l.writeErrorFrame(f.StreamID, f.Sequence, rec)
		}
		resp := l.registry.Dispatch(ctx, *msg.Request)
		return l.writeResponseFrame(f.StreamID, f.Sequence, resp)
	default:
		rec := protocol.NewErrorRecord(protocol.ErrorCodeInvalidRequest, "unknown message type")
		return l.writeErrorFrame(f.StreamID, f.Sequence, rec)
	}
}

func (l *Loop) writeResponseFrame(streamID, sequence uint32, resp protocol.Response) error {
	payload, err := protocol.Marshal(protocol.WrapResponse(resp))
	if err != nil {
		return err
	}
	return l.codec.Write(l.out, frame.Data(streamID, sequence, payload))
}

func (l *Loop) writeErrorFrame(streamID, sequence uint32, rec protocol.KestrelError) error {
	// Report the malformed-request failure as a normal Error response so
	// the caller's correlation map is still satisfied; a raw frame.Error
	// flag would have no request id to route by.
	resp := protocol.Response{Kind: protocol.RespError, Error: &rec}
	return l.writeResponseFrame(streamID, sequence, resp)
}
