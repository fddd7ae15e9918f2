package protocol

import "fmt"

// ErrorCode is the closed taxonomy of error codes an agent or router can
// attach to a Response.
type ErrorCode int

const (
	ErrorCodeUnspecified ErrorCode = iota
	ErrorCodeInvalidRequest
	ErrorCodeFileNotFound
	ErrorCodePermissionDenied
	ErrorCodeProcessFailed
	ErrorCodeWasmFailed
	ErrorCodeTimeout
	ErrorCodeInternalError
	ErrorCodeUnsupported
	ErrorCodeResourceExhausted
	ErrorCodePrivilegeEscalationFailed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeInvalidRequest:
		return "InvalidRequest"
	case ErrorCodeFileNotFound:
		return "FileNotFound"
	case ErrorCodePermissionDenied:
		return "PermissionDenied"
	case ErrorCodeProcessFailed:
		return "ProcessFailed"
	case ErrorCodeWasmFailed:
		return "WasmFailed"
	case ErrorCodeTimeout:
		return "Timeout"
	case ErrorCodeInternalError:
		return "InternalError"
	case ErrorCodeUnsupported:
		return "Unsupported"
	case ErrorCodeResourceExhausted:
		return "ResourceExhausted"
	case ErrorCodePrivilegeEscalationFailed:
		return "PrivilegeEscalationFailed"
	default:
		return "Unspecified"
	}
}

// KestrelError is the wire shape of a protocol-level error: a code, a
// message, and a free-form context map (e.g. stream_id/sequence for
// stream-level failures, per SPEC_FULL.md §3). cause is never put on the
// wire (unexported, so the cbor encoder skips it); it is kept only so a
// KestrelError built from an underlying Go error by WrapError can still be
// unwrapped with errors.Is/errors.As on the constructing side.
type KestrelError struct {
	Code    ErrorCode         `cbor:"1,keyasint"`
	Message string            `cbor:"2,keyasint"`
	Context map[string]string `cbor:"3,keyasint,omitempty"`

	cause error
}

// NewErrorRecord builds a KestrelError with an empty context map and no
// wrapped cause.
func NewErrorRecord(code ErrorCode, message string) KestrelError {
	return KestrelError{Code: code, Message: message}
}

// WrapError builds a KestrelError from an existing error, keeping it as
// the Unwrap cause and using its message as the KestrelError's Message.
func WrapError(code ErrorCode, cause error) KestrelError {
	return KestrelError{Code: code, Message: cause.Error(), cause: cause}
}

// WithContext returns a copy of e with key=value merged into its context.
func (e KestrelError) WithContext(key, value string) KestrelError {
	ctx := make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	e.Context = ctx
	return e
}

// Error implements the error interface so a KestrelError can be returned
// and wrapped like any other Go error.
func (e KestrelError) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Context)
}

// Unwrap returns the error e was built from via WrapError, or nil if e
// was built from a plain message.
func (e KestrelError) Unwrap() error {
	return e.cause
}
