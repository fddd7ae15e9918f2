// Package protocol defines the closed set of request/response message
// kinds carried as frame payloads, and the canonical tag used to route a
// request to its handler (spec.md §4.2).
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestKind is the closed set of request variants.
type RequestKind string

const (
	KindProcessExec RequestKind = "process_exec"
	KindFileGet     RequestKind = "file_get"
	KindFilePut     RequestKind = "file_put"
	KindDirList     RequestKind = "dir_list"
	KindWasmExec    RequestKind = "wasm_exec"
	KindJSONCall    RequestKind = "json_call"
	KindPing        RequestKind = "ping"
	KindPtyExec     RequestKind = "pty_exec"
)

// ProcessExecRequest spawns a process and captures its output.
type ProcessExecRequest struct {
	Command        []string          `cbor:"1,keyasint"`
	Env            map[string]string `cbor:"2,keyasint,omitempty"`
	Cwd            string            `cbor:"3,keyasint,omitempty"`
	Stdin          []byte            `cbor:"4,keyasint,omitempty"`
	TimeoutSeconds *uint64           `cbor:"5,keyasint,omitempty"`
}

// ByteRange is a half-open [Start, End) range, clamped to file size by the handler.
type ByteRange struct {
	Start uint64 `cbor:"1,keyasint"`
	End   uint64 `cbor:"2,keyasint"`
}

// FileGetRequest reads file content, optionally a byte range.
type FileGetRequest struct {
	Path  string     `cbor:"1,keyasint"`
	Range *ByteRange `cbor:"2,keyasint,omitempty"`
}

// FilePutRequest writes file content.
type FilePutRequest struct {
	Path       string  `cbor:"1,keyasint"`
	Content    []byte  `cbor:"2,keyasint"`
	Mode       *uint32 `cbor:"3,keyasint,omitempty"`
	CreateDirs bool    `cbor:"4,keyasint"`
}

// DirListRequest lists directory entries.
type DirListRequest struct {
	Path          string `cbor:"1,keyasint"`
	IncludeHidden bool   `cbor:"2,keyasint"`
	Recursive     bool   `cbor:"3,keyasint"`
}

// WasmExecRequest executes a WebAssembly module with byte-stream stdio.
type WasmExecRequest struct {
	Module         []byte  `cbor:"1,keyasint"`
	Input          []byte  `cbor:"2,keyasint,omitempty"`
	TimeoutSeconds *uint64 `cbor:"3,keyasint,omitempty"`
}

// JSONCallRequest invokes a named method with a JSON-encoded parameter blob.
type JSONCallRequest struct {
	Method string `cbor:"1,keyasint"`
	Params []byte `cbor:"2,keyasint,omitempty"`
}

// PingRequest carries a client timestamp (seconds since Unix epoch).
type PingRequest struct {
	Timestamp uint64 `cbor:"1,keyasint"`
}

// PrivilegeMethod is the closed set of privilege-escalation mechanisms.
type PrivilegeMethod string

const (
	PrivilegeSudo   PrivilegeMethod = "sudo"
	PrivilegeSu     PrivilegeMethod = "su"
	PrivilegeDoas   PrivilegeMethod = "doas"
	PrivilegeCustom PrivilegeMethod = "custom"
)

// Credentials is an optional username/password pair for privilege escalation.
type Credentials struct {
	Username string `cbor:"1,keyasint"`
	Password string `cbor:"2,keyasint"`
}

// PrivilegeEscalation configures how PtyExec should elevate privileges
// before running its command.
type PrivilegeEscalation struct {
	Method         PrivilegeMethod `cbor:"1,keyasint"`
	CustomCommand  string          `cbor:"2,keyasint,omitempty"` // used when Method == PrivilegeCustom
	User           string          `cbor:"3,keyasint,omitempty"`
	Credentials    *Credentials    `cbor:"4,keyasint,omitempty"`
	PromptPatterns []string        `cbor:"5,keyasint,omitempty"`
}

// PtyExecRequest runs a command with an optional privilege-escalation preamble.
type PtyExecRequest struct {
	Command        []string             `cbor:"1,keyasint"`
	Env            map[string]string    `cbor:"2,keyasint,omitempty"`
	Cwd            string               `cbor:"3,keyasint,omitempty"`
	Privilege      *PrivilegeEscalation `cbor:"4,keyasint,omitempty"`
	TimeoutSeconds *uint64              `cbor:"5,keyasint,omitempty"`
}

// Request is the tagged union of request variants. Exactly one of the
// kind-specific fields is populated, matching Kind.
type Request struct {
	ID   uuid.UUID   `cbor:"1,keyasint"`
	Kind RequestKind `cbor:"2,keyasint"`

	ProcessExec *ProcessExecRequest `cbor:"10,keyasint,omitempty"`
	FileGet     *FileGetRequest     `cbor:"11,keyasint,omitempty"`
	FilePut     *FilePutRequest     `cbor:"12,keyasint,omitempty"`
	DirList     *DirListRequest     `cbor:"13,keyasint,omitempty"`
	WasmExec    *WasmExecRequest    `cbor:"14,keyasint,omitempty"`
	JSONCall    *JSONCallRequest    `cbor:"15,keyasint,omitempty"`
	Ping        *PingRequest        `cbor:"16,keyasint,omitempty"`
	PtyExec     *PtyExecRequest     `cbor:"17,keyasint,omitempty"`
}

// NewProcessExecRequest builds a ProcessExec request with a fresh id.
func NewProcessExecRequest(p ProcessExecRequest) Request {
	return Request{ID: uuid.New(), Kind: KindProcessExec, ProcessExec: &p}
}

// NewFileGetRequest builds a FileGet request with a fresh id.
func NewFileGetRequest(p FileGetRequest) Request {
	return Request{ID: uuid.New(), Kind: KindFileGet, FileGet: &p}
}

// NewFilePutRequest builds a FilePut request with a fresh id.
func NewFilePutRequest(p FilePutRequest) Request {
	return Request{ID: uuid.New(), Kind: KindFilePut, FilePut: &p}
}

// NewDirListRequest builds a DirList request with a fresh id.
func NewDirListRequest(p DirListRequest) Request {
	return Request{ID: uuid.New(), Kind: KindDirList, DirList: &p}
}

// NewWasmExecRequest builds a WasmExec request with a fresh id.
func NewWasmExecRequest(p WasmExecRequest) Request {
	return Request{ID: uuid.New(), Kind: KindWasmExec, WasmExec: &p}
}

// NewJSONCallRequest builds a JsonCall request with a fresh id.
func NewJSONCallRequest(p JSONCallRequest) Request {
	return Request{ID: uuid.New(), Kind: KindJSONCall, JSONCall: &p}
}

// NewPingRequest builds a Ping request with a fresh id.
func NewPingRequest(p PingRequest) Request {
	return Request{ID: uuid.New(), Kind: KindPing, Ping: &p}
}

// NewPtyExecRequest builds a PtyExec request with a fresh id.
func NewPtyExecRequest(p PtyExecRequest) Request {
	return Request{ID: uuid.New(), Kind: KindPtyExec, PtyExec: &p}
}

// HandlerTag returns the stable dispatch-table key for this request's kind.
// The mapping is fixed per spec.md §4.2 and cannot fail: the wire schema
// enumerates the closed set of kinds.
func (r Request) HandlerTag() string {
	return string(r.Kind)
}

// Validate reports a basic structural error for requests that carry no
// parameters for their declared kind (a decode produced a Kind with no
// matching payload, which should not happen for well-formed wire bytes).
func (r Request) Validate() error {
	switch r.Kind {
	case KindProcessExec:
		if r.ProcessExec == nil {
			return fmt.Errorf("protocol: process_exec request missing parameters")
		}
	case KindFileGet:
		if r.FileGet == nil {
			return fmt.Errorf("protocol: file_get request missing parameters")
		}
	case KindFilePut:
		if r.FilePut == nil {
			return fmt.Errorf("protocol: file_put request missing parameters")
		}
	case KindDirList:
		if r.DirList == nil {
			return fmt.Errorf("protocol: dir_list request missing parameters")
		}
	case KindWasmExec:
		if r.WasmExec == nil {
			return fmt.Errorf("protocol: wasm_exec request missing parameters")
		}
	case KindJSONCall:
		if r.JSONCall == nil {
			return fmt.Errorf("protocol: json_call request missing parameters")
		}
	case KindPing:
		if r.Ping == nil {
			return fmt.Errorf("protocol: ping request missing parameters")
		}
	case KindPtyExec:
		if r.PtyExec == nil {
			return fmt.Errorf("protocol: pty_exec request missing parameters")
		}
	default:
		return fmt.Errorf("protocol: unknown request kind %q", r.Kind)
	}
	return nil
}

// FileMetadata describes a file or directory entry.
type FileMetadata struct {
	Size       uint64    `cbor:"1,keyasint"`
	Mode       uint32    `cbor:"2,keyasint"`
	Modified   time.Time `cbor:"3,keyasint"`
	IsDir      bool      `cbor:"4,keyasint"`
	IsSymlink  bool      `cbor:"5,keyasint"`
}

// DirEntry is one entry returned by DirList.
type DirEntry struct {
	Name     string       `cbor:"1,keyasint"`
	Path     string       `cbor:"2,keyasint"`
	Metadata FileMetadata `cbor:"3,keyasint"`
}

// ProcessResult answers ProcessExec.
type ProcessResult struct {
	ExitCode   int32  `cbor:"1,keyasint"`
	Stdout     []byte `cbor:"2,keyasint,omitempty"`
	Stderr     []byte `cbor:"3,keyasint,omitempty"`
	DurationMS uint64 `cbor:"4,keyasint"`
}

// FileContent answers FileGet.
type FileContent struct {
	Content  []byte       `cbor:"1,keyasint,omitempty"`
	Metadata FileMetadata `cbor:"2,keyasint"`
}

// FilePutResult answers FilePut.
type FilePutResult struct {
	BytesWritten uint64 `cbor:"1,keyasint"`
}

// DirListing answers DirList.
type DirListing struct {
	Entries []DirEntry `cbor:"1,keyasint,omitempty"`
}

// WasmResult answers WasmExec.
type WasmResult struct {
	Output     []byte `cbor:"1,keyasint,omitempty"`
	DurationMS uint64 `cbor:"2,keyasint"`
}

// JSONResult answers JsonCall: UTF-8 JSON bytes.
type JSONResult struct {
	Result []byte `cbor:"1,keyasint,omitempty"`
}

// Pong answers Ping.
type Pong struct {
	Timestamp         uint64 `cbor:"1,keyasint"`
	ResponseTimestamp uint64 `cbor:"2,keyasint"`
}

// PtyResult answers PtyExec: stdout and stderr merged into one ordered stream.
type PtyResult struct {
	ExitCode   int32  `cbor:"1,keyasint"`
	Output     []byte `cbor:"2,keyasint,omitempty"`
	DurationMS uint64 `cbor:"3,keyasint"`
}

// ResponseKind is the closed set of response variants.
type ResponseKind string

const (
	RespProcessResult  ResponseKind = "process_result"
	RespFileContent    ResponseKind = "file_content"
	RespFilePutResult  ResponseKind = "file_put_result"
	RespDirListing     ResponseKind = "dir_listing"
	RespWasmResult     ResponseKind = "wasm_result"
	RespJSONResult     ResponseKind = "json_result"
	RespPong           ResponseKind = "pong"
	RespPtyResult      ResponseKind = "pty_result"
	RespError          ResponseKind = "error"
)

// Response is the tagged union of response variants, all correlated to a
// request by RequestID.
type Response struct {
	RequestID uuid.UUID    `cbor:"1,keyasint"`
	Kind      ResponseKind `cbor:"2,keyasint"`

	ProcessResult *ProcessResult `cbor:"10,keyasint,omitempty"`
	FileContent   *FileContent   `cbor:"11,keyasint,omitempty"`
	FilePutResult *FilePutResult `cbor:"12,keyasint,omitempty"`
	DirListing    *DirListing    `cbor:"13,keyasint,omitempty"`
	WasmResult    *WasmResult    `cbor:"14,keyasint,omitempty"`
	JSONResult    *JSONResult    `cbor:"15,keyasint,omitempty"`
	Pong          *Pong          `cbor:"16,keyasint,omitempty"`
	PtyResult     *PtyResult     `cbor:"17,keyasint,omitempty"`
	Error         *KestrelError  `cbor:"18,keyasint,omitempty"`
}

// NewErrorResponse builds an Error response correlated to requestID.
func NewErrorResponse(requestID uuid.UUID, rec KestrelError) Response {
	return Response{RequestID: requestID, Kind: RespError, Error: &rec}
}

// IsError reports whether this response carries an Error payload.
func (r Response) IsError() bool {
	return r.Kind == RespError && r.Error != nil
}

// MessageType distinguishes the two Message branches.
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
)

// Message is the sum type {Request(req), Response(resp)} carried as a
// frame payload.
type Message struct {
	Type     MessageType `cbor:"1,keyasint"`
	Request  *Request    `cbor:"2,keyasint,omitempty"`
	Response *Response   `cbor:"3,keyasint,omitempty"`
}

// WrapRequest wraps r as a Message.
func WrapRequest(r Request) Message {
	return Message{Type: MessageTypeRequest, Request: &r}
}

// WrapResponse wraps r as a Message.
func WrapResponse(r Response) Message {
	return Message{Type: MessageTypeResponse, Response: &r}
}

// RequestIDOf returns the correlating request id carried by m, whether it
// is a request or a response, and false if neither field is populated.
func (m Message) RequestIDOf() (uuid.UUID, bool) {
	switch m.Type {
	case MessageTypeRequest:
		if m.Request != nil {
			return m.Request.ID, true
		}
	case MessageTypeResponse:
		if m.Response != nil {
			return m.Response.RequestID, true
		}
	}
	return uuid.UUID{}, false
}
