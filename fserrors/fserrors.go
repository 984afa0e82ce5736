// Package fserrors is the structured error taxonomy shared by every
// package in the fabric. The codec, registry, batcher, control, session
// and tool packages wrap their errors with Wrap so callers can classify
// failures by Concern and Code without string matching.
package fserrors

import "fmt"

// Concern identifies which subsystem produced the error.
type Concern string

const (
	ConcernCodec     Concern = "codec"
	ConcernRegistry  Concern = "registry"
	ConcernBatcher   Concern = "batcher"
	ConcernTransport Concern = "transport"
	ConcernControl   Concern = "control"
	ConcernSession   Concern = "session"
	ConcernJSONRPC   Concern = "jsonrpc"
	ConcernTool      Concern = "tool"
)

// Stage identifies which step within the concern failed.
type Stage string

const (
	StageDecode    Stage = "decode"
	StageEncode    Stage = "encode"
	StageValidate  Stage = "validate"
	StageRegister  Stage = "register"
	StageQuery     Stage = "query"
	StageEnqueue   Stage = "enqueue"
	StageFlush     Stage = "flush"
	StageRead      Stage = "read"
	StageWrite     Stage = "write"
	StageDispatch  Stage = "dispatch"
	StageRebind    Stage = "rebind"
	StageSend      Stage = "send"
	StageParse     Stage = "parse"
	StageCall      Stage = "call"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeMalformedFrame   Code = "malformed_frame"
	CodeRangeViolation   Code = "range_violation"
	CodeRangeExhausted   Code = "range_exhausted"
	CodeNameConflict     Code = "name_conflict"
	CodeOverloaded       Code = "overloaded"
	CodeWriteFailed      Code = "write_failed"
	CodeReadFailed       Code = "read_failed"
	CodeUnknownSubtype   Code = "unknown_subtype"
	CodeBadPayload       Code = "bad_payload"
	CodeSessionNotFound  Code = "session_not_found"
	CodeNoSseAttached    Code = "no_sse_attached"
	CodeRebindConflict   Code = "rebind_conflict"
	CodeParseError       Code = "parse_error"
	CodeInvalidRequest   Code = "invalid_request"
	CodeMethodNotFound   Code = "method_not_found"
	CodeInternalError    Code = "internal_error"
	CodeToolNotFound     Code = "tool_not_found"
	CodeNotConnected     Code = "not_connected"
	CodeTimeout          Code = "timeout"
	CodeCanceled         Code = "canceled"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Concern Concern
	Stage   Stage
	Code    Code
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Concern, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Concern, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured Error. err may be nil for synthesized failures
// that have no underlying cause.
func Wrap(concern Concern, stage Stage, code Code, err error) error {
	return &Error{Concern: concern, Stage: stage, Code: code, Err: err}
}

// Is reports whether err is an *Error carrying the given Code.
func Is(err error, code Code) bool {
	fe, ok := err.(*Error)
	if !ok {
		return false
	}
	return fe.Code == code
}
