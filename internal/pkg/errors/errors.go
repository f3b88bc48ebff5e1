// Package errors defines the coded errors used across edcomposer. A code
// decides how a failure is retried by the orchestrator and which HTTP status
// the API answers with.
package errors

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"runtime"
	"strings"
)

type Code string

const (
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeTimeout         Code = "TIMEOUT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeResourceExhaust Code = "RESOURCE_EXHAUSTED"
	CodeCancelled       Code = "CANCELLED"
)

// Render lifecycle codes.
const (
	// CodeSubmission marks a render request the backend rejected or never received.
	CodeSubmission Code = "SUBMISSION_ERROR"
	// CodeTransport marks a network failure or a 5xx answer from the backend.
	CodeTransport         Code = "TRANSPORT_ERROR"
	CodePollTransient     Code = "POLL_TRANSIENT"
	CodePollFatal         Code = "POLL_FATAL"
	CodePollExhausted     Code = "POLL_EXHAUSTED"
	CodeMalformedResponse Code = "MALFORMED_RESPONSE"
	// CodeRenderFailed marks a job the backend itself reported as failed.
	CodeRenderFailed Code = "RENDER_FAILED"
)

// statusByCode maps codes to HTTP statuses; anything absent is a 500.
var statusByCode = map[Code]int{
	CodeValidation:        http.StatusBadRequest,
	CodeBadRequest:        http.StatusBadRequest,
	CodeNotFound:          http.StatusNotFound,
	CodeConflict:          http.StatusConflict,
	CodeResourceExhaust:   http.StatusTooManyRequests,
	CodeUnavailable:       http.StatusServiceUnavailable,
	CodePollTransient:     http.StatusServiceUnavailable,
	CodeTimeout:           http.StatusGatewayTimeout,
	CodeSubmission:        http.StatusBadGateway,
	CodeTransport:         http.StatusBadGateway,
	CodePollFatal:         http.StatusBadGateway,
	CodePollExhausted:     http.StatusBadGateway,
	CodeMalformedResponse: http.StatusBadGateway,
	CodeRenderFailed:      http.StatusBadGateway,
}

// transientCodes are failures a poll loop may retry.
var transientCodes = map[Code]bool{
	CodeTransport:       true,
	CodePollTransient:   true,
	CodeTimeout:         true,
	CodeUnavailable:     true,
	CodeResourceExhaust: true,
}

// Error is a coded error. Op names the failing operation, e.g.
// "render.submit".
type Error struct {
	Code    Code
	Message string
	Op      string
	Err     error
	Fields  map[string]any
	Stack   []Frame
}

type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error renders as "op: [CODE] message: cause", omitting empty parts.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	msg := e.Message
	if e.Code != "" {
		msg = "[" + string(e.Code) + "] " + msg
	}
	parts = append(parts, msg)
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
	return e
}

func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// StackTrace formats Stack one frame per line.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// build records the stack of the exported constructor's caller.
func build(code Code, op, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Op: op, Err: cause, Stack: callers(3)}
}

func New(code Code, message string) *Error {
	return build(code, "", message, nil)
}

func Newf(code Code, format string, args ...any) *Error {
	return build(code, "", fmt.Sprintf(format, args...), nil)
}

// Wrap adds op and message to err. A coded err keeps its code and a copy of
// its fields; anything else becomes CodeInternal. Wrap(nil) is nil.
func Wrap(err error, op, message string) *Error {
	if err == nil {
		return nil
	}
	w := build(CodeInternal, op, message, err)
	var inner *Error
	if errors.As(err, &inner) {
		w.Code, w.Fields = inner.Code, maps.Clone(inner.Fields)
	}
	return w
}

func Wrapf(err error, op, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, op, fmt.Sprintf(format, args...))
}

// WrapWithCode is Wrap with an explicit code.
func WrapWithCode(err error, code Code, op, message string) *Error {
	if err == nil {
		return nil
	}
	return build(code, op, message, err)
}

func NotFound(resource, id string) *Error {
	e := build(CodeNotFound, "", resource+" not found: "+id, nil)
	e.Fields = map[string]any{"resource": resource, "id": id}
	return e
}

func Validation(message string) *Error {
	return build(CodeValidation, "", message, nil)
}

// ValidationField is a validation error naming the offending input field.
func ValidationField(field, message string) *Error {
	e := build(CodeValidation, "", message, nil)
	e.Fields = map[string]any{"field": field}
	return e
}

func Unavailable(service string) *Error {
	e := build(CodeUnavailable, "", "service unavailable: "+service, nil)
	e.Fields = map[string]any{"service": service}
	return e
}

func outermost(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// GetCode returns the outermost code in err's chain, or CodeInternal.
func GetCode(err error) Code {
	if e, ok := outermost(err); ok {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	if e, ok := outermost(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	if e, ok := outermost(err); ok && len(e.Fields) > 0 {
		return e.Fields
	}
	return nil
}

// IsCode compares code with the outermost coded layer only.
func IsCode(err error, code Code) bool { return GetCode(err) == code }

// HasCode reports whether any layer of err carries code.
func HasCode(err error, code Code) bool { return errors.Is(err, &Error{Code: code}) }

func IsNotFound(err error) bool   { return IsCode(err, CodeNotFound) }
func IsValidation(err error) bool { return IsCode(err, CodeValidation) }

// IsTransient reports whether a backend call failing with err may succeed
// when repeated.
func IsTransient(err error) bool { return transientCodes[GetCode(err)] }

// Detail is the user-facing text for err: the outermost coded message
// followed by the innermost cause.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	e, ok := outermost(err)
	if !ok || e.Message == "" {
		return err.Error()
	}
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + innermost(e.Err)
}

func innermost(err error) string {
	for {
		e, ok := outermost(err)
		if !ok || e.Message == "" {
			return err.Error()
		}
		if e.Err == nil {
			return e.Message
		}
		err = e.Err
	}
}

// callers collects up to ten non-runtime frames, skipping skip callers.
func callers(skip int) []Frame {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	it := runtime.CallersFrames(pcs[:n])

	var out []Frame
	for len(out) < 10 {
		f, more := it.Next()
		if !strings.Contains(f.File, "runtime/") {
			out = append(out, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more {
			break
		}
	}
	return out
}

func As(err error, target any) bool { return errors.As(err, target) }
func Is(err, target error) bool     { return errors.Is(err, target) }
