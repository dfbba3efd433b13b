// Package errors defines the error kinds reported by the analysis layers and
// their structured form as returned to MCP clients.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a self-describing snake_case error code.
type Kind string

const (
	// Input errors: the caller can fix the arguments and retry.
	KindInvalidInput         Kind = "invalid_input"
	KindInvalidCaptureFilter Kind = "invalid_capture_filter"
	KindInvalidDisplayFilter Kind = "invalid_display_filter"
	KindInvalidErrorType     Kind = "invalid_error_type"
	KindInterfaceNotFound    Kind = "interface_not_found"

	// Environment and analyzer errors.
	KindExternalToolNotFound Kind = "external_tool_not_found"
	KindExternalToolFailure  Kind = "external_tool_failure"
	KindMalformedOutput      Kind = "malformed_output"
	KindCaptureTimeout       Kind = "capture_timeout"

	KindInternal Kind = "internal"
)

// Error is an error with a kind and an optional hint for the caller.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Param   string // offending request parameter, if any
	Err     error
}

func (e *Error) Error() string {
	var buf strings.Builder
	buf.WriteString(string(e.Kind))
	if e.Message != "" {
		buf.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		buf.WriteString(": " + e.Err.Error())
	}
	return buf.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with the default hint for it.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Hint:    defaultHint(kind),
	}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.Err = err
	return e
}

// InvalidParam is a shorthand for an invalid_input error naming the parameter.
func InvalidParam(param string, format string, args ...any) *Error {
	e := New(KindInvalidInput, format, args...)
	e.Param = param
	return e
}

// WithHint returns a copy of e with the hint replaced.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// WithParam returns a copy of e naming the offending parameter.
func (e *Error) WithParam(param string) *Error {
	cp := *e
	cp.Param = param
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a request failing with kind may succeed if
// repeated unchanged.
func (k Kind) Retryable() bool {
	switch k {
	case KindCaptureTimeout, KindExternalToolFailure:
		return true
	default:
		return false
	}
}

// Payload is the structured error body sent to MCP clients.
type Payload struct {
	Error     Kind   `json:"error"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Param     string `json:"param,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Describe converts any error into a Payload.
func Describe(err error) Payload {
	var e *Error
	if !errors.As(err, &e) {
		return Payload{
			Error:   KindInternal,
			Message: err.Error(),
		}
	}
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	return Payload{
		Error:     e.Kind,
		Message:   msg,
		Hint:      e.Hint,
		Param:     e.Param,
		Retryable: e.Kind.Retryable(),
	}
}

func defaultHint(kind Kind) string {
	switch kind {
	case KindInvalidCaptureFilter:
		return "Capture filters use BPF syntax, e.g. \"tcp port 80\" or \"host 10.0.0.1\""
	case KindInvalidDisplayFilter:
		return "Display filters use Wireshark syntax, e.g. \"tcp.port == 80\" or \"dns\""
	case KindInvalidErrorType:
		return "Use one of: all, malformed, tcp, retransmission, duplicate_ack, lost_segment"
	case KindInterfaceNotFound:
		return "Call list_interfaces to see the available capture interfaces"
	case KindExternalToolNotFound:
		return "Install Wireshark/tshark or start the server with --tshark-path"
	case KindCaptureTimeout:
		return "Reduce max_packets or duration, or narrow the filter"
	case KindMalformedOutput:
		return "The capture may be damaged; try a narrower display filter"
	default:
		return ""
	}
}
