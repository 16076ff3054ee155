// Package errs provides structured error types and helpers for Groundfault services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a pipeline-specific error category.
type Code string

const (
	// CodeConfiguration indicates the client or recorder is not configured for the attempted operation.
	CodeConfiguration Code = "configuration"
	// CodeWouldBlock indicates a non-blocking transport call could not proceed right now.
	CodeWouldBlock Code = "would_block"
	// CodeTransport indicates a fatal transport failure.
	CodeTransport Code = "transport"
	// CodeDecode indicates a malformed wire frame or blob.
	CodeDecode Code = "decode"
	// CodeStore indicates a persistence failure.
	CodeStore Code = "store"
	// CodeConflict indicates a uniqueness conflict, e.g. a redelivered event id.
	CodeConflict Code = "conflict"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates a saturated or closed resource.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the Groundfault stack.
type E struct {
	Component string
	Code      Code
	Message   string
	EventID   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		EventID:   "",
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithEventID records the envelope id the failure relates to.
func WithEventID(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.EventID = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.EventID != "" {
		parts = append(parts, "event_id="+e.EventID)
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err carries the given pipeline error code.
func HasCode(err error, code Code) bool {
	var e *E
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsWouldBlock reports whether err represents a non-blocking retryable condition.
func IsWouldBlock(err error) bool {
	return HasCode(err, CodeWouldBlock)
}
