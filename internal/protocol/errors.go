package protocol

import "fmt"

// Kind classifies a runtime error into the taxonomy the runtime's callers
// are expected to branch on. It deliberately mirrors a small, closed set —
// new kinds should be rare.
type Kind string

const (
	// KindInvalidOperation covers programmer errors: send-* on an
	// ended/deleted Helper, a double-end.
	KindInvalidOperation Kind = "invalid_operation"
	// KindValidation covers malformed envelope fields and accessing
	// StartEvent on a Helper that was replayed without one.
	KindValidation Kind = "validation"
	// KindNetwork covers transport-level failures: connect timeout,
	// socket errors, auth rejection. Always retryable via reconnect.
	KindNetwork Kind = "network"
	// KindProtocol covers a remote-originated errorStart on an entity.
	// Recoverable by a matching errorEnd.
	KindProtocol Kind = "protocol"
	// KindUnhandledEnvelope covers envelopes the router could not address
	// to any Helper.
	KindUnhandledEnvelope Kind = "unhandled_envelope"
)

// Error is the runtime's single structured error type. Every error the
// runtime raises to a caller synchronously, or attaches to a status change,
// is an *Error so callers can switch on Kind without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithContext attaches diagnostic key/value pairs and returns the same
// error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsRetryable reports whether this error's kind is one a caller should
// expect the runtime to recover from on its own (network errors via
// reconnect, protocol errors via a matching errorEnd).
func (e *Error) IsRetryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindProtocol
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// InvalidOperation builds a KindInvalidOperation error.
func InvalidOperation(message string) *Error {
	return newError(KindInvalidOperation, message, nil)
}

// Validation builds a KindValidation error.
func Validation(message string) *Error {
	return newError(KindValidation, message, nil)
}

// Network builds a KindNetwork error wrapping the underlying cause.
func Network(message string, err error) *Error {
	return newError(KindNetwork, message, err)
}

// Protocol builds a KindProtocol error from a remote errorStart payload.
func Protocol(message string) *Error {
	return newError(KindProtocol, message, nil)
}

// UnhandledEnvelope builds a KindUnhandledEnvelope error.
func UnhandledEnvelope(message string) *Error {
	return newError(KindUnhandledEnvelope, message, nil)
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if ae, ok := err.(*Error); ok {
		e = ae
		return e.Kind == kind
	}
	return false
}
