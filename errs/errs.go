// Package errs defines the tagged error kinds used across the transport
// and messaging kernel. Each kind wraps an underlying cause so that
// errors.Is/errors.As keep working through the transport filter chain,
// with each filter adding context without discarding the original error.
package errs

import "fmt"

// Kind identifies one of the error categories the client surfaces to
// callers and to the exception-listener path.
type Kind int

const (
	// KindIO covers socket read/write failures and EOF.
	KindIO Kind = iota
	// KindWireFormat covers structural corruption of the wire protocol;
	// terminal for the current transport.
	KindWireFormat
	// KindBroker wraps a broker ExceptionResponse.
	KindBroker
	// KindTimeout covers a request or receive exceeding its budget.
	KindTimeout
	// KindIllegalState covers use of a closed resource, or commit/rollback
	// outside of a transaction.
	KindIllegalState
	// KindUnsupported covers a feature disabled by the negotiated
	// WireFormat.
	KindUnsupported
	// KindPoisonMessage marks a message whose redelivery counter exceeded
	// the configured maximum.
	KindPoisonMessage
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IoError"
	case KindWireFormat:
		return "WireFormatError"
	case KindBroker:
		return "BrokerError"
	case KindTimeout:
		return "Timeout"
	case KindIllegalState:
		return "IllegalState"
	case KindUnsupported:
		return "UnsupportedOperation"
	case KindPoisonMessage:
		return "PoisonMessage"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type carrying a Kind and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can do errors.Is(err, errs.New(errs.KindTimeout, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around cause, preserving
// it for errors.Unwrap/errors.As while adding contextual information —
// the way a transport filter re-tags an inner failure at its boundary
// without losing the original.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// IsKind reports whether err (or something it wraps) is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
