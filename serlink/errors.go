package serlink

import "fmt"

// Error is a protocol-level error.
type Error struct {
	// Type is the error category.
	Type ErrorType

	// Message is a human-readable description.
	Message string

	// Offset is the number of bytes successfully transferred before the
	// failure, or -1 when no transfer was in progress. A positive offset is
	// exactly the value a later resume handshake will negotiate from.
	Offset int64
}

// ErrorType categorizes protocol errors.
type ErrorType int

const (
	// ErrTransport indicates the underlying byte channel failed. Fatal,
	// never retried: a broken channel is not a protocol condition.
	ErrTransport ErrorType = iota

	// ErrTimeout indicates a read deadline expired.
	ErrTimeout

	// ErrRetryExceeded indicates a block was retransmitted up to the retry
	// bound without an acknowledgement. Fatal; partial output is preserved.
	ErrRetryExceeded

	// ErrHandshake indicates the resume negotiation failed. Fatal and never
	// retried: the peer is absent or not ready, not noisy.
	ErrHandshake

	// ErrCancelled indicates the transfer was cancelled via context.
	ErrCancelled

	// ErrProtocol indicates a violation of the frame exchange rules.
	ErrProtocol
)

func (t ErrorType) String() string {
	switch t {
	case ErrTransport:
		return "transport error"
	case ErrTimeout:
		return "timeout"
	case ErrRetryExceeded:
		return "retry bound exceeded"
	case ErrHandshake:
		return "handshake error"
	case ErrCancelled:
		return "cancelled"
	case ErrProtocol:
		return "protocol error"
	default:
		return "unknown error"
	}
}

func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("serlink %s: %s (transferred %d bytes)", e.Type, e.Message, e.Offset)
	}
	return fmt.Sprintf("serlink %s: %s", e.Type, e.Message)
}

// NewError creates an Error without transfer progress attached.
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Offset:  -1,
	}
}

// NewOffsetError creates an Error carrying the byte count reached before the
// failure.
func NewOffsetError(errType ErrorType, message string, offset int64) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Offset:  offset,
	}
}

// IsTimeout reports whether err is a read-deadline expiry.
func IsTimeout(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrTimeout
	}
	return false
}

// IsTransport reports whether err is a fatal channel failure.
func IsTransport(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrTransport
	}
	return false
}

// IsRetryExceeded reports whether err is an exhausted retransmission bound.
func IsRetryExceeded(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrRetryExceeded
	}
	return false
}

// IsHandshake reports whether err comes from the resume negotiation.
func IsHandshake(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrHandshake
	}
	return false
}

// IsCancelled checks if an error indicates cancellation.
func IsCancelled(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrCancelled
	}
	return false
}

// TransferredBytes extracts the byte count attached to a fatal error.
// Returns -1 when err carries no progress information.
func TransferredBytes(err error) int64 {
	if e, ok := err.(*Error); ok {
		return e.Offset
	}
	return -1
}
