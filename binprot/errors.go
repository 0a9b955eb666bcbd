package binprot

import (
	"errors"
	"fmt"
)

// Error types for binary protocol operations.
// Like the meta protocol errors they tell the caller what to do with the
// connection that produced them (close it, or keep using it).

var (
	// ErrConnectionClosed is returned for requests on, or pending in, a closed connection.
	ErrConnectionClosed = errors.New("bincache: connection closed")

	// ErrUnsolicitedResponse is returned by Inflight.Resolve when a frame arrives
	// and no pending request is left to receive it.
	ErrUnsolicitedResponse = errors.New("bincache: response without pending request")
)

// FramingKind classifies a FramingError.
type FramingKind uint8

const (
	// FramingBadMagic: the first byte of a frame is not the response magic.
	// The stream cannot be resynchronized.
	FramingBadMagic FramingKind = iota + 1

	// FramingCoalesced: a chunk completed the frame in progress and carried
	// the start of the next one. The data is processed normally; the error is
	// only a diagnostic.
	FramingCoalesced

	// FramingTruncated: a frame is shorter than its header claims.
	FramingTruncated

	// FramingTooLarge: the header announces a frame over the framer's limit.
	FramingTooLarge
)

func (k FramingKind) String() string {
	switch k {
	case FramingBadMagic:
		return "bad magic"
	case FramingCoalesced:
		return "coalesced frames"
	case FramingTruncated:
		return "truncated frame"
	case FramingTooLarge:
		return "frame too large"
	default:
		return "unknown"
	}
}

// FramingError is a fault in reassembling frames from the byte stream.
//
// Connection handling: CLOSE, except for FramingCoalesced which is diagnostic.
type FramingError struct {
	Kind   FramingKind
	Detail string
}

func (e *FramingError) Error() string {
	if e.Detail == "" {
		return "framing error: " + e.Kind.String()
	}
	return "framing error: " + e.Kind.String() + ": " + e.Detail
}

// ShouldCloseConnection returns false only for the self-recovering coalesced case.
func (e *FramingError) ShouldCloseConnection() bool {
	return e.Kind != FramingCoalesced
}

// IsFatal reports whether err is a framing fault after which the stream
// cannot be trusted.
func IsFatal(err error) bool {
	var fe *FramingError
	if errors.As(err, &fe) {
		return fe.ShouldCloseConnection()
	}
	return err != nil
}

// SequenceError is delivered to a pending request that was skipped because a
// response with a later correlation id arrived first. The response for this
// request was lost; responses that follow are still matched normally.
//
// Connection handling: connection can be REUSED
type SequenceError struct {
	Expected uint32 // opaque of the skipped request
	Got      uint32 // opaque found in the response
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence error: expected response %d, got %d", e.Expected, e.Got)
}

// ShouldCloseConnection returns false - the framer keeps matching later responses
func (e *SequenceError) ShouldCloseConnection() bool {
	return false
}

// ConnectionError wraps I/O errors of the underlying transport.
//
// Connection handling: Connection is already broken, CLOSE
type ConnectionError struct {
	Op  string // read, write, dial, wait
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// StatusError is a non-zero response status for a regular command.
// The server message, if any, is taken from the response value.
//
// Connection handling: connection can be REUSED
type StatusError struct {
	Op      OpCode
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed: status 0x%04x (%s)", e.Op, uint16(e.Status), e.Status)
	}
	return fmt.Sprintf("%s failed: status 0x%04x (%s): %s", e.Op, uint16(e.Status), e.Status, e.Message)
}

// ShouldCloseConnection returns false - the protocol state is intact
func (e *StatusError) ShouldCloseConnection() bool {
	return false
}

// AuthError is returned when the server rejects the SASL PLAIN credentials.
// Authentication failures are never retried.
type AuthError struct {
	Status  Status
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: status 0x%04x: %s", uint16(e.Status), e.Message)
}

// ShouldCloseConnection returns true - an unauthenticated connection is useless
func (e *AuthError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is implemented by every protocol error type.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves the connection unusable.
//
// Returns false for nil, StatusError, SequenceError and coalesced framing
// diagnostics. Unknown error types are treated conservatively: close.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}
