package websocket

import (
	"errors"
	"fmt"
)

// Protocol error types defined by RFC 6455 Section 7.4.1.

var (
	// ErrProtocolError indicates a violation of the WebSocket protocol.
	// RFC 6455 Section 7.4.1: Status code 1002.
	//
	// Causes:
	//   - Invalid frame format
	//   - 64-bit payload length with the most significant bit set
	//   - Invalid close frame payload
	ErrProtocolError = errors.New("websocket: protocol error")

	// ErrInvalidUTF8 indicates text payload that is not valid UTF-8.
	// RFC 6455 Section 8.1: Text frames must contain valid UTF-8.
	// Status code 1007.
	ErrInvalidUTF8 = errors.New("websocket: invalid UTF-8 in text frame")

	// ErrReservedBits indicates RSV1/RSV2/RSV3 bits that no negotiated
	// extension claimed.
	// RFC 6455 Section 5.2. Status code 1002.
	ErrReservedBits = errors.New("websocket: reserved bits must be 0")

	// ErrInvalidOpcode indicates an unknown or reserved opcode.
	// RFC 6455 Section 5.2: Opcodes 0x3-0x7 and 0xB-0xF are reserved.
	// Status code 1002.
	ErrInvalidOpcode = errors.New("websocket: invalid opcode")

	// ErrControlFragmented indicates a control frame with FIN=0.
	// RFC 6455 Section 5.5. Status code 1002.
	ErrControlFragmented = errors.New("websocket: control frame must not be fragmented")

	// ErrControlTooLarge indicates control frame payload > 125 bytes.
	// RFC 6455 Section 5.5. Status code 1002.
	ErrControlTooLarge = errors.New("websocket: control frame payload too large")

	// ErrUnexpectedContinuation indicates a continuation frame with no
	// fragmented message in progress.
	// RFC 6455 Section 5.4. Status code 1002.
	ErrUnexpectedContinuation = errors.New("websocket: first frame cannot be fragmented")

	// ErrUnexpectedDataFrame indicates a text or binary frame received while
	// a fragmented message is still waiting for its final continuation.
	// RFC 6455 Section 5.4. Status code 1002.
	ErrUnexpectedDataFrame = errors.New("websocket: opcode expected only in initial frame")

	// ErrMaskUnexpected indicates server frame with masking.
	// RFC 6455 Section 5.1: A client MUST close a connection if it detects
	// a masked frame. Status code 1002.
	ErrMaskUnexpected = errors.New("websocket: server frames must not be masked")

	// ErrMessageTooLarge indicates a frame or message above the configured
	// limits. Status code 1009.
	ErrMessageTooLarge = errors.New("websocket: message too large")

	// Close frame validation (RFC 6455 Section 5.5.1 and 7.4).

	// ErrInvalidCloseCode indicates a status code that may not be sent.
	// Applications may send 1000 and 3000-4999.
	ErrInvalidCloseCode = errors.New("websocket: invalid close code")

	// ErrCloseReasonTooLong indicates a close reason above 123 bytes.
	ErrCloseReasonTooLong = errors.New("websocket: close reason too long")

	// Handshake error types (RFC 6455 Section 4.1).

	// ErrBadHandshake indicates the server response failed verification.
	ErrBadHandshake = errors.New("websocket: bad handshake")

	// ErrInvalidScheme indicates a URL scheme other than ws.
	ErrInvalidScheme = errors.New("websocket: unsupported URL scheme")

	// ErrUnsupportedExtension indicates the server accepted an extension
	// that is not in the registry.
	ErrUnsupportedExtension = errors.New("websocket: unsupported extension")

	// Usage errors. These never change connection state.

	// ErrClosed indicates connection is already closed.
	// Returned when attempting to read/write on closed connection.
	ErrClosed = errors.New("websocket: connection closed")

	// ErrInvalidMessageType indicates invalid message type for operation.
	// For example, calling ReadText() on binary message.
	ErrInvalidMessageType = errors.New("websocket: invalid message type")

	// ErrNotOwner indicates use of a Message handle that is no longer the
	// message being read.
	ErrNotOwner = errors.New("websocket: message is not owned by caller")

	// ErrConcurrentRead indicates two goroutines using one Message at once.
	ErrConcurrentRead = errors.New("websocket: concurrent read on message")

	// ErrReadModeMixed indicates a message consumed both fully and as a stream.
	ErrReadModeMixed = errors.New("websocket: message already consumed in another mode")

	// ErrFragmentedMessage indicates ReadFull on a message whose length is
	// not known up front.
	ErrFragmentedMessage = errors.New("websocket: fragmented message must be streamed")

	// ErrBufferTooSmall indicates ReadFull with a buffer smaller than the message.
	ErrBufferTooSmall = errors.New("websocket: buffer too small for message")

	// ErrWriterClosed indicates a write on a MessageWriter after Close.
	ErrWriterClosed = errors.New("websocket: message writer closed")

	// ErrIllegalState indicates a frame transition not allowed in the
	// current connection state.
	ErrIllegalState = errors.New("websocket: illegal state transition")
)

// ProtocolError carries the close code sent to the peer when the connection
// failed because of err.
type ProtocolError struct {
	Code CloseCode
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v (close %d)", e.Err, e.Code)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// CloseError reports the status the peer sent in its close frame.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket: close %d (%s)", e.Code, e.Code)
	}
	return fmt.Sprintf("websocket: close %d (%s): %s", e.Code, e.Code, e.Reason)
}

// Is lets errors.Is(err, ErrClosed) match a peer close.
func (e *CloseError) Is(target error) bool {
	return target == ErrClosed
}

// TransitionError reports an illegal frame for the current state.
type TransitionError struct {
	State State
	Op    Opcode
	Send  bool
}

func (e *TransitionError) Error() string {
	dir := "receive"
	if e.Send {
		dir = "send"
	}
	return fmt.Sprintf("%v: cannot %s %s in state %s", ErrIllegalState, dir, e.Op, e.State)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalState
}

// closeCodeFor maps a failure to the status code sent in the close frame.
func closeCodeFor(err error) CloseCode {
	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		return pe.Code
	case errors.Is(err, ErrInvalidUTF8):
		return CloseInvalidFramePayloadData
	case errors.Is(err, ErrMessageTooLarge):
		return CloseMessageTooBig
	default:
		return CloseProtocolError
	}
}
