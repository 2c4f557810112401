// Package websocket implements the client side of the RFC 6455 WebSocket protocol.
//
// The package turns the ordered byte stream of an established connection into
// application messages and back. It handles:
//   - Frame decoding and encoding (7-bit, 16-bit, 64-bit payload lengths)
//   - Client-to-server masking
//   - Fragmentation and reassembly of text and binary messages
//   - Control frames (close, ping, pong) interleaved with data frames
//   - Incremental UTF-8 validation across frame boundaries
//   - An extension pipeline for negotiated extensions (see package deflate)
//
// Connections are usually created with Dial. NewConn accepts any
// io.ReadWriteCloser whose opening handshake has already completed.
//
// RFC Reference: https://datatracker.ietf.org/doc/html/rfc6455
package websocket

import "fmt"

// Opcode is the 4-bit frame operation code (RFC 6455 Section 5.2).
//
// Opcodes 0x0-0x2 are data frames, 0x8-0xA are control frames.
// Opcodes 0x3-0x7 and 0xB-0xF are reserved for future use.
type Opcode byte

const (
	// OpContinuation continues a fragmented message (RFC 6455 Section 5.4).
	OpContinuation Opcode = 0x0

	// OpText starts a text message. Payload must be valid UTF-8.
	OpText Opcode = 0x1

	// OpBinary starts a binary message.
	OpBinary Opcode = 0x2

	// OpClose starts or answers the closing handshake (RFC 6455 Section 5.5.1).
	OpClose Opcode = 0x8

	// OpPing requests a Pong with identical application data (Section 5.5.2).
	OpPing Opcode = 0x9

	// OpPong answers a Ping (Section 5.5.3).
	OpPong Opcode = 0xA
)

// IsControl reports whether op is a control opcode (0x8-0xF).
//
// RFC 6455 Section 5.5: Control frames are identified by opcodes where
// the most significant bit of the opcode is 1.
//
// Control frames:
//   - Must NOT be fragmented (FIN must be 1)
//   - May be interleaved with fragmented messages
//   - Payload length must be <= 125 bytes
func (op Opcode) IsControl() bool {
	return op&0x08 != 0
}

// IsData reports whether op is a data opcode (continuation, text or binary).
func (op Opcode) IsData() bool {
	return op == OpContinuation || op == OpText || op == OpBinary
}

// valid reports whether op is defined in RFC 6455.
func (op Opcode) valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary,
		OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "CONTINUATION"
	case OpText:
		return "TEXT"
	case OpBinary:
		return "BINARY"
	case OpClose:
		return "CLOSE"
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	default:
		return fmt.Sprintf("Opcode(0x%X)", byte(op))
	}
}

// opClass groups opcodes the way extension hooks are keyed.
type opClass int

const (
	classData opClass = iota
	classContinuation
	classControl
)

func classOf(op Opcode) opClass {
	switch {
	case op == OpContinuation:
		return classContinuation
	case op.IsControl():
		return classControl
	default:
		return classData
	}
}
