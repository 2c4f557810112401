package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Maximum payload sizes and header layout.
const (
	// maxControlPayload is the maximum payload length for control frames.
	// RFC 6455 Section 5.5: Control frames must have payload <= 125 bytes.
	maxControlPayload = 125

	// maxHeaderSize is a 64-bit length header plus masking key.
	maxHeaderSize = 14

	// Payload length encoding thresholds (RFC 6455 Section 5.2).
	payloadLen7Bit  = 125 // 0-125: stored in 7 bits
	payloadLen16Bit = 126 // 126: followed by 16-bit length
	payloadLen64Bit = 127 // 127: followed by 64-bit length

	finBit  = 0x80
	maskBit = 0x80
	rsvBits = 0x70
)

// Reserved header bits an extension may claim (RFC 6455 Section 5.2).
const (
	RSV1 byte = 0x40
	RSV2 byte = 0x20
	RSV3 byte = 0x10
)

// frameHeader is the decoded header of one frame.
//
// Frame structure:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
//	| Masking-key (continued)       |          Payload Data         |
//	+-------------------------------- - - - - - - - - - - - - - - - +
//	:                     Payload Data continued ...                :
//	+ - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - +
//	|                     Payload Data continued ...                |
//	+---------------------------------------------------------------+
type frameHeader struct {
	fin    bool
	rsv    byte // RSV1-RSV3 in their wire positions
	opcode Opcode
	masked bool
	mask   [4]byte
	length int64 // payload length
	size   int   // header length including the masking key
}

// total returns the number of wire bytes the frame occupies.
func (h frameHeader) total() int64 {
	return int64(h.size) + h.length
}

// headerSize returns the full header length announced by the second header
// byte: 2, 4 or 10 bytes, plus 4 when the mask bit is set.
func headerSize(b1 byte) int {
	n := 2
	switch b1 & 0x7F {
	case payloadLen16Bit:
		n += 2
	case payloadLen64Bit:
		n += 8
	}
	if b1&maskBit != 0 {
		n += 4
	}
	return n
}

// decodeHeader parses the frame header at the start of b.
//
// b must hold at least headerSize(b[1]) bytes. rsvAllowed is the set of
// reserved bits claimed by negotiated extensions. Frames from a server are
// never masked, so allowMask is false everywhere except in tests that parse
// the client's own output.
//
// RFC 6455 Section 5.2: Base Framing Protocol.
func decodeHeader(b []byte, rsvAllowed byte, allowMask bool) (frameHeader, error) {
	h := frameHeader{
		fin:    b[0]&finBit != 0,
		rsv:    b[0] & rsvBits,
		opcode: Opcode(b[0] & 0x0F),
		masked: b[1]&maskBit != 0,
		size:   headerSize(b[1]),
	}

	if !h.opcode.valid() {
		return h, fmt.Errorf("%w: 0x%X", ErrInvalidOpcode, byte(h.opcode))
	}

	// RFC 6455 Section 5.2: RSV bits must be 0 unless an extension defines them.
	if h.rsv&^rsvAllowed != 0 {
		return h, fmt.Errorf("%w: 0x%X", ErrReservedBits, h.rsv>>4)
	}

	// RFC 6455 Section 5.1: a server MUST NOT mask any frames.
	if h.masked && !allowMask {
		return h, ErrMaskUnexpected
	}

	// RFC 6455 Section 5.5: Control frames must NOT be fragmented.
	if h.opcode.IsControl() && !h.fin {
		return h, ErrControlFragmented
	}

	off := 2
	switch n := b[1] & 0x7F; n {
	case payloadLen16Bit:
		h.length = int64(binary.BigEndian.Uint16(b[off:]))
		off += 2
	case payloadLen64Bit:
		v := binary.BigEndian.Uint64(b[off:])
		// RFC 6455 Section 5.2: Most significant bit must be 0.
		if v&(1<<63) != 0 {
			return h, fmt.Errorf("%w: negative payload length", ErrProtocolError)
		}
		h.length = int64(v)
		off += 8
	default:
		h.length = int64(n)
	}

	if h.opcode.IsControl() && h.length > maxControlPayload {
		return h, fmt.Errorf("%w: %d bytes", ErrControlTooLarge, h.length)
	}

	if h.masked {
		copy(h.mask[:], b[off:off+4])
	}

	return h, nil
}

// appendHeader appends a frame header for a payload of length n.
func appendHeader(dst []byte, fin bool, rsv byte, op Opcode, n int, masked bool, key [4]byte) []byte {
	b0 := rsv&rsvBits | byte(op)&0x0F
	if fin {
		b0 |= finBit
	}

	var mb byte
	if masked {
		mb = maskBit
	}

	switch {
	case n <= payloadLen7Bit:
		dst = append(dst, b0, mb|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, b0, mb|payloadLen16Bit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, mb|payloadLen64Bit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if masked {
		dst = append(dst, key[:]...)
	}
	return dst
}

// appendFrame appends one complete client frame to dst.
//
// Client frames are always masked (RFC 6455 Section 5.3). The payload is
// copied before masking, so the caller's slice is left untouched. A zero-length
// payload carries an all-zero masking key.
func appendFrame(dst []byte, fin bool, rsv byte, op Opcode, payload []byte, key [4]byte) []byte {
	if len(payload) == 0 {
		key = [4]byte{}
	}
	dst = appendHeader(dst, fin, rsv, op, len(payload), true, key)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(key, 0, dst[start:])
	return dst
}

// newMaskKey draws a non-zero masking key from crypto/rand.
//
// RFC 6455 Section 5.3: the masking key MUST be derived from a strong
// source of entropy.
func newMaskKey() ([4]byte, error) {
	var key [4]byte
	for key == ([4]byte{}) {
		if _, err := rand.Read(key[:]); err != nil {
			return key, fmt.Errorf("websocket: mask key: %w", err)
		}
	}
	return key, nil
}
