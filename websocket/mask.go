package websocket

import "encoding/binary"

// maskBytes applies the WebSocket masking algorithm to b, starting at key
// offset pos, and returns the key offset for the next byte.
//
// RFC 6455 Section 5.3: Client-to-Server Masking.
//
//	transformed-octet-i = original-octet-i XOR masking-key-octet-j
//	where j = i MOD 4
//
// XOR is its own inverse, so the same call masks and unmasks. Eight bytes
// are processed per step where possible, the tail one byte at a time.
func maskBytes(key [4]byte, pos int, b []byte) int {
	pos &= 3
	if len(b) >= 8 {
		var k [8]byte
		for i := range k {
			k[i] = key[(pos+i)&3]
		}
		// Payload and key words share one byte order, so the order itself
		// does not change the result.
		kw := binary.LittleEndian.Uint64(k[:])
		for len(b) >= 8 {
			binary.LittleEndian.PutUint64(b, binary.LittleEndian.Uint64(b)^kw)
			b = b[8:]
		}
	}
	for i := range b {
		b[i] ^= key[pos]
		pos = (pos + 1) & 3
	}
	return pos
}
