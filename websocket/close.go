package websocket

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// maxCloseReason is the largest reason that fits a control frame next to the
// 2-byte status code.
const maxCloseReason = maxControlPayload - 2

// validateCloseCode checks a status code the application wants to send.
//
// Applications may send 1000 (normal closure) and 3000-4999 (registered and
// private use). 1005, 1006 and 1015 exist only to report a missing or
// abnormal close and never appear on the wire.
func validateCloseCode(code CloseCode) error {
	if code == CloseNormalClosure || (code >= 3000 && code <= 4999) {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrInvalidCloseCode, code)
}

// validateCloseReason checks the reason length and encoding.
func validateCloseReason(reason string) error {
	if len(reason) > maxCloseReason {
		return fmt.Errorf("%w: %d bytes", ErrCloseReasonTooLong, len(reason))
	}
	if !utf8.ValidString(reason) {
		return fmt.Errorf("%w: close reason", ErrInvalidUTF8)
	}
	return nil
}

// closePayload builds a CLOSE frame body. Code 0 yields an empty body.
func closePayload(code CloseCode, reason string) []byte {
	if code == 0 {
		return nil
	}
	p := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(p, uint16(code))
	return append(p, reason...)
}

// receivedCodeValid reports whether a peer may put code on the wire.
//
// RFC 6455 Section 7.4.1 defines 1000-1003 and 1007-1011; 1012-1014 are
// registered with IANA. 3000-4999 belong to libraries and applications.
//
// The set is wider than the one validateCloseCode allows for sending: a
// server may report 1001-1003 and 1007-1014, a client sends only 1000 or an
// application code. Reserved and unassigned codes fail with 1002.
func receivedCodeValid(code CloseCode) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	default:
		return false
	}
}

// parseClosePayload decodes the body of a received CLOSE frame.
//
// An empty body carries no status and yields CloseNoStatusReceived. A 1-byte
// body, a reserved or unknown code, an oversized reason or a reason that is
// not valid UTF-8 makes the effective code CloseProtocolError and returns a
// *ProtocolError.
func parseClosePayload(p []byte) (CloseCode, string, error) {
	switch {
	case len(p) == 0:
		return CloseNoStatusReceived, "", nil
	case len(p) == 1:
		return CloseProtocolError, "", protocolErr(CloseProtocolError, "%w: 1-byte close payload", ErrProtocolError)
	}

	code := CloseCode(binary.BigEndian.Uint16(p))
	reason := p[2:]

	if !receivedCodeValid(code) {
		return CloseProtocolError, "", protocolErr(CloseProtocolError, "%w: %d", ErrInvalidCloseCode, code)
	}
	if len(reason) > maxCloseReason {
		return CloseProtocolError, "", protocolErr(CloseProtocolError, "%w: %d bytes", ErrCloseReasonTooLong, len(reason))
	}
	if !utf8.Valid(reason) {
		return CloseProtocolError, "", protocolErr(CloseProtocolError, "%w: close reason", ErrInvalidUTF8)
	}

	return code, string(reason), nil
}

func protocolErr(code CloseCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Err: fmt.Errorf(format, args...)}
}
