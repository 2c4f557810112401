package websocket

import (
	"errors"
	"fmt"
)

// MessageType is the type of an application message (RFC 6455 Section 5.6).
// Its value is the opcode of the message's first frame.
type MessageType int

const (
	// TextMessage carries UTF-8 text. Text is validated on both read and
	// write (RFC 6455 Section 8.1).
	TextMessage MessageType = 1

	// BinaryMessage carries arbitrary bytes.
	BinaryMessage MessageType = 2
)

func (mt MessageType) opcode() Opcode {
	return Opcode(mt)
}

func (mt MessageType) String() string {
	switch mt {
	case TextMessage:
		return "Text"
	case BinaryMessage:
		return "Binary"
	default:
		return fmt.Sprintf("MessageType(%d)", int(mt))
	}
}

// CloseCode is the status code of a CLOSE frame (RFC 6455 Section 7.4).
//
// A client may send only CloseNormalClosure and the application range
// 3000-4999. The other codes are reported by the server, or by the client
// itself when it fails the connection.
type CloseCode int

// Status codes from RFC 6455 Section 7.4.1 and the IANA registry.
const (
	CloseNormalClosure   CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	CloseProtocolError   CloseCode = 1002 // sent by the client on framing violations
	CloseUnsupportedData CloseCode = 1003

	// CloseNoStatusReceived is reported for a CLOSE frame without a body.
	// It never appears on the wire.
	CloseNoStatusReceived CloseCode = 1005

	// CloseAbnormalClosure stands for a connection lost without a CLOSE
	// frame. It never appears on the wire.
	CloseAbnormalClosure CloseCode = 1006

	CloseInvalidFramePayloadData CloseCode = 1007 // sent by the client on invalid UTF-8
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009 // sent by the client above the size limits
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalServerErr       CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseBadGateway              CloseCode = 1014

	// CloseTLSHandshake never appears on the wire.
	CloseTLSHandshake CloseCode = 1015
)

var closeCodeNames = map[CloseCode]string{
	CloseNormalClosure:           "Normal Closure",
	CloseGoingAway:               "Going Away",
	CloseProtocolError:           "Protocol Error",
	CloseUnsupportedData:         "Unsupported Data",
	CloseNoStatusReceived:        "No Status Received",
	CloseAbnormalClosure:         "Abnormal Closure",
	CloseInvalidFramePayloadData: "Invalid Frame Payload Data",
	ClosePolicyViolation:         "Policy Violation",
	CloseMessageTooBig:           "Message Too Big",
	CloseMandatoryExtension:      "Mandatory Extension",
	CloseInternalServerErr:       "Internal Server Error",
	CloseServiceRestart:          "Service Restart",
	CloseTryAgainLater:           "Try Again Later",
	CloseBadGateway:              "Bad Gateway",
	CloseTLSHandshake:            "TLS Handshake",
}

func (cc CloseCode) String() string {
	if name, ok := closeCodeNames[cc]; ok {
		return name
	}
	switch {
	case cc >= 3000 && cc <= 3999:
		return "Registered"
	case cc >= 4000 && cc <= 4999:
		return "Private"
	default:
		return "Unknown"
	}
}

// IsCloseError reports whether err ends a connection whose closing
// handshake completed.
//
// It is true for ErrClosed and for a *CloseError carrying one of codes
// (any code when none are given).
func IsCloseError(err error, codes ...CloseCode) bool {
	var ce *CloseError
	if !errors.As(err, &ce) {
		return len(codes) == 0 && errors.Is(err, ErrClosed)
	}
	if len(codes) == 0 {
		return true
	}
	for _, code := range codes {
		if ce.Code == code {
			return true
		}
	}
	return false
}

// CloseStatus returns the status code carried by err: the server's code
// for a *CloseError, the code sent for a *ProtocolError, -1 otherwise.
func CloseStatus(err error) CloseCode {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return -1
}
