package websocket

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCloseCode(t *testing.T) {
	valid := []CloseCode{1000, 3000, 3999, 4000, 4999}
	for _, code := range valid {
		if err := validateCloseCode(code); err != nil {
			t.Errorf("validateCloseCode(%d) = %v", code, err)
		}
	}

	invalid := []CloseCode{0, 999, 1001, 1002, 1003, 1005, 1006, 1011, 1015, 2999, 5000}
	for _, code := range invalid {
		if err := validateCloseCode(code); !errors.Is(err, ErrInvalidCloseCode) {
			t.Errorf("validateCloseCode(%d) = %v, want ErrInvalidCloseCode", code, err)
		}
	}
}

// TestCloseCodes_ReceiveWiderThanSend pins the asymmetry between the codes
// a client may send and the codes it accepts from a server.
func TestCloseCodes_ReceiveWiderThanSend(t *testing.T) {
	serverOnly := []CloseCode{1001, 1002, 1003, 1007, 1008, 1009, 1010, 1011, 1012, 1013, 1014}
	for _, code := range serverOnly {
		if !receivedCodeValid(code) {
			t.Errorf("receivedCodeValid(%d) = false, want true", code)
		}
		if err := validateCloseCode(code); !errors.Is(err, ErrInvalidCloseCode) {
			t.Errorf("validateCloseCode(%d) = %v, want ErrInvalidCloseCode", code, err)
		}
	}

	for _, code := range []CloseCode{1000, 3000, 4999} {
		if !receivedCodeValid(code) || validateCloseCode(code) != nil {
			t.Errorf("code %d should be valid both ways", code)
		}
	}

	for _, code := range []CloseCode{999, 1004, 1005, 1006, 1015, 1016, 2999, 5000} {
		if receivedCodeValid(code) {
			t.Errorf("receivedCodeValid(%d) = true, want false", code)
		}
	}
}

func TestValidateCloseReason(t *testing.T) {
	if err := validateCloseReason(strings.Repeat("a", 123)); err != nil {
		t.Errorf("123-byte reason: %v", err)
	}
	if err := validateCloseReason(strings.Repeat("a", 124)); !errors.Is(err, ErrCloseReasonTooLong) {
		t.Errorf("124-byte reason: %v, want ErrCloseReasonTooLong", err)
	}
	// 62 two-byte characters = 124 bytes.
	if err := validateCloseReason(strings.Repeat("é", 62)); !errors.Is(err, ErrCloseReasonTooLong) {
		t.Errorf("124-byte UTF-8 reason: %v, want ErrCloseReasonTooLong", err)
	}
	if err := validateCloseReason("bad\xc3"); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("invalid UTF-8 reason: %v, want ErrInvalidUTF8", err)
	}
}

func TestClosePayload(t *testing.T) {
	if p := closePayload(0, ""); p != nil {
		t.Errorf("closePayload(0) = % x, want nil", p)
	}
	p := closePayload(CloseNormalClosure, "ok")
	if string(p) != "\x03\xe8ok" {
		t.Errorf("closePayload(1000, ok) = % x", p)
	}
}

func TestParseClosePayload(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantCode   CloseCode
		wantReason string
		wantErr    error
	}{
		{"empty", nil, CloseNoStatusReceived, "", nil},
		{"code only", []byte{0x03, 0xE8}, CloseNormalClosure, "", nil},
		{"code and reason", closePayload(4001, "bye"), 4001, "bye", nil},
		{"registered 1012", closePayload(CloseServiceRestart, ""), CloseServiceRestart, "", nil},
		{"one byte", []byte{0x03}, CloseProtocolError, "", ErrProtocolError},
		{"reserved 1005", closePayload(1005, ""), CloseProtocolError, "", ErrInvalidCloseCode},
		{"reserved 1006", closePayload(1006, ""), CloseProtocolError, "", ErrInvalidCloseCode},
		{"reserved 1015", closePayload(1015, ""), CloseProtocolError, "", ErrInvalidCloseCode},
		{"unassigned 1016", closePayload(1016, ""), CloseProtocolError, "", ErrInvalidCloseCode},
		{"below range", closePayload(999, ""), CloseProtocolError, "", ErrInvalidCloseCode},
		{"invalid UTF-8", append(closePayload(1000, ""), 0xC0, 0xAF), CloseProtocolError, "", ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason, err := parseClosePayload(tt.payload)
			if code != tt.wantCode || reason != tt.wantReason {
				t.Errorf("parseClosePayload = (%d, %q), want (%d, %q)", code, reason, tt.wantCode, tt.wantReason)
			}
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if CloseStatus(err) != CloseProtocolError {
				t.Errorf("CloseStatus = %d, want 1002", CloseStatus(err))
			}
		})
	}
}

func TestCloseErrorHelpers(t *testing.T) {
	ce := &CloseError{Code: CloseGoingAway, Reason: "restart"}

	if !IsCloseError(ce) || !IsCloseError(ce, CloseNormalClosure, CloseGoingAway) {
		t.Error("IsCloseError did not match CloseError")
	}
	if IsCloseError(ce, CloseNormalClosure) {
		t.Error("IsCloseError matched the wrong code")
	}
	if !IsCloseError(ErrClosed) || IsCloseError(ErrClosed, CloseNormalClosure) {
		t.Error("IsCloseError on ErrClosed")
	}
	if IsCloseError(nil) || IsCloseError(errors.New("x")) {
		t.Error("IsCloseError matched a non-close error")
	}
	if CloseStatus(ce) != CloseGoingAway || CloseStatus(errors.New("x")) != -1 {
		t.Error("CloseStatus mismatch")
	}
	if want := "websocket: close 1001 (Going Away): restart"; ce.Error() != want {
		t.Errorf("Error() = %q, want %q", ce.Error(), want)
	}
}

func TestCloseCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want CloseCode
	}{
		{&ProtocolError{Code: CloseMessageTooBig, Err: errors.New("x")}, CloseMessageTooBig},
		{ErrInvalidUTF8, CloseInvalidFramePayloadData},
		{ErrMessageTooLarge, CloseMessageTooBig},
		{ErrReservedBits, CloseProtocolError},
	}
	for _, tt := range tests {
		if got := closeCodeFor(tt.err); got != tt.want {
			t.Errorf("closeCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
