package websocket

import (
	"bytes"
	"testing"
)

// TestRFC_ControlFramesDuringFragmentation verifies RFC 6455 Section 5.4.
//
// "Control frames (see Section 5.5) MAY be injected in the middle of
// a fragmented message.  Control frames themselves MUST NOT be fragmented.".
func TestRFC_ControlFramesDuringFragmentation(t *testing.T) {
	c, ft := newTestConn(t, nil,
		textFrame(false, "Hello, "),
		serverFrame(true, 0, OpPing, []byte("ping")),
		contFrame(false, "World"),
		serverFrame(true, 0, OpPong, nil),
		contFrame(true, "!"),
	)

	got, err := c.ReadText()
	if err != nil {
		t.Fatalf("ReadText failed: %v", err)
	}
	if got != "Hello, World!" {
		t.Errorf("ReadText = %q, want %q", got, "Hello, World!")
	}

	frames := parseClientFrames(t, ft.written())
	if len(frames) != 1 || frames[0].opcode != OpPong || string(frames[0].payload) != "ping" {
		t.Errorf("client sent %+v, want one PONG \"ping\"", frames)
	}
}

// TestRFC_FragmentedControlFrame verifies RFC 6455 Section 5.5.
//
// "All control frames MUST have a payload length of 125 bytes or less
// and MUST NOT be fragmented.".
func TestRFC_FragmentedControlFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"ping without FIN", serverFrame(false, 0, OpPing, []byte("x"))},
		{"pong without FIN", serverFrame(false, 0, OpPong, nil)},
		{"ping of 126 bytes", serverFrame(true, 0, OpPing, make([]byte, 126))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ft := newTestConn(t, nil, tt.frame)
			if _, _, err := c.Read(); CloseStatus(err) != CloseProtocolError {
				t.Fatalf("Read = %v, want close 1002", err)
			}
			if got := lastCloseCode(t, ft); got != CloseProtocolError {
				t.Errorf("sent close %d, want 1002", got)
			}
		})
	}
}

// TestRFC_PayloadLengthBoundaries checks the length encodings the client
// writes.
//
// RFC 6455 Section 5.2:
// - 0-125: stored in 7 bits
// - 126-65535: 7 bits = 126, followed by 16-bit length
// - 65536+: 7 bits = 127, followed by 64-bit length.
func TestRFC_PayloadLengthBoundaries(t *testing.T) {
	tests := []struct {
		size      int
		lenField  byte
		headerLen int
	}{
		{0, 0, 6},
		{125, 125, 6},
		{126, 126, 8},
		{65535, 126, 8},
		{65536, 127, 14},
	}

	for _, tt := range tests {
		c, ft := newTestConn(t, &Config{MaxFramePayloadLength: 1 << 17})
		if err := c.WriteBinary(make([]byte, tt.size)); err != nil {
			t.Fatalf("size %d: WriteBinary failed: %v", tt.size, err)
		}

		out := ft.written()
		if got := out[1] & 0x7F; got != tt.lenField {
			t.Errorf("size %d: length field = %d, want %d", tt.size, got, tt.lenField)
		}
		if got := len(out) - tt.size; got != tt.headerLen {
			t.Errorf("size %d: header = %d bytes, want %d", tt.size, got, tt.headerLen)
		}
	}
}

// TestRFC_MaskingRequirement tests RFC 6455 Section 5.1.
//
// "A client MUST mask all frames that it sends to the server."
// "A server MUST NOT mask any frames that it sends to the client.".
func TestRFC_MaskingRequirement(t *testing.T) {
	t.Run("client frames masked", func(t *testing.T) {
		c, ft := newTestConn(t, nil, serverFrame(true, 0, OpPing, []byte("p")))
		payload := bytes.Repeat([]byte("mask me "), 8)

		if err := c.WriteBinary(payload); err != nil {
			t.Fatal(err)
		}
		if err := c.WriteBinary(payload); err != nil {
			t.Fatal(err)
		}
		if _, _, err := c.Read(); err == nil {
			t.Fatal("Read returned a message from a ping-only script")
		}

		out := ft.written()
		frames := parseClientFrames(t, out)
		if len(frames) < 3 {
			t.Fatalf("client sent %d frames, want at least 3", len(frames))
		}
		if !bytes.Equal(frames[0].payload, payload) || !bytes.Equal(frames[1].payload, payload) {
			t.Error("payload did not survive masking")
		}
		// Identical payloads under fresh keys differ on the wire.
		first := out[6 : 6+len(payload)]
		second := out[12+len(payload) : 12+2*len(payload)]
		if bytes.Equal(first, second) {
			t.Error("two frames masked with the same key")
		}
	})

	t.Run("masked server frame", func(t *testing.T) {
		key := [4]byte{1, 2, 3, 4}
		frame := appendFrame(nil, true, 0, OpText, []byte("masked"), key)

		c, ft := newTestConn(t, nil, frame)
		if _, _, err := c.Read(); CloseStatus(err) != CloseProtocolError {
			t.Fatalf("Read = %v, want close 1002", err)
		}
		if got := lastCloseCode(t, ft); got != CloseProtocolError {
			t.Errorf("sent close %d, want 1002", got)
		}
	})
}

// TestRFC_FragmentationSequence tests RFC 6455 Section 5.4.
//
// "A fragmented message consists of a single frame with the FIN bit clear
// and an opcode other than 0, followed by zero or more frames with the FIN
// bit clear and the opcode set to 0, and terminated by a single frame with
// the FIN bit set and an opcode of 0.".
func TestRFC_FragmentationSequence(t *testing.T) {
	c, ft := newTestConn(t, &Config{MaxFramePayloadLength: 3})

	if err := c.WriteText("abcdefgh"); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}

	frames := parseClientFrames(t, ft.written())
	want := []clientFrame{
		{fin: false, opcode: OpText, payload: []byte("abc")},
		{fin: false, opcode: OpContinuation, payload: []byte("def")},
		{fin: true, opcode: OpContinuation, payload: []byte("gh")},
	}
	if len(frames) != len(want) {
		t.Fatalf("client sent %d frames, want %d", len(frames), len(want))
	}
	for i, w := range want {
		f := frames[i]
		if f.fin != w.fin || f.opcode != w.opcode || !bytes.Equal(f.payload, w.payload) {
			t.Errorf("frame %d = {fin:%v %s %q}, want {fin:%v %s %q}",
				i, f.fin, f.opcode, f.payload, w.fin, w.opcode, w.payload)
		}
	}
}

// TestRFC_CloseHandshakeStates tests RFC 6455 Section 7.1.
//
// "If an endpoint receives a Close frame and did not previously send a
// Close frame, the endpoint MUST send a Close frame in response.".
func TestRFC_CloseHandshakeStates(t *testing.T) {
	c, ft := newTestConn(t, nil, closeFrame(CloseGoingAway, "maintenance"))

	if c.State() != StateOpen {
		t.Fatalf("State = %s, want OPEN", c.State())
	}

	if _, _, err := c.Read(); CloseStatus(err) != CloseGoingAway {
		t.Fatalf("Read = %v, want close 1001", err)
	}
	if c.State() != StateClosed {
		t.Errorf("State = %s, want CLOSED", c.State())
	}

	frames := parseClientFrames(t, ft.written())
	if len(frames) != 1 || frames[0].opcode != OpClose {
		t.Fatalf("client sent %+v, want one CLOSE", frames)
	}
	if got := lastCloseCode(t, ft); got != CloseGoingAway {
		t.Errorf("echoed close %d, want 1001", got)
	}
	if !ft.isClosed() {
		t.Error("transport left open after the handshake")
	}
}
