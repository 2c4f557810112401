package deflate

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/wsclient/websocket"
)

func newExtension(t *testing.T, opts Options, params map[string]string) *websocket.Extension {
	t.Helper()

	ext, err := Factory(opts)(params)
	require.NoError(t, err)
	return ext
}

// send runs a message through the send hooks split into the given chunks
// and returns copies of the resulting frames.
func send(t *testing.T, ext *websocket.Extension, op websocket.Opcode, chunks ...string) []websocket.Frame {
	t.Helper()

	var frames []websocket.Frame
	for i, chunk := range chunks {
		f := websocket.Frame{Fin: i == len(chunks)-1, Opcode: op, Payload: []byte(chunk)}
		hook := ext.OnDataSent
		if i > 0 {
			f.Opcode = websocket.OpContinuation
			hook = ext.OnContinuationSent
		}
		require.NoError(t, hook(&f))
		f.Payload = bytes.Clone(f.Payload)
		frames = append(frames, f)
	}
	return frames
}

// receive runs frames through the receive hooks and joins the payloads the
// reader would see.
func receive(ext *websocket.Extension, frames []websocket.Frame) ([]byte, error) {
	var msg []byte
	for _, f := range frames {
		hook := ext.OnDataReceived
		if f.Opcode == websocket.OpContinuation {
			hook = ext.OnContinuationReceived
		}
		if err := hook(&f); err != nil {
			return nil, err
		}
		msg = append(msg, f.Payload...)
	}
	return msg, nil
}

func TestRegister_Offer(t *testing.T) {
	reg := websocket.NewRegistry()
	Register(reg, Options{ClientNoContextTakeover: true, ServerNoContextTakeover: true})

	assert.Equal(t, "permessage-deflate; client_no_context_takeover; server_no_context_takeover", reg.Offer())

	exts, err := reg.Negotiate("permessage-deflate; server_no_context_takeover; client_max_window_bits=15")
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, ExtensionName, exts[0].Name)
	assert.Equal(t, websocket.RSV1, exts[0].RSV)
}

func TestFactory_Parameters(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]string
		wantErr bool
	}{
		{"none", nil, false},
		{"both no context takeover", map[string]string{"client_no_context_takeover": "", "server_no_context_takeover": ""}, false},
		{"server window 8", map[string]string{"server_max_window_bits": "8"}, false},
		{"server window 15", map[string]string{"server_max_window_bits": "15"}, false},
		{"client window empty", map[string]string{"client_max_window_bits": ""}, false},
		{"client window 15", map[string]string{"client_max_window_bits": "15"}, false},
		{"server window 7", map[string]string{"server_max_window_bits": "7"}, true},
		{"server window 16", map[string]string{"server_max_window_bits": "16"}, true},
		{"server window text", map[string]string{"server_max_window_bits": "big"}, true},
		{"client window 10", map[string]string{"client_max_window_bits": "10"}, true},
		{"unknown", map[string]string{"x-unknown": "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Factory(Options{})(tt.params)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadParameter)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestSend_WireFormat checks RFC 7692 Section 7.2.1: the message is one
// deflate stream ending in an empty stored block whose tail is removed.
func TestSend_WireFormat(t *testing.T) {
	ext := newExtension(t, Options{}, nil)
	text := strings.Repeat("Hello, permessage-deflate! ", 50)

	frames := send(t, ext, websocket.OpText, text)
	require.Len(t, frames, 1)

	f := frames[0]
	assert.Equal(t, websocket.RSV1, f.RSV&websocket.RSV1)
	assert.Less(t, len(f.Payload), len(text))
	assert.False(t, bytes.HasSuffix(f.Payload, syncTail))

	fr := flate.NewReader(io.MultiReader(bytes.NewReader(f.Payload), bytes.NewReader(inflateEnd)))
	got, err := io.ReadAll(fr)
	require.NoError(t, err)
	assert.Equal(t, text, string(got))
}

func TestSend_RSV1OnlyOnFirstFrame(t *testing.T) {
	ext := newExtension(t, Options{}, nil)

	frames := send(t, ext, websocket.OpBinary, "first ", "second ", "third")
	require.Len(t, frames, 3)
	assert.NotZero(t, frames[0].RSV&websocket.RSV1)
	assert.Zero(t, frames[1].RSV&websocket.RSV1)
	assert.Zero(t, frames[2].RSV&websocket.RSV1)

	// Every frame but the last ends on a sync flush.
	assert.True(t, bytes.HasSuffix(frames[0].Payload, syncTail))
	assert.True(t, bytes.HasSuffix(frames[1].Payload, syncTail))
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
	}{
		{"context takeover", nil},
		{"no context takeover", map[string]string{"client_no_context_takeover": "", "server_no_context_takeover": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := newExtension(t, Options{}, tt.params)
			receiver := newExtension(t, Options{}, tt.params)

			base := strings.Repeat("repeated content across messages ", 30)
			messages := [][]string{
				{base},
				{base},
				{""},
				{base[:100], base[100:500], base[500:]},
				{"short"},
				{base + "end"},
			}

			for i, chunks := range messages {
				frames := send(t, sender, websocket.OpText, chunks...)
				got, err := receive(receiver, frames)
				require.NoError(t, err, "message %d", i)
				assert.Equal(t, strings.Join(chunks, ""), string(got), "message %d", i)
			}
		})
	}
}

// TestContextTakeover_Smaller checks that a repeated message shrinks when
// the compressor keeps its window.
func TestContextTakeover_Smaller(t *testing.T) {
	text := strings.Repeat("abcdefghijklmnopqrstuvwxyz0123456789", 20)

	takeover := newExtension(t, Options{}, nil)
	first := send(t, takeover, websocket.OpText, text)[0].Payload
	second := send(t, takeover, websocket.OpText, text)[0].Payload
	assert.Less(t, len(second), len(first))

	reset := newExtension(t, Options{}, map[string]string{"client_no_context_takeover": ""})
	first = send(t, reset, websocket.OpText, text)[0].Payload
	second = send(t, reset, websocket.OpText, text)[0].Payload
	assert.Equal(t, first, second)
}

func TestReceive_Uncompressed(t *testing.T) {
	ext := newExtension(t, Options{}, nil)

	frames := []websocket.Frame{
		{Fin: false, Opcode: websocket.OpText, Payload: []byte("plain ")},
		{Fin: true, Opcode: websocket.OpContinuation, Payload: []byte("text")},
	}
	got, err := receive(ext, frames)
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(got))
}

func TestReceive_UnexpectedRSV1(t *testing.T) {
	ext := newExtension(t, Options{}, nil)

	cont := websocket.Frame{Fin: true, RSV: websocket.RSV1, Opcode: websocket.OpContinuation}
	assert.ErrorIs(t, ext.OnContinuationReceived(&cont), ErrUnexpectedRSV1)

	ping := websocket.Frame{Fin: true, RSV: websocket.RSV1, Opcode: websocket.OpPing}
	assert.ErrorIs(t, ext.OnControlReceived(&ping), ErrUnexpectedRSV1)

	pong := websocket.Frame{Fin: true, Opcode: websocket.OpPong}
	assert.NoError(t, ext.OnControlReceived(&pong))
}

func TestReceive_MessageTooLarge(t *testing.T) {
	sender := newExtension(t, Options{}, nil)
	receiver := newExtension(t, Options{MaxMessageSize: 1000}, nil)

	// Zeros compress far below the limit; the inflated size does not.
	frames := send(t, sender, websocket.OpBinary, string(make([]byte, 5000)))
	require.Less(t, len(frames[0].Payload), 1000)

	_, err := receive(receiver, frames)
	var pe *websocket.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, websocket.CloseMessageTooBig, pe.Code)
	assert.ErrorIs(t, err, websocket.ErrMessageTooLarge)
}

func TestReceive_Corrupt(t *testing.T) {
	ext := newExtension(t, Options{}, nil)

	f := websocket.Frame{Fin: true, RSV: websocket.RSV1, Opcode: websocket.OpBinary, Payload: []byte{0xFF, 0xFF, 0xFF}}
	assert.Error(t, ext.OnDataReceived(&f))
}

func TestSlideWindow(t *testing.T) {
	w := slideWindow(nil, []byte("abc"))
	assert.Equal(t, "abc", string(w))

	big := bytes.Repeat([]byte{'x'}, windowSize+10)
	big[len(big)-1] = 'y'
	w = slideWindow(w, big)
	assert.Len(t, w, windowSize)
	assert.Equal(t, byte('y'), w[len(w)-1])

	w = slideWindow(w, []byte("z"))
	assert.Len(t, w, windowSize)
	assert.Equal(t, "yz", string(w[len(w)-2:]))
}

// memTransport feeds a fixed server stream and discards client output.
type memTransport struct {
	io.Reader
	out bytes.Buffer
}

func (m *memTransport) Write(p []byte) (int, error) { return m.out.Write(p) }
func (m *memTransport) Close() error                { return nil }

func TestConn_CompressedServerMessage(t *testing.T) {
	text := strings.Repeat("compressed by the server ", 40)

	var body bytes.Buffer
	fw, err := flate.NewWriter(&body, flate.BestCompression)
	require.NoError(t, err)
	_, err = fw.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, fw.Flush())
	payload := bytes.TrimSuffix(body.Bytes(), syncTail)
	require.Less(t, len(payload), 126)

	// FIN | RSV1 | TEXT, unmasked 7-bit length.
	frame := append([]byte{0xC1, byte(len(payload))}, payload...)

	ext := newExtension(t, Options{}, nil)
	conn, err := websocket.NewConn(&memTransport{Reader: bytes.NewReader(frame)}, nil, ext)
	require.NoError(t, err)

	got, err := conn.ReadText()
	require.NoError(t, err)
	assert.Equal(t, text, got)

	_, _, err = conn.Read()
	assert.True(t, errors.Is(err, io.EOF), "Read at end = %v", err)
}
