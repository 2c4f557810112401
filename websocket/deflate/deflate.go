// Package deflate implements the permessage-deflate extension (RFC 7692) on
// top of the websocket extension pipeline.
//
// Register it with a registry before dialing:
//
//	reg := websocket.NewRegistry()
//	deflate.Register(reg, deflate.Options{})
//	conn, _, err := websocket.Dial(ctx, url, &websocket.Config{Registry: reg})
//
// Compressed messages carry RSV1 on their first frame. Outgoing messages are
// compressed frame by frame with a sync flush; incoming fragments are
// collected and inflated when the final frame arrives, so the reader sees
// empty payloads for the earlier fragments and the whole message on the last
// one.
package deflate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/flate"

	"github.com/coregx/wsclient/websocket"
)

// ExtensionName is the token used in Sec-WebSocket-Extensions.
const ExtensionName = "permessage-deflate"

const (
	windowSize     = 1 << 15
	defaultMaxSize = 32 << 20
)

// RFC 7692 Section 7.2.2: the sender strips this tail from each message and
// the receiver appends it back. The extra empty final block lets the inflater
// report io.EOF.
var (
	syncTail   = []byte{0x00, 0x00, 0xff, 0xff}
	inflateEnd = []byte{0x00, 0x00, 0xff, 0xff, 0x01, 0x00, 0x00, 0xff, 0xff}
)

// Errors returned by the extension hooks. They fail the connection.
var (
	ErrUnexpectedRSV1 = errors.New("deflate: RSV1 set on a continuation or control frame")
	ErrBadParameter   = errors.New("deflate: unsupported extension parameter")
)

// Options configures the extension.
type Options struct {
	// Level is the flate compression level. 0 means flate.BestSpeed.
	Level int

	// MaxMessageSize bounds one inflated message (default: 32 MiB). Larger
	// messages fail the connection with 1009.
	MaxMessageSize int64

	// ClientNoContextTakeover asks to compress every message independently.
	ClientNoContextTakeover bool

	// ServerNoContextTakeover asks the server to do the same.
	ServerNoContextTakeover bool
}

func (o Options) withDefaults() Options {
	if o.Level == 0 {
		o.Level = flate.BestSpeed
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxSize
	}
	return o
}

// offer returns the parameters sent in the handshake.
func (o Options) offer() []string {
	var params []string
	if o.ClientNoContextTakeover {
		params = append(params, "client_no_context_takeover")
	}
	if o.ServerNoContextTakeover {
		params = append(params, "server_no_context_takeover")
	}
	return params
}

// Register adds permessage-deflate to reg.
func Register(reg *websocket.Registry, opts Options) {
	reg.Register(ExtensionName, Factory(opts), opts.offer()...)
}

// Factory returns an extension factory for the accepted parameters.
//
// RFC 7692 Section 7.1: the server may add client_no_context_takeover even if
// it was not offered. client_max_window_bits below 15 cannot be honored by
// the compressor and is rejected.
func Factory(opts Options) websocket.ExtensionFactory {
	opts = opts.withDefaults()

	return func(params map[string]string) (*websocket.Extension, error) {
		s := &session{opts: opts}

		for k, v := range params {
			switch k {
			case "client_no_context_takeover":
				s.clientNoContext = true
			case "server_no_context_takeover":
				s.serverNoContext = true
			case "server_max_window_bits":
				if _, err := windowBits(v); err != nil {
					return nil, err
				}
			case "client_max_window_bits":
				if v == "" {
					continue
				}
				bits, err := windowBits(v)
				if err != nil {
					return nil, err
				}
				if bits != 15 {
					return nil, fmt.Errorf("%w: client_max_window_bits=%d", ErrBadParameter, bits)
				}
			default:
				return nil, fmt.Errorf("%w: %s", ErrBadParameter, k)
			}
		}

		fw, err := flate.NewWriter(&s.out, opts.Level)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		s.fw = fw

		return &websocket.Extension{
			Name:                   ExtensionName,
			RSV:                    websocket.RSV1,
			OnDataReceived:         s.onDataReceived,
			OnContinuationReceived: s.onContinuationReceived,
			OnControlReceived:      rejectRSV1,
			OnDataSent:             s.onDataSent,
			OnContinuationSent:     s.onContinuationSent,
		}, nil
	}
}

func windowBits(v string) (int, error) {
	bits, err := strconv.Atoi(v)
	if err != nil || bits < 8 || bits > 15 {
		return 0, fmt.Errorf("%w: window bits %q", ErrBadParameter, v)
	}
	return bits, nil
}

// session is the per-connection compression state. The receive side is
// used only by the read path and the send side only by the write path.
type session struct {
	opts            Options
	clientNoContext bool
	serverNoContext bool

	// Send side.
	fw          *flate.Writer
	out         bytes.Buffer
	compressing bool

	// Receive side.
	fr        io.ReadCloser
	in        bytes.Buffer
	msg       bytes.Buffer
	window    []byte
	inflating bool
}

func rejectRSV1(f *websocket.Frame) error {
	if f.RSV&websocket.RSV1 != 0 {
		return fmt.Errorf("%w: %s", ErrUnexpectedRSV1, f.Opcode)
	}
	return nil
}

func (s *session) onDataReceived(f *websocket.Frame) error {
	s.inflating = f.RSV&websocket.RSV1 != 0
	if !s.inflating {
		return nil
	}

	s.in.Reset()
	return s.collect(f)
}

func (s *session) onContinuationReceived(f *websocket.Frame) error {
	if err := rejectRSV1(f); err != nil {
		return err
	}
	if !s.inflating {
		return nil
	}
	return s.collect(f)
}

// collect buffers one compressed fragment. Earlier fragments reach the
// reader as empty payloads; the final one carries the inflated message.
func (s *session) collect(f *websocket.Frame) error {
	if int64(s.in.Len()+len(f.Payload)) > s.opts.MaxMessageSize {
		return tooLarge(s.opts.MaxMessageSize)
	}
	s.in.Write(f.Payload)

	if !f.Fin {
		f.Payload = nil
		return nil
	}

	s.inflating = false
	payload, err := s.inflate()
	if err != nil {
		return err
	}
	f.Payload = payload
	return nil
}

func (s *session) inflate() ([]byte, error) {
	s.in.Write(inflateEnd)

	var dict []byte
	if !s.serverNoContext {
		dict = s.window
	}
	if s.fr == nil {
		s.fr = flate.NewReaderDict(&s.in, dict)
	} else if err := s.fr.(flate.Resetter).Reset(&s.in, dict); err != nil {
		return nil, fmt.Errorf("deflate: reset: %w", err)
	}

	s.msg.Reset()
	n, err := s.msg.ReadFrom(io.LimitReader(s.fr, s.opts.MaxMessageSize+1))
	if err != nil {
		return nil, fmt.Errorf("deflate: inflate: %w", err)
	}
	if n > s.opts.MaxMessageSize {
		return nil, tooLarge(s.opts.MaxMessageSize)
	}

	if !s.serverNoContext {
		s.window = slideWindow(s.window, s.msg.Bytes())
	}
	return s.msg.Bytes(), nil
}

func tooLarge(limit int64) error {
	return &websocket.ProtocolError{
		Code: websocket.CloseMessageTooBig,
		Err:  fmt.Errorf("%w: inflated message above %d bytes", websocket.ErrMessageTooLarge, limit),
	}
}

// slideWindow keeps the last 32 KiB of inflated output as the dictionary for
// the next message.
func slideWindow(w, b []byte) []byte {
	if len(b) >= windowSize {
		return append(w[:0], b[len(b)-windowSize:]...)
	}
	w = append(w, b...)
	if len(w) > windowSize {
		w = append(w[:0], w[len(w)-windowSize:]...)
	}
	return w
}

func (s *session) onDataSent(f *websocket.Frame) error {
	s.compressing = true
	if s.clientNoContext {
		s.fw.Reset(&s.out)
	}
	f.RSV |= websocket.RSV1
	return s.deflate(f)
}

func (s *session) onContinuationSent(f *websocket.Frame) error {
	if !s.compressing {
		return nil
	}
	return s.deflate(f)
}

// deflate compresses one outgoing frame. Every frame ends with a sync flush;
// the final frame of a message drops the trailing 00 00 ff ff.
func (s *session) deflate(f *websocket.Frame) error {
	s.out.Reset()
	if _, err := s.fw.Write(f.Payload); err != nil {
		return fmt.Errorf("deflate: %w", err)
	}
	if err := s.fw.Flush(); err != nil {
		return fmt.Errorf("deflate: %w", err)
	}

	out := s.out.Bytes()
	if f.Fin {
		out = bytes.TrimSuffix(out, syncTail)
		s.compressing = false
	}
	f.Payload = out
	return nil
}
