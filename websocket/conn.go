package websocket

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sugawarayuuta/sonnet"
)

// Conn represents the client side of a WebSocket connection (RFC 6455).
//
// Conn provides high-level methods for reading and writing messages,
// automatically handling:
//   - Message fragmentation (reassembly of multi-frame messages)
//   - Control frames (Ping answered with Pong, Close echoed)
//   - UTF-8 validation for text messages, across frame boundaries
//   - Masking of every outgoing frame
//   - Negotiated extensions
//
// One goroutine may read and another may write at the same time. Writes of
// whole messages are serialized; reads are owned by one goroutine at a time.
//
// Example Usage:
//
//	conn, _, err := websocket.Dial(ctx, "ws://localhost:8080/ws", nil)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	// Write text message
//	conn.WriteText("Hello, WebSocket!")
//
//	// Read message
//	msgType, data, err := conn.Read()
type Conn struct {
	id          string
	cfg         Config
	transport   io.ReadWriteCloser
	log         *slog.Logger
	subprotocol string

	state stateMachine
	pipe  *pipeline

	// Read path.
	rd *reader

	// Write path. msgMu serializes whole messages; frameMu guards scratch and
	// the single transport write of one frame. Control frames take only
	// frameMu, so they interleave with a fragmented message.
	msgMu          sync.Mutex
	frameMu        sync.Mutex
	scratch        []byte
	sendFragmented bool
	sendTerms      terminals

	failMu  sync.Mutex
	failErr error

	closeSent atomic.Bool
	closing   atomic.Bool
	peerClose atomic.Pointer[CloseError]

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an established stream whose opening handshake has already
// completed. exts are the negotiated extensions in negotiation order.
//
// The connection starts in StateOpen.
func NewConn(rw io.ReadWriteCloser, cfg *Config, exts ...*Extension) (*Conn, error) {
	return newConn(rw, cfg, exts, nil, "")
}

func newConn(rw io.ReadWriteCloser, cfg *Config, exts []*Extension, buffered []byte, subprotocol string) (*Conn, error) {
	pipe, err := newPipeline(exts)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		id:          uuid.NewString(),
		cfg:         cfg.withDefaults(),
		transport:   rw,
		subprotocol: subprotocol,
		pipe:        pipe,
		done:        make(chan struct{}),
	}
	c.log = c.cfg.Logger.With("conn_id", c.id)
	c.scratch = make([]byte, 0, maxHeaderSize+min(c.cfg.MaxFramePayloadLength, defaultReadBufferSize))
	for _, op := range []Opcode{OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong} {
		c.sendTerms[op] = c.emit
	}

	c.rd = newReader(c, buffered)

	if err := c.state.open(); err != nil {
		return nil, err
	}
	c.log.Debug("websocket connection open",
		"subprotocol", subprotocol,
		"extensions", pipe.names())

	return c, nil
}

// ID returns the connection identifier used in log records.
func (c *Conn) ID() string {
	return c.id
}

// State returns the protocol state.
func (c *Conn) State() State {
	return c.state.current()
}

// Subprotocol returns the subprotocol selected by the server, if any.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// CloseStatus returns the close frame received from the server, or nil if
// none has arrived.
func (c *Conn) CloseStatus() *CloseError {
	return c.peerClose.Load()
}

// Read reads the next complete message from the connection.
//
// Automatically handles:
//   - Fragmentation: Reassembles multi-frame messages (FIN=0 → FIN=1)
//   - Control frames: Processes Ping/Pong/Close during message reading
//   - UTF-8 validation: For text messages (RFC 6455 Section 8.1)
//
// Returns:
//   - MessageType: TextMessage or BinaryMessage
//   - []byte: Complete message payload
//   - error: *CloseError once the server closed the connection, io.EOF if the
//     stream ended without a close frame, protocol errors, network errors
//
// Messages above Config.MaxMessageSize fail the connection with 1009. Use
// NextMessage to stream larger messages.
func (c *Conn) Read() (MessageType, []byte, error) {
	m, err := c.NextMessage()
	if err != nil {
		return 0, nil, c.endOfStream(err)
	}

	if n, known := m.Len(); known {
		if n > c.cfg.MaxMessageSize {
			return 0, nil, c.fail(protocolErr(CloseMessageTooBig, "%w: %d bytes", ErrMessageTooLarge, n))
		}
		data := make([]byte, n)
		if _, err := m.ReadFull(data); err != nil {
			return 0, nil, c.endOfStream(err)
		}
		return m.Type(), data, nil
	}

	data, err := io.ReadAll(io.LimitReader(m, c.cfg.MaxMessageSize+1))
	if err != nil {
		return 0, nil, c.endOfStream(err)
	}
	if int64(len(data)) > c.cfg.MaxMessageSize {
		return 0, nil, c.fail(protocolErr(CloseMessageTooBig, "%w: above %d bytes", ErrMessageTooLarge, c.cfg.MaxMessageSize))
	}
	return m.Type(), data, nil
}

// endOfStream reports the server's close status in place of io.EOF.
func (c *Conn) endOfStream(err error) error {
	if errors.Is(err, io.EOF) {
		if ce := c.peerClose.Load(); ce != nil {
			return ce
		}
	}
	return err
}

// ReadText reads the next text message.
//
// Returns ErrInvalidMessageType if message is not text.
func (c *Conn) ReadText() (string, error) {
	msgType, data, err := c.Read()
	if err != nil {
		return "", err
	}

	if msgType != TextMessage {
		return "", ErrInvalidMessageType
	}

	return string(data), nil
}

// ReadJSON reads the next text message and unmarshals it into v.
//
// Returns ErrInvalidMessageType if message is not text.
func (c *Conn) ReadJSON(v any) error {
	msgType, data, err := c.Read()
	if err != nil {
		return err
	}

	if msgType != TextMessage {
		return ErrInvalidMessageType
	}

	return sonnet.Unmarshal(data, v)
}

// WriteMessage writes data as one message.
//
// Payloads longer than Config.MaxFramePayloadLength are split into an
// initial frame and CONTINUATION frames. Text is validated before anything
// is sent.
//
// Thread-Safety: Safe for concurrent writes (serialized by mutex).
func (c *Conn) WriteMessage(messageType MessageType, data []byte) error {
	var op Opcode
	switch messageType {
	case TextMessage:
		op = OpText

		// Validate UTF-8 (RFC 6455 Section 8.1)
		var d utf8Decoder
		if err := d.validate(data); err != nil {
			return err
		}
		if err := d.finish(); err != nil {
			return err
		}

	case BinaryMessage:
		op = OpBinary

	default:
		return ErrInvalidMessageType
	}

	c.msgMu.Lock()
	defer c.msgMu.Unlock()

	limit := c.cfg.MaxFramePayloadLength
	for {
		n := min(len(data), limit)
		fin := n == len(data)
		if err := c.writeFrame(fin, op, data[:n]); err != nil {
			return err
		}
		if fin {
			return nil
		}
		data = data[n:]
		op = OpContinuation
	}
}

// WriteText writes a text message.
//
// Returns ErrInvalidUTF8 if text contains invalid UTF-8.
func (c *Conn) WriteText(text string) error {
	return c.WriteMessage(TextMessage, []byte(text))
}

// WriteBinary writes a binary message.
func (c *Conn) WriteBinary(data []byte) error {
	return c.WriteMessage(BinaryMessage, data)
}

// WriteJSON marshals v and writes it as a text message.
func (c *Conn) WriteJSON(v any) error {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return err
	}

	return c.WriteMessage(TextMessage, data)
}

// Close starts the closing handshake with CloseNormalClosure (1000).
//
// See CloseWithCode.
func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormalClosure, "")
}

// CloseWithCode sends a close frame with code and reason and closes the
// connection.
//
// Applications may send 1000 and 3000-4999; code 0 sends a close frame
// without a status. The reason must be valid UTF-8 of at most 123 bytes.
// Invalid arguments return an error without sending anything.
//
// Close handshake (RFC 6455 Section 7.1.2):
//  1. Send Close frame
//  2. Wait up to Config.CloseTimeout for the server's Close frame
//  3. Close the transport
//
// Idempotent - safe to call multiple times.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	if code != 0 {
		if err := validateCloseCode(code); err != nil {
			return err
		}
	} else if reason != "" {
		return fmt.Errorf("%w: reason without status code", ErrInvalidCloseCode)
	}
	if err := validateCloseReason(reason); err != nil {
		return err
	}

	if c.failure() != nil {
		c.closeTransport()
		return nil
	}
	c.closing.Store(true)

	if !c.closeSent.Load() {
		err := c.writeFrame(true, OpClose, closePayload(code, reason))
		switch {
		case err == nil:
			c.log.Debug("websocket close sent", "code", int(code), "reason", reason)
		case errors.Is(err, ErrClosed):
			// Server close already answered or connection failed.
		default:
			c.closeTransport()
			return err
		}
	}

	c.awaitClose()
	c.closeTransport()
	return nil
}

// awaitClose waits for the server to answer the close frame.
//
// If no goroutine is reading, frames are drained here until the server's
// CLOSE or end of stream. Otherwise the reading goroutine completes the
// handshake and closes the transport. Either way the transport is closed
// after Config.CloseTimeout.
func (c *Conn) awaitClose() {
	timer := time.AfterFunc(c.cfg.CloseTimeout, c.closeTransport)
	defer timer.Stop()

	r := c.rd
	if !r.busy.CompareAndSwap(false, true) {
		<-c.done
		return
	}
	defer r.busy.Store(false)

	r.gen.Add(1)
	for !r.eos {
		if err := r.nextFrame(); err != nil {
			break
		}
		r.avail = nil
	}
	r.eos = true
}

// writeFrame sends one frame through the outgoing pipeline.
func (c *Conn) writeFrame(fin bool, op Opcode, payload []byte) error {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	return c.writeFrameLocked(fin, op, payload)
}

func (c *Conn) writeFrameLocked(fin bool, op Opcode, payload []byte) error {
	if err := c.failure(); err != nil {
		return err
	}

	// RFC 6455 Section 5.4: a data frame may not start while a fragmented
	// message is in flight, and a continuation needs one.
	switch {
	case op == OpContinuation && !c.sendFragmented:
		return ErrUnexpectedContinuation
	case (op == OpText || op == OpBinary) && c.sendFragmented:
		return ErrUnexpectedDataFrame
	}

	if err := c.state.send(op); err != nil {
		if c.state.current() == StateClosed {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return err
	}

	f := &Frame{Fin: fin, Opcode: op, Payload: payload}
	if err := c.pipe.send(f, &c.sendTerms); err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return c.failLocked(err)
		}
		return err
	}
	return nil
}

// emit is the outgoing terminal: it masks f into the scratch buffer and
// writes it to the transport in one call, so a failed send never leaves a
// partial frame behind.
func (c *Conn) emit(f *Frame) error {
	if f.Opcode.IsControl() && len(f.Payload) > maxControlPayload {
		return ErrControlTooLarge
	}

	key, err := newMaskKey()
	if err != nil {
		return err
	}

	// The reply to a CLOSE may arrive as soon as the write completes.
	if f.Opcode == OpClose {
		c.closeSent.Store(true)
	}

	c.scratch = appendFrame(c.scratch[:0], f.Fin, f.RSV, f.Opcode, f.Payload, key)
	if _, err := c.transport.Write(c.scratch); err != nil {
		return c.ioFailure(err)
	}

	if f.Opcode.IsData() {
		c.sendFragmented = !f.Fin
	}
	return nil
}

// failure returns the error that failed the connection, if any.
func (c *Conn) failure() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failErr
}

// recordFailure stores err as the connection failure. It returns the stored
// failure and whether err was the first one.
func (c *Conn) recordFailure(err error) (error, bool) {
	c.failMu.Lock()
	defer c.failMu.Unlock()

	if c.failErr != nil {
		return c.failErr, false
	}
	c.failErr = err
	return err, true
}

// fail fails the connection because of a protocol or resource error
// (RFC 6455 Section 7.1.7): state CLOSED, a best-effort CLOSE frame with the
// matching status code, transport closed. The returned *ProtocolError is
// also returned by every later read and write.
func (c *Conn) fail(err error) error {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	return c.failLocked(err)
}

func (c *Conn) failLocked(err error) error {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		pe = &ProtocolError{Code: closeCodeFor(err), Err: err}
	}

	stored, first := c.recordFailure(pe)
	if !first {
		return stored
	}

	c.state.fail()
	c.log.Warn("websocket connection failed", "code", int(pe.Code), "error", pe.Err)

	if c.closeSent.CompareAndSwap(false, true) {
		key, keyErr := newMaskKey()
		if keyErr == nil {
			c.scratch = appendFrame(c.scratch[:0], true, 0, OpClose, closePayload(pe.Code, ""), key)
			_, _ = c.transport.Write(c.scratch)
		}
	}

	c.closeTransport()
	return pe
}

// ioFailure fails the connection because the transport broke. No close
// frame is attempted.
func (c *Conn) ioFailure(err error) error {
	stored, first := c.recordFailure(err)
	if first {
		c.state.fail()
		c.log.Warn("websocket transport failed", "error", err)
		c.closeTransport()
	}
	return stored
}

// readFailed classifies an error from the read path.
//
// A failure already recorded, for instance by the write path, wins over the
// transport error it caused. Otherwise end of stream, and any read error
// after the local side started closing, is io.EOF. Protocol errors fail the
// connection; transport errors fail it without a close frame.
func (c *Conn) readFailed(err error) error {
	if ferr := c.failure(); ferr != nil {
		return ferr
	}
	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		return c.fail(err)
	case errors.Is(err, io.EOF), c.closing.Load():
		c.state.fail()
		c.closeTransport()
		return io.EOF
	default:
		return c.ioFailure(err)
	}
}

// closeTransport closes the underlying stream once.
func (c *Conn) closeTransport() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		if err := c.transport.Close(); err != nil {
			c.log.Debug("websocket transport close", "error", err)
		}
		close(c.done)
	})
}
