package websocket

import (
	"errors"
	"io"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

type readPhase int

const (
	// readInitial: no fragmented message in progress; the next data frame
	// must be TEXT or BINARY.
	readInitial readPhase = iota

	// readProcessFrame: a fragmented message awaits CONTINUATION frames.
	readProcessFrame
)

// reader is the read path of a connection: network buffer, reassembly
// state and UTF-8 state. Only the goroutine holding busy touches it.
type reader struct {
	c     *Conn
	nb    *netBuffer
	terms terminals

	phase   readPhase
	msgType MessageType
	started bool   // set by the data terminal when a message begins
	avail   []byte // unread payload of the current data frame
	pending int    // wire bytes of the current frame not yet consumed
	eos     bool
	dec     utf8Decoder

	// gen identifies the live Message; busy is the owner flag taken by every
	// read entry point.
	gen  atomic.Uint64
	busy atomic.Bool
}

func newReader(c *Conn, buffered []byte) *reader {
	r := &reader{
		c:  c,
		nb: newNetBuffer(c.transport, c.cfg.ReadBufferSize),
	}
	if len(buffered) > 0 {
		r.nb.prime(buffered)
	}

	r.terms[OpText] = r.onData
	r.terms[OpBinary] = r.onData
	r.terms[OpContinuation] = r.onContinuation
	r.terms[OpPing] = r.onPing
	r.terms[OpPong] = r.onPong
	r.terms[OpClose] = r.onClose
	return r
}

// nextFrame decodes and dispatches exactly one frame. Data terminals leave
// the payload in avail; control frames are handled in place.
func (r *reader) nextFrame() error {
	c := r.c

	if r.pending > 0 {
		r.nb.consume(r.pending)
		r.pending = 0
	}

	h, payload, err := r.nb.next(c.pipe.rsv, c.cfg.MaxFrameLength)
	if err != nil {
		return c.readFailed(err)
	}
	r.pending = int(h.total())

	// After the local CLOSE only the server's CLOSE matters
	// (RFC 6455 Section 5.5.1).
	if c.closeSent.Load() {
		if h.opcode != OpClose {
			return nil
		}
		if code, reason, err := parseClosePayload(payload); err == nil {
			c.peerClose.Store(&CloseError{Code: code, Reason: reason})
		}
		c.log.Debug("websocket close handshake complete")
		r.eos = true
		c.closeTransport()
		return io.EOF
	}

	if err := c.state.receive(h.opcode); err != nil {
		return c.fail(&ProtocolError{Code: CloseProtocolError, Err: err})
	}

	f := Frame{Fin: h.fin, RSV: h.rsv, Opcode: h.opcode, Payload: payload}
	if err := c.pipe.receive(&f, &r.terms); err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return c.fail(err)
		}
		return err
	}
	return nil
}

// onData handles the first frame of a message.
//
// RFC 6455 Section 5.4: TEXT and BINARY may only start a message.
func (r *reader) onData(f *Frame) error {
	if r.phase == readProcessFrame {
		return protocolErr(CloseProtocolError, "%w", ErrUnexpectedDataFrame)
	}

	r.msgType = MessageType(f.Opcode)
	r.started = true
	r.avail = f.Payload
	r.dec.reset()
	if !f.Fin {
		r.phase = readProcessFrame
	}
	return nil
}

// onContinuation handles the frames after the first.
func (r *reader) onContinuation(f *Frame) error {
	if r.phase != readProcessFrame {
		return protocolErr(CloseProtocolError, "%w", ErrUnexpectedContinuation)
	}

	r.avail = f.Payload
	if f.Fin {
		r.phase = readInitial
	}
	return nil
}

// onPing answers with a Pong carrying the same application data
// (RFC 6455 Section 5.5.2).
func (r *reader) onPing(f *Frame) error {
	r.c.log.Debug("websocket ping received", "len", len(f.Payload))
	return r.c.writeFrame(true, OpPong, f.Payload)
}

func (r *reader) onPong(f *Frame) error {
	r.c.log.Debug("websocket pong received", "len", len(f.Payload))
	return nil
}

// onClose validates the server's close frame, echoes its status code and
// ends the stream (RFC 6455 Section 5.5.1).
func (r *reader) onClose(f *Frame) error {
	c := r.c

	code, reason, err := parseClosePayload(f.Payload)
	if err != nil {
		return err
	}
	c.peerClose.Store(&CloseError{Code: code, Reason: reason})
	c.log.Debug("websocket close received", "code", int(code), "reason", reason)

	var echo []byte
	if code != CloseNoStatusReceived {
		echo = closePayload(code, "")
	}
	if err := c.writeFrame(true, OpClose, echo); err != nil {
		return err
	}

	r.eos = true
	c.closeTransport()
	return io.EOF
}

// discardMessage drops the rest of the current message.
func (r *reader) discardMessage() error {
	r.avail = nil
	for r.phase == readProcessFrame {
		if err := r.nextFrame(); err != nil {
			return err
		}
		r.avail = nil
	}
	r.dec.reset()
	return nil
}

// fillStream makes sure avail holds payload of the current message. It
// returns io.EOF once the final frame has been consumed.
func (r *reader) fillStream() error {
	for len(r.avail) == 0 {
		if r.phase != readProcessFrame {
			return io.EOF
		}
		if err := r.nextFrame(); err != nil {
			if ferr := r.c.failure(); ferr != nil {
				return ferr
			}
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// NextMessage waits for the next message and returns its handle.
//
// The unread rest of the previous message is discarded and its handle stops
// working (ErrNotOwner). Control frames arriving in between are handled
// automatically. NextMessage returns io.EOF once the connection is closed;
// the server's status is available from CloseStatus.
//
// Only one goroutine may read at a time; a concurrent call fails with
// ErrConcurrentRead.
func (c *Conn) NextMessage() (*Message, error) {
	r := c.rd
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrConcurrentRead
	}
	defer r.busy.Store(false)

	gen := r.gen.Add(1)

	if err := c.failure(); err != nil {
		return nil, err
	}
	if r.eos {
		return nil, io.EOF
	}

	if err := r.discardMessage(); err != nil {
		return nil, err
	}

	r.started = false
	for !r.started {
		if err := r.nextFrame(); err != nil {
			return nil, err
		}
	}

	m := &Message{r: r, gen: gen, typ: r.msgType, length: -1}
	if r.phase == readInitial {
		m.length = int64(len(r.avail))
	}
	return m, nil
}

type readMode int

const (
	modeNone readMode = iota
	modeFull
	modeBytes
	modeRunes
	modeUTF16
)

// Message is the handle of the message currently being read.
//
// A message whose first frame is final has a known length and may be read
// at once with ReadFull or ReadFullRunes. Any message may be streamed with
// Read, ReadRunes or ReadUTF16. A message is consumed in one mode only;
// switching returns ErrReadModeMixed.
//
// The handle belongs to the goroutine that called NextMessage. It stops
// working when NextMessage is called again.
type Message struct {
	r      *reader
	gen    uint64
	typ    MessageType
	length int64
	mode   readMode
	text   io.Reader
	done   bool
}

// Type returns TextMessage or BinaryMessage.
func (m *Message) Type() MessageType {
	return m.typ
}

// Len returns the payload length in bytes when it is known up front.
func (m *Message) Len() (int64, bool) {
	return m.length, m.length >= 0
}

func (m *Message) acquire(mode readMode) error {
	r := m.r
	if !r.busy.CompareAndSwap(false, true) {
		return ErrConcurrentRead
	}
	if r.gen.Load() != m.gen {
		r.busy.Store(false)
		return ErrNotOwner
	}
	if mode != modeNone && m.mode != modeNone && m.mode != mode {
		r.busy.Store(false)
		return ErrReadModeMixed
	}
	return nil
}

func (m *Message) release() {
	m.r.busy.Store(false)
}

// invalidText fails the connection with 1007.
func (m *Message) invalidText(err error) error {
	return m.r.c.fail(&ProtocolError{Code: CloseInvalidFramePayloadData, Err: err})
}

// ReadFull copies the whole message into p and returns its length.
//
// ReadFull requires a known length (ErrFragmentedMessage otherwise) and a
// buffer large enough for it (ErrBufferTooSmall otherwise; nothing is
// consumed). Text is validated before it is returned. A second call returns
// io.EOF.
func (m *Message) ReadFull(p []byte) (int, error) {
	if err := m.acquire(modeFull); err != nil {
		return 0, err
	}
	defer m.release()

	if m.length < 0 {
		return 0, ErrFragmentedMessage
	}
	if m.done {
		return 0, io.EOF
	}
	if int64(len(p)) < m.length {
		return 0, ErrBufferTooSmall
	}

	r := m.r
	if m.typ == TextMessage {
		if err := r.dec.validate(r.avail); err != nil {
			return 0, m.invalidText(err)
		}
		if err := r.dec.finish(); err != nil {
			return 0, m.invalidText(err)
		}
	}

	n := copy(p, r.avail)
	r.avail = nil
	m.mode = modeFull
	m.done = true
	return n, nil
}

// ReadFullRunes decodes the whole text message into dst and returns the
// number of characters.
func (m *Message) ReadFullRunes(dst []rune) (int, error) {
	if m.typ != TextMessage {
		return 0, ErrInvalidMessageType
	}
	if err := m.acquire(modeFull); err != nil {
		return 0, err
	}
	defer m.release()

	if m.length < 0 {
		return 0, ErrFragmentedMessage
	}
	if m.done {
		return 0, io.EOF
	}

	r := m.r
	if err := r.dec.validate(r.avail); err != nil {
		return 0, m.invalidText(err)
	}
	if err := r.dec.finish(); err != nil {
		return 0, m.invalidText(err)
	}
	if utf8.RuneCount(r.avail) > len(dst) {
		return 0, ErrBufferTooSmall
	}

	n, _, err := r.dec.decode(dst, r.avail)
	if err != nil {
		return 0, m.invalidText(err)
	}
	r.avail = nil
	m.mode = modeFull
	m.done = true
	return n, nil
}

// Read implements io.Reader over the message payload, pulling frames as
// needed. Text is validated as it streams; invalid UTF-8 fails the
// connection with 1007. Read returns io.EOF at the end of the message.
func (m *Message) Read(p []byte) (int, error) {
	if err := m.acquire(modeBytes); err != nil {
		return 0, err
	}
	defer m.release()
	m.mode = modeBytes

	if m.typ != TextMessage {
		return m.readRaw(p)
	}

	if m.text == nil {
		m.r.dec.reset()
		m.text = transform.NewReader(rawMessage{m}, &m.r.dec)
	}
	n, err := m.text.Read(p)
	if err != nil && errors.Is(err, ErrInvalidUTF8) {
		return n, m.invalidText(err)
	}
	return n, err
}

func (m *Message) readRaw(p []byte) (int, error) {
	if m.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	r := m.r
	if err := r.fillStream(); err != nil {
		if err == io.EOF {
			m.done = true
		}
		return 0, err
	}
	n := copy(p, r.avail)
	r.avail = r.avail[n:]
	return n, nil
}

// rawMessage feeds unvalidated payload to the text transformer while the
// caller already holds the message.
type rawMessage struct {
	m *Message
}

func (rm rawMessage) Read(p []byte) (int, error) {
	return rm.m.readRaw(p)
}

// ReadRunes decodes the next characters of a text message into dst. A
// character split across frames is returned once complete. ReadRunes
// returns io.EOF at the end of the message.
func (m *Message) ReadRunes(dst []rune) (int, error) {
	if m.typ != TextMessage {
		return 0, ErrInvalidMessageType
	}
	if err := m.acquire(modeRunes); err != nil {
		return 0, err
	}
	defer m.release()
	m.mode = modeRunes

	if m.done || len(dst) == 0 {
		return m.eof()
	}

	r := m.r
	for {
		if err := r.fillStream(); err != nil {
			if err == io.EOF {
				return m.endText()
			}
			return 0, err
		}
		n, used, err := r.dec.decode(dst, r.avail)
		r.avail = r.avail[used:]
		if err != nil {
			return 0, m.invalidText(err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

// ReadUTF16 is ReadRunes for UTF-16 code units. Characters above U+FFFF
// yield a surrogate pair; if only one unit of dst is left, the low surrogate
// is returned by the next call.
func (m *Message) ReadUTF16(dst []uint16) (int, error) {
	if m.typ != TextMessage {
		return 0, ErrInvalidMessageType
	}
	if err := m.acquire(modeUTF16); err != nil {
		return 0, err
	}
	defer m.release()
	m.mode = modeUTF16

	if m.done || len(dst) == 0 {
		return m.eof()
	}

	r := m.r
	if r.dec.low != 0 {
		n, _, _ := r.dec.decodeUTF16(dst, nil)
		return n, nil
	}
	for {
		if err := r.fillStream(); err != nil {
			if err == io.EOF {
				return m.endText()
			}
			return 0, err
		}
		n, used, err := r.dec.decodeUTF16(dst, r.avail)
		r.avail = r.avail[used:]
		if err != nil {
			return 0, m.invalidText(err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (m *Message) eof() (int, error) {
	if m.done {
		return 0, io.EOF
	}
	return 0, nil
}

// endText checks that the message did not end inside a character.
func (m *Message) endText() (int, error) {
	m.done = true
	if err := m.r.dec.finish(); err != nil {
		return 0, m.invalidText(err)
	}
	return 0, io.EOF
}

// Skip discards the rest of the message without validating it.
func (m *Message) Skip() error {
	if err := m.acquire(modeNone); err != nil {
		return err
	}
	defer m.release()

	if m.done {
		return nil
	}
	m.done = true
	return m.r.discardMessage()
}
