package websocket

import (
	"io"
)

// MessageWriter streams one outgoing message.
//
// Bytes are collected in a buffer of Config.MaxFramePayloadLength bytes and
// sent as a frame whenever the buffer is full and more data arrives; Close
// sends the final frame. The connection's message lock is held from
// NextWriter until Close, so other message writes wait. Control frames (Pong,
// Close) may still interleave.
type MessageWriter struct {
	c      *Conn
	op     Opcode
	buf    []byte
	text   bool
	dec    utf8Decoder
	enc    utf16Encoder
	err    error
	closed bool
}

var _ io.WriteCloser = (*MessageWriter)(nil)

// NextWriter starts a message of the given type. The caller must Close the
// returned writer.
func (c *Conn) NextWriter(messageType MessageType) (*MessageWriter, error) {
	if messageType != TextMessage && messageType != BinaryMessage {
		return nil, ErrInvalidMessageType
	}

	c.msgMu.Lock()
	if err := c.failure(); err != nil {
		c.msgMu.Unlock()
		return nil, err
	}

	return &MessageWriter{
		c:    c,
		op:   messageType.opcode(),
		buf:  make([]byte, 0, c.cfg.MaxFramePayloadLength),
		text: messageType == TextMessage,
	}, nil
}

// Write appends p to the message. Text must be valid UTF-8, although a
// character may be split between two calls. Invalid input is rejected with
// ErrInvalidUTF8 before any of p is buffered.
func (w *MessageWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	if w.text {
		d := w.dec
		if err := d.validate(p); err != nil {
			return 0, err
		}
		w.dec = d
	}

	n := 0
	for len(p) > 0 {
		if len(w.buf) == cap(w.buf) {
			if err := w.flush(false); err != nil {
				return n, err
			}
		}
		k := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+k]
		p = p[k:]
		n += k
	}
	return n, nil
}

// WriteString appends s to the message.
func (w *MessageWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// WriteRunes appends the UTF-8 encoding of rs and returns the number of
// runes written. Runes that are not valid Unicode scalar values are rejected
// before anything is buffered.
func (w *MessageWriter) WriteRunes(rs []rune) (int, error) {
	n, err := runesByteCount(rs)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(appendRunes(make([]byte, 0, n), rs)); err != nil {
		return 0, err
	}
	return len(rs), nil
}

// WriteUTF16 appends UTF-16 code units and returns the number written. A
// high surrogate at the end of one call pairs with a low surrogate at the
// start of the next; unpaired surrogates are rejected.
func (w *MessageWriter) WriteUTF16(us []uint16) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	n, err := w.enc.byteCount(us)
	if err != nil {
		return 0, err
	}

	enc := w.enc
	b := enc.append(make([]byte, 0, n), us)
	if _, err := w.Write(b); err != nil {
		return 0, err
	}
	w.enc = enc
	return len(us), nil
}

func (w *MessageWriter) flush(fin bool) error {
	if err := w.c.writeFrame(fin, w.op, w.buf); err != nil {
		w.err = err
		return err
	}
	w.op = OpContinuation
	w.buf = w.buf[:0]
	return nil
}

// Close sends the final frame and releases the message lock. A text message
// that ends inside a character fails the connection with 1007, since part
// of it may already be on the wire.
//
// Idempotent - safe to call multiple times.
func (w *MessageWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.c.msgMu.Unlock()

	if w.err != nil {
		return w.err
	}

	if w.text {
		if err := w.enc.finish(); err != nil {
			return w.c.fail(&ProtocolError{Code: CloseInvalidFramePayloadData, Err: err})
		}
		if err := w.dec.finish(); err != nil {
			return w.c.fail(&ProtocolError{Code: CloseInvalidFramePayloadData, Err: err})
		}
	}

	return w.flush(true)
}
