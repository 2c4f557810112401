package websocket

import (
	"errors"
	"io"
)

// netBuffer accumulates transport bytes until one complete frame is available.
//
// Unread bytes live in buf[r:w]. The buffer compacts (shifts the unread
// remainder to offset 0) before it grows, and grows by at least chunk bytes or
// to fit an oversized frame. Payload views returned by next stay valid until
// the following consume.
type netBuffer struct {
	src   io.Reader
	buf   []byte
	r, w  int
	chunk int
}

func newNetBuffer(src io.Reader, size int) *netBuffer {
	if size < maxHeaderSize {
		size = maxHeaderSize
	}
	return &netBuffer{
		src:   src,
		buf:   make([]byte, size),
		chunk: size,
	}
}

// prime appends bytes that were read from the transport before the buffer
// took over, such as frames that arrived together with the handshake response.
func (b *netBuffer) prime(p []byte) {
	b.reserve(len(p))
	b.w += copy(b.buf[b.w:], p)
}

// buffered returns the number of unread bytes.
func (b *netBuffer) buffered() int {
	return b.w - b.r
}

// reserve makes room for n unread bytes without reading.
func (b *netBuffer) reserve(n int) {
	if len(b.buf)-b.r >= n {
		return
	}
	if b.r > 0 {
		copy(b.buf, b.buf[b.r:b.w])
		b.w -= b.r
		b.r = 0
	}
	if len(b.buf) < n {
		size := len(b.buf) + b.chunk
		if size < n {
			size = n
		}
		grown := make([]byte, size)
		copy(grown, b.buf[:b.w])
		b.buf = grown
	}
}

// ensure blocks on transport reads until at least n unread bytes are present.
//
// A transport EOF with nothing buffered is returned as io.EOF; an EOF in the
// middle of a frame is io.ErrUnexpectedEOF.
func (b *netBuffer) ensure(n int) error {
	if b.buffered() >= n {
		return nil
	}
	b.reserve(n)
	for b.buffered() < n {
		m, err := b.src.Read(b.buf[b.w:])
		b.w += m
		if err == nil {
			continue
		}
		if b.buffered() >= n {
			return nil
		}
		if errors.Is(err, io.EOF) {
			if b.buffered() == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// next decodes exactly one frame and returns its header and a view of its
// payload. The caller must consume(h.total()) once the payload is processed.
//
// Header violations and oversized frames are returned as *ProtocolError; any
// other error comes from the transport.
func (b *netBuffer) next(rsvAllowed byte, maxFrameLength int64) (frameHeader, []byte, error) {
	if err := b.ensure(2); err != nil {
		return frameHeader{}, nil, err
	}
	if err := b.ensure(headerSize(b.buf[b.r+1])); err != nil {
		return frameHeader{}, nil, err
	}

	h, err := decodeHeader(b.buf[b.r:b.w], rsvAllowed, false)
	if err != nil {
		return h, nil, &ProtocolError{Code: CloseProtocolError, Err: err}
	}

	if h.total() > maxFrameLength {
		return h, nil, protocolErr(CloseMessageTooBig, "%w: %d byte frame exceeds limit of %d", ErrMessageTooLarge, h.total(), maxFrameLength)
	}

	total := int(h.total())
	if err := b.ensure(total); err != nil {
		return h, nil, err
	}

	return h, b.buf[b.r+h.size : b.r+total], nil
}

// consume advances the read cursor past n bytes. Both cursors reset to zero
// when the buffer drains.
func (b *netBuffer) consume(n int) {
	b.r += n
	if b.r >= b.w {
		b.r, b.w = 0, 0
	}
}
