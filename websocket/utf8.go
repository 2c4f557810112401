package websocket

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

// utf8Decoder validates and decodes UTF-8 incrementally.
//
// A multi-byte sequence may be split across frames (RFC 6455 Section 5.6:
// text is validated over the whole message, not per frame). The pending
// codepoint and the number of continuation bytes still expected survive
// between calls until finish or reset.
type utf8Decoder struct {
	cp   rune   // codepoint bits collected so far
	need int    // continuation bytes still expected
	min  rune   // smallest codepoint allowed for the current length
	low  uint16 // low surrogate waiting for room in a UTF-16 destination
}

var _ transform.Transformer = (*utf8Decoder)(nil)

func (d *utf8Decoder) reset() {
	*d = utf8Decoder{}
}

// Reset implements transform.Resetter.
func (d *utf8Decoder) Reset() {
	d.reset()
}

// pending reports whether a sequence is partially decoded.
func (d *utf8Decoder) pending() bool {
	return d.need > 0 || d.low != 0
}

// step feeds one byte. ok is true when c completed the codepoint r.
func (d *utf8Decoder) step(c byte) (r rune, ok bool, err error) {
	if d.need == 0 {
		switch {
		case c < 0x80:
			return rune(c), true, nil
		case c >= 0xC2 && c <= 0xDF:
			d.cp, d.need, d.min = rune(c&0x1F), 1, 0x80
		case c&0xF0 == 0xE0:
			d.cp, d.need, d.min = rune(c&0x0F), 2, 0x800
		case c >= 0xF0 && c <= 0xF4:
			d.cp, d.need, d.min = rune(c&0x07), 3, 0x10000
		default:
			d.reset()
			return 0, false, fmt.Errorf("%w: invalid leading byte 0x%02X", ErrInvalidUTF8, c)
		}
		return 0, false, nil
	}

	if c&0xC0 != 0x80 {
		d.reset()
		return 0, false, fmt.Errorf("%w: invalid continuation byte 0x%02X", ErrInvalidUTF8, c)
	}
	d.cp = d.cp<<6 | rune(c&0x3F)
	d.need--

	// Reject overlong, surrogate and out-of-range forms as early as the
	// second byte allows, so a bad sequence fails before the frame ends.
	if d.need == 0 || (d.min == 0x800 && d.need == 1) || (d.min == 0x10000 && d.need == 2) {
		shift := uint(6 * d.need)
		lo, hi := d.min>>shift, rune(utf8.MaxRune)>>shift
		v := d.cp
		if v < lo || v > hi || (d.min == 0x800 && v >= 0xD800>>shift && v <= 0xDFFF>>shift) {
			d.reset()
			return 0, false, fmt.Errorf("%w: invalid sequence", ErrInvalidUTF8)
		}
	}
	if d.need > 0 {
		return 0, false, nil
	}

	r = d.cp
	d.cp, d.min = 0, 0
	return r, true, nil
}

// decode decodes src into runes. It stops when dst is full; a trailing
// partial sequence is consumed and completed by a later call.
func (d *utf8Decoder) decode(dst []rune, src []byte) (nDst, nSrc int, err error) {
	for nSrc < len(src) && nDst < len(dst) {
		r, ok, err := d.step(src[nSrc])
		nSrc++
		if err != nil {
			return nDst, nSrc, err
		}
		if ok {
			dst[nDst] = r
			nDst++
		}
	}
	return nDst, nSrc, nil
}

// decodeUTF16 decodes src into UTF-16 code units. Codepoints above U+FFFF are
// written as a surrogate pair; when only one slot is left the low surrogate
// is held back and written first by the next call.
func (d *utf8Decoder) decodeUTF16(dst []uint16, src []byte) (nDst, nSrc int, err error) {
	if d.low != 0 && len(dst) > 0 {
		dst[0] = d.low
		d.low = 0
		nDst = 1
	}
	for nSrc < len(src) && nDst < len(dst) {
		r, ok, err := d.step(src[nSrc])
		nSrc++
		if err != nil {
			return nDst, nSrc, err
		}
		if !ok {
			continue
		}
		if r < 0x10000 {
			dst[nDst] = uint16(r)
			nDst++
			continue
		}
		hi, lo := utf16.EncodeRune(r)
		dst[nDst] = uint16(hi)
		nDst++
		if nDst < len(dst) {
			dst[nDst] = uint16(lo)
			nDst++
		} else {
			d.low = uint16(lo)
		}
	}
	return nDst, nSrc, nil
}

// validate feeds b through the decoder without producing output.
func (d *utf8Decoder) validate(b []byte) error {
	for _, c := range b {
		if _, _, err := d.step(c); err != nil {
			return err
		}
	}
	return nil
}

// finish ends the message. A sequence left incomplete is an error.
func (d *utf8Decoder) finish() error {
	incomplete := d.need > 0
	d.reset()
	if incomplete {
		return fmt.Errorf("%w: truncated sequence at end of message", ErrInvalidUTF8)
	}
	return nil
}

// Transform implements transform.Transformer as a validating copy.
func (d *utf8Decoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		c := src[nSrc]
		if _, _, err := d.step(c); err != nil {
			return nDst, nSrc, err
		}
		dst[nDst] = c
		nDst++
		nSrc++
	}
	if atEOF {
		if err := d.finish(); err != nil {
			return nDst, nSrc, err
		}
	}
	return nDst, nSrc, nil
}

// runesByteCount returns the UTF-8 length of rs.
func runesByteCount(rs []rune) (int, error) {
	n := 0
	for _, r := range rs {
		l := utf8.RuneLen(r)
		if l < 0 {
			return 0, fmt.Errorf("%w: rune U+%04X", ErrInvalidUTF8, r)
		}
		n += l
	}
	return n, nil
}

// appendRunes appends the minimal UTF-8 encoding of rs. The runes must have
// passed runesByteCount.
func appendRunes(dst []byte, rs []rune) []byte {
	for _, r := range rs {
		dst = utf8.AppendRune(dst, r)
	}
	return dst
}

// utf16Encoder converts UTF-16 code units to UTF-8. A high surrogate at the
// end of one call pairs with a low surrogate at the start of the next.
type utf16Encoder struct {
	high uint16
}

// byteCount returns the UTF-8 length of src without changing state. The
// bytes of a pair completed by src are counted; a trailing high surrogate
// is not.
func (e *utf16Encoder) byteCount(src []uint16) (int, error) {
	n := 0
	high := e.high
	for _, u := range src {
		switch {
		case high != 0:
			if !utf16.IsSurrogate(rune(u)) || u < 0xDC00 {
				return 0, fmt.Errorf("%w: unpaired high surrogate 0x%04X", ErrInvalidUTF8, high)
			}
			n += 4
			high = 0
		case u >= 0xD800 && u < 0xDC00:
			high = u
		case u >= 0xDC00 && u <= 0xDFFF:
			return 0, fmt.Errorf("%w: unpaired low surrogate 0x%04X", ErrInvalidUTF8, u)
		default:
			n += utf8.RuneLen(rune(u))
		}
	}
	return n, nil
}

// append encodes src after dst. src must have passed byteCount.
func (e *utf16Encoder) append(dst []byte, src []uint16) []byte {
	for _, u := range src {
		switch {
		case e.high != 0:
			dst = utf8.AppendRune(dst, utf16.DecodeRune(rune(e.high), rune(u)))
			e.high = 0
		case u >= 0xD800 && u < 0xDC00:
			e.high = u
		default:
			dst = utf8.AppendRune(dst, rune(u))
		}
	}
	return dst
}

// finish reports a high surrogate left without its pair.
func (e *utf16Encoder) finish() error {
	high := e.high
	e.high = 0
	if high != 0 {
		return fmt.Errorf("%w: unpaired high surrogate 0x%04X", ErrInvalidUTF8, high)
	}
	return nil
}
