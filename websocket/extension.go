package websocket

import (
	"errors"
	"fmt"
)

// Frame is the view of one frame handed to extension hooks.
//
// Payload aliases the connection's buffers and is valid only for the duration
// of the hook call. A hook may replace Payload (for example with decompressed
// bytes) or shorten it to zero length to consume the frame entirely; the
// reader then moves on to the next frame.
type Frame struct {
	Fin     bool
	RSV     byte // RSV1-RSV3 in their wire positions (0x40, 0x20, 0x10)
	Opcode  Opcode
	Payload []byte
}

// Hook observes or transforms a frame in place.
//
// Returning an error fails the connection with close code 1002.
type Hook func(*Frame) error

// Extension is the hook set of one negotiated extension instance.
//
// Every hook is optional. Hooks are keyed by direction and opcode class:
// data hooks see the first frame of a message (TEXT or BINARY), continuation
// hooks see CONTINUATION frames and control hooks see CLOSE, PING and PONG.
//
// RFC 6455 Section 9: Extensions.
type Extension struct {
	// Name is the extension token, e.g. "permessage-deflate".
	Name string

	// RSV lists the reserved bits this extension may set. Frames with other
	// reserved bits are rejected before any hook runs.
	RSV byte

	OnDataReceived         Hook
	OnContinuationReceived Hook
	OnControlReceived      Hook

	OnDataSent         Hook
	OnContinuationSent Hook
	OnControlSent      Hook
}

func (e *Extension) receiveHook(c opClass) Hook {
	switch c {
	case classData:
		return e.OnDataReceived
	case classContinuation:
		return e.OnContinuationReceived
	default:
		return e.OnControlReceived
	}
}

func (e *Extension) sendHook(c opClass) Hook {
	switch c {
	case classData:
		return e.OnDataSent
	case classContinuation:
		return e.OnContinuationSent
	default:
		return e.OnControlSent
	}
}

// terminal is the protocol-level consumer that runs after every extension
// has seen a frame.
type terminal func(*Frame) error

// terminals maps each opcode to its terminal consumer. Lookup happens once,
// before the hook walk, so exactly one terminal handles a frame no matter how
// many extensions observed it.
type terminals [16]terminal

func (t *terminals) lookup(op Opcode) (terminal, error) {
	fn := t[op&0x0F]
	if fn == nil {
		return nil, fmt.Errorf("%w: no handler for %s", ErrInvalidOpcode, op)
	}
	return fn, nil
}

// pipeline dispatches frames through the negotiated extensions.
//
// Incoming frames walk the extensions in negotiation order, outgoing frames in
// reverse order: the last negotiated extension sits closest to the wire on
// the way out and farthest from it on the way in.
type pipeline struct {
	incoming []*Extension
	outgoing []*Extension
	rsv      byte
}

// newPipeline builds a pipeline for exts. Two extensions claiming the same
// reserved bit cannot be told apart on the wire and are rejected.
func newPipeline(exts []*Extension) (*pipeline, error) {
	p := &pipeline{
		incoming: make([]*Extension, 0, len(exts)),
		outgoing: make([]*Extension, len(exts)),
	}

	for _, e := range exts {
		if e == nil {
			continue
		}
		if e.RSV&^rsvBits != 0 {
			return nil, fmt.Errorf("%w: %s claims non-reserved bits 0x%02X", ErrUnsupportedExtension, e.Name, e.RSV)
		}
		if p.rsv&e.RSV != 0 {
			return nil, fmt.Errorf("%w: %s reuses reserved bits 0x%02X", ErrUnsupportedExtension, e.Name, p.rsv&e.RSV)
		}
		p.rsv |= e.RSV
		p.incoming = append(p.incoming, e)
	}

	p.outgoing = p.outgoing[:len(p.incoming)]
	for i, e := range p.incoming {
		p.outgoing[len(p.incoming)-1-i] = e
	}

	return p, nil
}

// names returns the extension names in negotiation order.
func (p *pipeline) names() []string {
	names := make([]string, len(p.incoming))
	for i, e := range p.incoming {
		names[i] = e.Name
	}
	return names
}

// receive runs the incoming hooks for f's opcode class, then the terminal
// selected for f's opcode.
func (p *pipeline) receive(f *Frame, t *terminals) error {
	term, err := t.lookup(f.Opcode)
	if err != nil {
		return err
	}

	class := classOf(f.Opcode)
	for _, e := range p.incoming {
		if hook := e.receiveHook(class); hook != nil {
			if err := hook(f); err != nil {
				return hookError(e, err)
			}
		}
	}

	return term(f)
}

// send runs the outgoing hooks for f's opcode class, then the terminal that
// writes f to the transport.
func (p *pipeline) send(f *Frame, t *terminals) error {
	term, err := t.lookup(f.Opcode)
	if err != nil {
		return err
	}

	class := classOf(f.Opcode)
	for _, e := range p.outgoing {
		if hook := e.sendHook(class); hook != nil {
			if err := hook(f); err != nil {
				return hookError(e, err)
			}
		}
	}

	return term(f)
}

func hookError(e *Extension, err error) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	return &ProtocolError{
		Code: CloseProtocolError,
		Err:  fmt.Errorf("extension %s: %w", e.Name, err),
	}
}
