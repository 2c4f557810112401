package websocket

import (
	"fmt"
	"sync"
)

// State is the protocol state of a connection.
type State int32

const (
	// StateStart is the state before the opening handshake completes.
	StateStart State = iota

	// StateOpen allows data and control frames in both directions.
	StateOpen

	// StateCloseFrameReceived means the peer sent CLOSE and the local CLOSE
	// has not been sent yet.
	StateCloseFrameReceived

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateOpen:
		return "OPEN"
	case StateCloseFrameReceived:
		return "CLOSE_FRAME_RECEIVED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// stateMachine guards the frame transitions of one connection.
//
// Receive from OPEN: PING, PONG, TEXT, BINARY, CONTINUATION stay OPEN; CLOSE
// moves to CLOSE_FRAME_RECEIVED.
// Send from OPEN: PONG, TEXT, BINARY, CONTINUATION stay OPEN; CLOSE from OPEN
// or CLOSE_FRAME_RECEIVED moves to CLOSED.
// Any other transition fails with a *TransitionError and leaves the state
// unchanged.
type stateMachine struct {
	mu    sync.Mutex
	state State
}

func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// open completes START -> OPEN.
func (m *stateMachine) open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStart {
		return fmt.Errorf("%w: open in state %s", ErrIllegalState, m.state)
	}
	m.state = StateOpen
	return nil
}

// receive applies the transition for a received frame with opcode op.
func (m *stateMachine) receive(op Opcode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateOpen {
		switch op {
		case OpPing, OpPong, OpText, OpBinary, OpContinuation:
			return nil
		case OpClose:
			m.state = StateCloseFrameReceived
			return nil
		}
	}
	return &TransitionError{State: m.state, Op: op}
}

// send applies the transition for a frame about to be sent with opcode op.
func (m *stateMachine) send(op Opcode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateOpen:
		switch op {
		case OpPong, OpText, OpBinary, OpContinuation:
			return nil
		case OpClose:
			m.state = StateClosed
			return nil
		}
	case StateCloseFrameReceived:
		if op == OpClose {
			m.state = StateClosed
			return nil
		}
	}
	return &TransitionError{State: m.state, Op: op, Send: true}
}

// fail forces CLOSED.
func (m *stateMachine) fail() {
	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()
}
