package websocket

import (
	"log/slog"
	"net/http"
	"time"
)

// Default limits and timeouts.
const (
	// DefaultMaxFramePayloadLength bounds the payload of one outgoing frame.
	// Larger messages are fragmented.
	DefaultMaxFramePayloadLength = 1 << 20

	// DefaultMaxFrameLength bounds one incoming frame, header included.
	DefaultMaxFrameLength = DefaultMaxFramePayloadLength + maxHeaderSize

	// DefaultMaxMessageSize bounds messages returned by Conn.Read.
	DefaultMaxMessageSize = 32 << 20

	defaultReadBufferSize   = 4096
	defaultHandshakeTimeout = 30 * time.Second
	defaultCloseTimeout     = 5 * time.Second
)

// Config configures a client connection.
//
// All fields are optional. Zero values use the defaults above.
type Config struct {
	// MaxFrameLength is the largest incoming frame accepted, header and
	// masking key included. Larger frames fail the connection with 1009.
	MaxFrameLength int64

	// MaxFramePayloadLength is the largest payload written in one frame.
	// WriteMessage and MessageWriter split longer messages.
	MaxFramePayloadLength int

	// MaxMessageSize bounds the messages returned by Conn.Read, ReadText and
	// ReadJSON. Streaming reads through NextMessage are not bounded.
	MaxMessageSize int64

	// ReadBufferSize is the initial network buffer size (default: 4096).
	// The buffer grows to fit larger frames.
	ReadBufferSize int

	// HandshakeTimeout bounds Dial when the context has no deadline.
	HandshakeTimeout time.Duration

	// CloseTimeout bounds the wait for the server's CLOSE reply.
	CloseTimeout time.Duration

	// Header is sent with the opening handshake request.
	Header http.Header

	// Subprotocols lists the subprotocols offered in Sec-WebSocket-Protocol.
	Subprotocols []string

	// Registry supplies the extensions offered during the handshake.
	// nil offers none.
	Registry *Registry

	// Logger receives connection diagnostics. nil discards them.
	Logger *slog.Logger
}

// withDefaults returns a copy of cfg with zero fields set to their defaults.
func (cfg *Config) withDefaults() Config {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.MaxFrameLength <= 0 {
		c.MaxFrameLength = DefaultMaxFrameLength
	}
	if c.MaxFramePayloadLength <= 0 {
		c.MaxFramePayloadLength = DefaultMaxFramePayloadLength
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = defaultCloseTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}
