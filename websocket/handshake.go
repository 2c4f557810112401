package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1" // #nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// Magic GUID from RFC 6455 Section 1.3.
// Used for computing Sec-WebSocket-Accept header.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Dial opens a WebSocket connection to a ws:// URL.
//
// Implements the client side of RFC 6455 Section 4: Opening Handshake.
//
// Steps:
//  1. Parse URL (ws:// only; wss:// returns ErrInvalidScheme)
//  2. Dial TCP, bounded by ctx or Config.HandshakeTimeout
//  3. Send GET with Upgrade, Connection, Sec-WebSocket-Key,
//     Sec-WebSocket-Version: 13, subprotocols and the extension offer
//  4. Verify 101 Switching Protocols, Upgrade and Connection tokens
//  5. Verify Sec-WebSocket-Accept
//  6. Verify the selected subprotocol was offered
//  7. Instantiate the accepted extensions from Config.Registry
//
// The returned response has its body consumed; it is returned for its
// headers and, on failure, its status code.
//
// Example:
//
//	conn, resp, err := websocket.Dial(ctx, "ws://localhost:8080/ws", &websocket.Config{
//	    Subprotocols: []string{"chat"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//nolint:gocyclo,cyclop // Handshake requires many validation steps per RFC 6455
func Dial(ctx context.Context, rawURL string, cfg *Config) (*Conn, *http.Response, error) {
	c := cfg.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("websocket: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws":
	case "wss":
		return nil, nil, fmt.Errorf("%w: %s (TLS is not supported)", ErrInvalidScheme, u.Scheme)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidScheme, u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.HandshakeTimeout)
		defer cancel()
	}

	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, nil, fmt.Errorf("websocket: dial %s: %w", host, err)
	}

	// Bound the handshake I/O by the context deadline.
	deadline, _ := ctx.Deadline()
	_ = netConn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = netConn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	conn, resp, err := handshake(netConn, u, &c)
	if err != nil {
		_ = netConn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, resp, fmt.Errorf("%w: %w", ctxErr, err)
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, resp, fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return nil, resp, err
	}

	if !stop() {
		_ = conn.transport.Close()
		return nil, resp, ctx.Err()
	}
	_ = netConn.SetDeadline(time.Time{})

	return conn, resp, nil
}

// handshake performs the opening handshake over netConn.
func handshake(netConn net.Conn, u *url.URL, cfg *Config) (*Conn, *http.Response, error) {
	key, err := newChallengeKey()
	if err != nil {
		return nil, nil, err
	}

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        &url.URL{Path: u.EscapedPath(), RawQuery: u.RawQuery},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       u.Host,
	}
	if req.URL.Path == "" {
		req.URL.Path = "/"
	}
	for k, vs := range cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")
	if len(cfg.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(cfg.Subprotocols, ", "))
	}
	if cfg.Registry != nil {
		if offer := cfg.Registry.Offer(); offer != "" {
			req.Header.Set("Sec-WebSocket-Extensions", offer)
		}
	}

	if err := req.Write(netConn); err != nil {
		return nil, nil, fmt.Errorf("websocket: write handshake: %w", err)
	}

	br := bufio.NewReaderSize(netConn, cfg.ReadBufferSize)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, fmt.Errorf("websocket: read handshake response: %w", err)
	}
	_ = resp.Body.Close()

	if err := verifyResponse(resp, key, cfg.Subprotocols); err != nil {
		return nil, resp, err
	}

	var exts []*Extension
	if header := strings.Join(resp.Header.Values("Sec-WebSocket-Extensions"), ", "); header != "" {
		if cfg.Registry == nil {
			return nil, resp, fmt.Errorf("%w: %s (none offered)", ErrUnsupportedExtension, header)
		}
		if exts, err = cfg.Registry.Negotiate(header); err != nil {
			return nil, resp, err
		}
	}

	// Frames may have arrived together with the response.
	var buffered []byte
	if n := br.Buffered(); n > 0 {
		buffered, _ = br.Peek(n)
	}

	conn, err := newConn(netConn, cfg, exts, buffered, resp.Header.Get("Sec-WebSocket-Protocol"))
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// verifyResponse checks the server's handshake response.
//
// RFC 6455 Section 4.1: the client MUST fail the connection if any of these
// checks fails.
func verifyResponse(resp *http.Response, key string, offered []string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("%w: status %d", ErrBadHandshake, resp.StatusCode)
	}
	if !httpguts.HeaderValuesContainsToken(resp.Header.Values("Upgrade"), "websocket") {
		return fmt.Errorf("%w: missing Upgrade: websocket", ErrBadHandshake)
	}
	if !httpguts.HeaderValuesContainsToken(resp.Header.Values("Connection"), "upgrade") {
		return fmt.Errorf("%w: missing Connection: Upgrade", ErrBadHandshake)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != computeAcceptKey(key) {
		return fmt.Errorf("%w: Sec-WebSocket-Accept mismatch", ErrBadHandshake)
	}
	if proto := resp.Header.Get("Sec-WebSocket-Protocol"); proto != "" && !slices.Contains(offered, proto) {
		return fmt.Errorf("%w: subprotocol %q was not offered", ErrBadHandshake, proto)
	}
	return nil
}

// newChallengeKey returns a random Sec-WebSocket-Key.
//
// RFC 6455 Section 4.1: a randomly selected 16-byte value, base64-encoded.
func newChallengeKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("websocket: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// computeAcceptKey computes Sec-WebSocket-Accept from client key.
//
// RFC 6455 Section 1.3:
//
//	Sec-WebSocket-Accept = base64(SHA-1(key + GUID))
//
// Where GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11".
//
// Example:
//
//	key := "dGhlIHNhbXBsZSBub25jZQ=="
//	accept := computeAcceptKey(key)
//	// accept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
func computeAcceptKey(key string) string {
	// #nosec G401 - SHA-1 required by RFC 6455 Section 1.3 (not for cryptographic security)
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
