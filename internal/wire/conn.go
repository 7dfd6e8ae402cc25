// Package wire implements the minimal RFC 6455 server side needed for JSON
// event exchange: the upgrade handshake over a hijacked connection and a
// text-frame codec. No extensions, no compression, no fragmentation.
package wire

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// websocketGUID is the fixed key-derivation constant from RFC 6455 §1.3.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// maxFramePayload bounds a single inbound frame. Anything larger than this is
// not legitimate event traffic and would let a client make us allocate
// arbitrary memory.
const maxFramePayload = 1 << 20

const (
	// OpText is the only content opcode the hub exchanges.
	OpText byte = 0x1
	// OpClose signals the peer is done; surfaced to callers as io.EOF.
	OpClose byte = 0x8
)

var (
	ErrNotHijackable = errors.New("wire: response writer does not support hijacking")
	ErrUnmaskedFrame = errors.New("wire: client frame without mask bit")
	ErrFrameTooLarge = errors.New("wire: frame payload exceeds limit")
)

// Conn is a frame-capable connection produced by Upgrade. ReadMessage and
// WriteMessage are each single-goroutine only; the hub funnels all writes for
// a connection through its write loop.
type Conn struct {
	c net.Conn
	r *bufio.Reader
}

// Upgrade validates the client's WebSocket handshake headers, hijacks the
// underlying TCP connection, and completes the 101 response. On a header
// validation error the caller still owns the ResponseWriter and should
// answer 400; after a hijack failure the socket is already closed.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if !headerHasToken(r.Header, "Connection", "upgrade") {
		return nil, errors.New("wire: missing Connection: Upgrade header")
	}
	if !headerHasToken(r.Header, "Upgrade", "websocket") {
		return nil, errors.New("wire: missing Upgrade: websocket header")
	}
	if v := r.Header.Get("Sec-WebSocket-Version"); v != "13" {
		return nil, fmt.Errorf("wire: unsupported websocket version %q", v)
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, errors.New("wire: missing Sec-WebSocket-Key header")
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, ErrNotHijackable
	}
	netConn, brw, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("wire: hijack: %w", err)
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"
	if _, err := brw.WriteString(resp); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("wire: write handshake response: %w", err)
	}
	if err := brw.Flush(); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("wire: flush handshake response: %w", err)
	}

	// Keep the hijacked bufio reader: it may already hold bytes the client
	// sent after its handshake request.
	return &Conn{c: netConn, r: brw.Reader}, nil
}

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// headerHasToken reports whether the named header contains token in its
// comma-separated value list (case-insensitive). Browsers send e.g.
// "Connection: keep-alive, Upgrade".
func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// ReadMessage reads one client frame and returns its unmasked payload and
// opcode. A close frame is reported as io.EOF. Client frames must carry the
// mask bit per RFC 6455; server-to-client traffic is never masked.
func (c *Conn) ReadMessage() ([]byte, byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, 0, err
	}

	fin := hdr[0]&0x80 != 0
	opcode := hdr[0] & 0x0f
	masked := hdr[1]&0x80 != 0
	length := uint64(hdr[1] & 0x7f)

	switch opcode {
	case OpClose:
		return nil, OpClose, io.EOF
	case OpText:
		// JSON event frame.
	default:
		return nil, opcode, fmt.Errorf("wire: unsupported opcode 0x%x", opcode)
	}
	if !fin {
		return nil, opcode, errors.New("wire: fragmented frames not supported")
	}
	if !masked {
		return nil, opcode, ErrUnmaskedFrame
	}

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(c.r, ext[:]); err != nil {
			return nil, opcode, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(c.r, ext[:]); err != nil {
			return nil, opcode, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if length > maxFramePayload {
		return nil, opcode, ErrFrameTooLarge
	}

	var mask [4]byte
	if _, err := io.ReadFull(c.r, mask[:]); err != nil {
		return nil, opcode, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, opcode, err
	}
	for i := range payload {
		payload[i] ^= mask[i%4]
	}
	return payload, opcode, nil
}

// WriteMessage JSON-serializes v and sends it as a single unmasked text
// frame. The whole frame is assembled first and written with one Write call
// so a slow peer never observes a torn header.
func (c *Conn) WriteMessage(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal message: %w", err)
	}

	n := len(payload)
	var frame []byte
	switch {
	case n < 126:
		frame = make([]byte, 0, 2+n)
		frame = append(frame, 0x80|OpText, byte(n))
	case n <= 0xffff:
		frame = make([]byte, 0, 4+n)
		frame = append(frame, 0x80|OpText, 126)
		frame = binary.BigEndian.AppendUint16(frame, uint16(n))
	default:
		frame = make([]byte, 0, 10+n)
		frame = append(frame, 0x80|OpText, 127)
		frame = binary.BigEndian.AppendUint64(frame, uint64(n))
	}
	frame = append(frame, payload...)

	if _, err := c.c.Write(frame); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// Close tears down the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	return c.c.Close()
}

// RemoteAddr reports the peer address, for logging.
func (c *Conn) RemoteAddr() string {
	return c.c.RemoteAddr().String()
}
