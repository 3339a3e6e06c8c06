// Package ws provides the IRC-over-WebSocket transport using gobwas/ws.
//
// Each text frame carries one protocol line without its terminator. The
// read half re-adds the terminator so callers see the same byte stream as
// with plain TCP; the write half sends every line it is given as its own
// frame.
package ws

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Subprotocol is the IRCv3 WebSocket subprotocol for text frames.
const Subprotocol = "text.ircv3.net"

// MaxFrameSize bounds a single incoming frame.
const MaxFrameSize = 1 << 20

var lineTerminator = []byte("\r\n")

// ErrFrameTooLarge is returned when the server sends a frame larger than
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("websocket frame too large")

// DialFunc opens the underlying network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Conn owns a client WebSocket connection split into a read half and a
// write half. The socket is released once both halves are closed.
type Conn struct {
	conn net.Conn
	src  io.Reader
	open atomic.Int32

	// wmu makes each frame write atomic; it is held for one conn.Write.
	wmu sync.Mutex

	read  *ReadHalf
	write *WriteHalf
}

// Dial performs the WebSocket handshake against url ("ws://host:port/path"
// or "wss://..."), opening the socket with netDial.
func Dial(ctx context.Context, netDial DialFunc, url string) (*Conn, error) {
	dialer := ws.Dialer{
		Protocols: []string{Subprotocol},
		NetDial:   netDial,
	}

	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return newConn(conn, br), nil
}

// NewConn wraps a net.Conn whose handshake is already complete.
func NewConn(conn net.Conn) *Conn {
	return newConn(conn, nil)
}

func newConn(conn net.Conn, br *bufio.Reader) *Conn {
	c := &Conn{conn: conn, src: conn}
	if br != nil {
		c.src = br
	}
	c.open.Store(2)
	c.read = &ReadHalf{c: c}
	c.write = &WriteHalf{c: c}
	return c
}

// Split returns the two halves. Repeated calls return the same halves.
func (c *Conn) Split() (*ReadHalf, *WriteHalf) {
	return c.read, c.write
}

// RemoteAddr returns the remote address for logging.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes whichever halves are still open, releasing the socket.
func (c *Conn) Close() error {
	return errors.Join(c.read.CloseRead(), c.write.CloseWrite())
}

func (c *Conn) release() error {
	if c.open.Add(-1) == 0 {
		return c.conn.Close()
	}
	return nil
}

func (c *Conn) writeMessage(op ws.OpCode, p []byte) error {
	var frame bytes.Buffer
	if err := wsutil.WriteClientMessage(&frame, op, p); err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(frame.Bytes())
	return err
}

// ReadHalf is the read-only side of a Conn. It answers control frames
// itself.
type ReadHalf struct {
	c       *Conn
	pending []byte
	once    sync.Once
}

// Read returns bytes of the next text messages, each followed by CR LF.
func (r *ReadHalf) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		data, err := r.next()
		if err != nil {
			return 0, err
		}
		r.pending = data
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *ReadHalf) next() ([]byte, error) {
	for {
		hdr, err := ws.ReadHeader(r.c.src)
		if err != nil {
			return nil, err
		}
		if hdr.Length > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}

		payload := make([]byte, hdr.Length)
		if _, err := io.ReadFull(r.c.src, payload); err != nil {
			return nil, err
		}
		if hdr.Masked {
			ws.Cipher(payload, hdr.Mask, 0)
		}

		switch hdr.OpCode {
		case ws.OpPing:
			if err := r.c.writeMessage(ws.OpPong, payload); err != nil {
				return nil, err
			}
		case ws.OpPong:
		case ws.OpClose:
			return nil, io.EOF
		default:
			if hdr.Fin {
				payload = append(payload, lineTerminator...)
			}
			if len(payload) > 0 {
				return payload, nil
			}
		}
	}
}

// CloseRead stops reading. A Read blocked in another goroutine returns
// with a deadline error.
func (r *ReadHalf) CloseRead() error {
	var err error
	r.once.Do(func() {
		r.c.conn.SetReadDeadline(time.Now())
		err = r.c.release()
	})
	return err
}

// WriteHalf is the write-only side of a Conn.
type WriteHalf struct {
	c    *Conn
	once sync.Once
}

// Write sends each CR LF terminated line in p as one text frame. A trailing
// fragment without terminator is sent as a frame too.
func (w *WriteHalf) Write(p []byte) (int, error) {
	var n int
	for n < len(p) {
		line, _, found := bytes.Cut(p[n:], lineTerminator)
		if len(line) > 0 {
			if err := w.c.writeMessage(ws.OpText, line); err != nil {
				return n, err
			}
		}
		n += len(line)
		if found {
			n += len(lineTerminator)
		}
	}
	return n, nil
}

// CloseWrite sends a normal-closure close frame.
func (w *WriteHalf) CloseWrite() error {
	var err error
	w.once.Do(func() {
		err = w.c.writeMessage(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		if rerr := w.c.release(); err == nil {
			err = rerr
		}
	})
	return err
}
