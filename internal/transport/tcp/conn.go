// Package tcp provides the plain TCP transport for the IRC client.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ContextDialer opens network connections. *net.Dialer and the SOCKS5
// dialer from golang.org/x/net/proxy both satisfy it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Conn owns a stream connection that is split into a read half and a write
// half. The socket is released once both halves are closed.
type Conn struct {
	conn net.Conn
	open atomic.Int32

	read  *ReadHalf
	write *WriteHalf
}

// Dial connects to address ("host:port") through dialer.
func Dial(ctx context.Context, dialer ContextDialer, address string) (*Conn, error) {
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return NewConn(conn), nil
}

// NewConn wraps an established net.Conn.
func NewConn(conn net.Conn) *Conn {
	c := &Conn{conn: conn}
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

// ReadHalf is the read-only side of a Conn.
type ReadHalf struct {
	c    *Conn
	once sync.Once
}

// Read reads from the socket.
func (r *ReadHalf) Read(p []byte) (int, error) {
	return r.c.conn.Read(p)
}

// CloseRead stops reading. A Read blocked in another goroutine returns
// with a deadline error.
func (r *ReadHalf) CloseRead() error {
	var err error
	r.once.Do(func() {
		r.c.conn.SetReadDeadline(time.Now())
		if cr, ok := r.c.conn.(interface{ CloseRead() error }); ok {
			err = cr.CloseRead()
		}
		if rerr := r.c.release(); err == nil {
			err = rerr
		}
	})
	return err
}

// WriteHalf is the write-only side of a Conn.
type WriteHalf struct {
	c    *Conn
	once sync.Once
}

// Write writes p to the socket. Writing after the peer closed returns an
// error.
func (w *WriteHalf) Write(p []byte) (int, error) {
	return w.c.conn.Write(p)
}

// CloseWrite signals end-of-stream to the peer where the socket supports a
// half-close.
func (w *WriteHalf) CloseWrite() error {
	var err error
	w.once.Do(func() {
		if cw, ok := w.c.conn.(interface{ CloseWrite() error }); ok {
			err = cw.CloseWrite()
		}
		if rerr := w.c.release(); err == nil {
			err = rerr
		}
	})
	return err
}
