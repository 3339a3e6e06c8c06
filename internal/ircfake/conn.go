package ircfake

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const subprotocol = "text.ircv3.net"

// Conn is one connected client.
type Conn struct {
	kind Kind
	conn net.Conn
	src  io.Reader

	// wmu serializes test writes with control-frame replies.
	wmu sync.Mutex

	lines   chan string
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newTCPConn(conn net.Conn, reader *bufio.Reader) *Conn {
	return &Conn{
		kind:    KindTCP,
		conn:    conn,
		src:     reader,
		lines:   make(chan string, 256),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func upgrade(conn net.Conn, reader *bufio.Reader) (*Conn, error) {
	upgrader := ws.Upgrader{
		Protocol: func(p []byte) bool {
			return string(p) == subprotocol
		},
	}
	if _, err := upgrader.Upgrade(&bufferedConn{Conn: conn, reader: reader}); err != nil {
		return nil, err
	}

	return &Conn{
		kind:    KindWebSocket,
		conn:    conn,
		src:     reader,
		lines:   make(chan string, 256),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Kind reports how the client connected.
func (c *Conn) Kind() Kind {
	return c.kind
}

// Send writes one line to the client. The line terminator is added for TCP
// clients; WebSocket clients get one text frame.
func (c *Conn) Send(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.kind == KindWebSocket {
		return wsutil.WriteServerText(c.conn, []byte(line))
	}
	_, err := io.WriteString(c.conn, line+"\r\n")
	return err
}

// SendRaw writes bytes to a TCP client as they are, for tests that control
// how the stream is cut.
func (c *Conn) SendRaw(p []byte) error {
	if c.kind == KindWebSocket {
		return errors.New("raw writes are only supported over tcp")
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(p)
	return err
}

// Next returns the next line received from the client, without its
// terminator. It returns io.EOF once the client has gone and every line
// was consumed.
func (c *Conn) Next(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed when the client disconnects.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close hangs up. WebSocket clients get a close frame first.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)
		if c.kind == KindWebSocket {
			c.wmu.Lock()
			ws.WriteFrame(c.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
			c.wmu.Unlock()
		}
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) serve() {
	defer close(c.done)
	defer close(c.lines)

	if c.kind == KindWebSocket {
		c.serveWebSocket()
		return
	}

	scanner := bufio.NewScanner(c.src)
	for scanner.Scan() {
		if !c.record(strings.TrimSuffix(scanner.Text(), "\r")) {
			return
		}
	}
}

func (c *Conn) record(line string) bool {
	select {
	case c.lines <- line:
		return true
	case <-c.closing:
		return false
	}
}

func (c *Conn) serveWebSocket() {
	rw := struct {
		io.Reader
		io.Writer
	}{c.src, &lockedWriter{mu: &c.wmu, w: c.conn}}

	for {
		data, _, err := wsutil.ReadClientData(rw)
		if err != nil {
			return
		}
		if !c.record(string(data)) {
			return
		}
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
