// Package transport establishes the client's single connection to the
// server and splits it into independently owned read and write halves.
//
// Addresses of the form "host:port" use plain TCP; "ws://" and "wss://"
// URLs use IRC over WebSocket. Either can be routed through a SOCKS5 proxy.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/omochice/ircterm/internal/transport/tcp"
	"github.com/omochice/ircterm/internal/transport/ws"
)

// ReadHalf is the read-only side of a connection.
type ReadHalf interface {
	io.Reader

	// CloseRead stops reading. A Read blocked in another goroutine
	// returns promptly with an error.
	CloseRead() error
}

// WriteHalf is the write-only side of a connection.
type WriteHalf interface {
	io.Writer

	// CloseWrite signals end-of-stream to the peer.
	CloseWrite() error
}

// Kind selects the wire transport.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "ws"
)

// Options configures Dial.
type Options struct {
	// Address is "host:port" for TCP or a ws:// / wss:// URL.
	Address string

	// Kind forces a transport. Empty infers it from Address.
	Kind Kind

	// Proxy is an optional SOCKS5 proxy, "host:port" or
	// "socks5://[user:password@]host:port".
	Proxy string

	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// Conn is an established connection, ready to be split.
type Conn struct {
	kind   Kind
	remote string
	read   ReadHalf
	write  WriteHalf
	close  func() error
}

// Dial opens the connection described by opts.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	dialer, err := NewDialer(opts.Proxy, opts.Timeout)
	if err != nil {
		return nil, err
	}

	kind := opts.Kind
	if kind == "" {
		kind = InferKind(opts.Address)
	}

	switch kind {
	case KindTCP:
		c, err := tcp.Dial(ctx, dialer, opts.Address)
		if err != nil {
			return nil, err
		}
		r, w := c.Split()
		return &Conn{kind: kind, remote: c.RemoteAddr(), read: r, write: w, close: c.Close}, nil

	case KindWebSocket:
		c, err := ws.Dial(ctx, dialer.DialContext, opts.Address)
		if err != nil {
			return nil, err
		}
		r, w := c.Split()
		return &Conn{kind: kind, remote: c.RemoteAddr(), read: r, write: w, close: c.Close}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// InferKind returns KindWebSocket for ws:// and wss:// URLs, KindTCP
// otherwise.
func InferKind(address string) Kind {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return KindWebSocket
	}
	return KindTCP
}

// Kind reports the transport in use.
func (c *Conn) Kind() Kind {
	return c.kind
}

// RemoteAddr returns the remote address for logging.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Split returns the read and write halves. They have independent
// lifetimes; the socket is released when both are closed.
func (c *Conn) Split() (ReadHalf, WriteHalf) {
	return c.read, c.write
}

// Close closes whichever halves are still open.
func (c *Conn) Close() error {
	return c.close()
}

// NewDialer returns a dialer that connects directly, or through the SOCKS5
// proxy at proxyAddr when it is set.
func NewDialer(proxyAddr string, timeout time.Duration) (tcp.ContextDialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if proxyAddr == "" {
		return direct, nil
	}

	host, auth, err := parseProxy(proxyAddr)
	if err != nil {
		return nil, err
	}

	d, err := proxy.SOCKS5("tcp", host, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("failed to configure proxy %s: %w", host, err)
	}

	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support contexts")
	}
	return cd, nil
}

func parseProxy(raw string) (string, *proxy.Auth, error) {
	if !strings.Contains(raw, "://") {
		return raw, nil, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	if u.Scheme != "socks5" {
		return "", nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}
	return u.Host, auth, nil
}
