// Package ircfake is a scripted line server for tests. It accepts plain TCP
// and IRC-over-WebSocket clients on the same port, records the lines each
// client sends and lets the test send lines back or hang up.
package ircfake

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Kind is the transport a client connected with.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "ws"
)

// Server accepts connections until Close.
type Server struct {
	listener net.Listener
	logger   *slog.Logger

	accepted chan *Conn

	mu    sync.Mutex
	conns map[*Conn]struct{}

	quit chan struct{}
	wg   sync.WaitGroup
}

// Listen starts a server on address, e.g. "127.0.0.1:0". A nil logger
// discards output.
func Listen(address string, logger *slog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		listener: listener,
		logger:   logger.With("component", "ircfake"),
		accepted: make(chan *Conn, 16),
		conns:    make(map[*Conn]struct{}),
		quit:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.acceptConnections()

	return s, nil
}

// Addr returns the listening "host:port".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL returns the WebSocket URL of the server.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/"
}

// Accept waits for the next client.
func (s *Server) Accept(ctx context.Context) (*Conn, error) {
	select {
	case c := <-s.accepted:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting and disconnects every client.
func (s *Server) Close() {
	close(s.quit)
	s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Warn("accept failed", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection tells WebSocket upgrades from raw IRC by the first
// bytes, then serves the client until it disconnects.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	kind, reader, err := detectKind(conn)
	if err != nil {
		s.logger.Debug("peek failed", "error", err)
		conn.Close()
		return
	}

	var c *Conn
	switch kind {
	case KindWebSocket:
		c, err = upgrade(conn, reader)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
			conn.Close()
			return
		}
	default:
		c = newTCPConn(conn, reader)
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	s.logger.Debug("client connected", "kind", kind, "addr", conn.RemoteAddr().String())

	select {
	case s.accepted <- c:
	case <-s.quit:
		c.Close()
		return
	}

	c.serve()
}

// detectKind peeks at the first bytes: an HTTP GET starts a WebSocket
// upgrade, anything else is a raw IRC client.
func detectKind(conn net.Conn) (Kind, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	peek, err := reader.Peek(4)
	if err != nil {
		return KindTCP, reader, err
	}
	if bytes.Equal(peek, []byte("GET ")) {
		return KindWebSocket, reader, nil
	}
	return KindTCP, reader, nil
}

// bufferedConn keeps the peeked bytes in front of the socket.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}
