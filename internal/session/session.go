// Package session drives one connection from registration to exit. The
// session loop is the only consumer of the inbound queue and the only
// caller of the rendering sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/ircterm/internal/client"
	"github.com/omochice/ircterm/pkg/protocol"
)

// ErrNotActive is returned by Send before registration was sent or after
// the session started closing.
var ErrNotActive = errors.New("session not active")

// Pipeline is the connection a session runs on. *client.Client implements
// it.
type Pipeline interface {
	Start(first ...protocol.Event) error
	Submit(ctx context.Context, ev protocol.Event) error
	Events() <-chan protocol.Event
	Errors() <-chan error
	Shutdown(ctx context.Context) error
	Err() error
	Stats() client.Stats
}

// DialFunc establishes the pipeline.
type DialFunc func(ctx context.Context) (Pipeline, error)

// Config configures a Session.
type Config struct {
	Register protocol.Register

	// Channels are joined right after registration.
	Channels []string

	// QuitMessage is sent when the session is interrupted.
	QuitMessage string

	// ShutdownTimeout bounds flushing the outbound queue on exit.
	ShutdownTimeout time.Duration

	// Now returns the record timestamps. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

const DefaultShutdownTimeout = 5 * time.Second

// Session is one client session.
type Session struct {
	id     string
	cfg    Config
	dial   DialFunc
	sink   Sink
	logger *slog.Logger

	state atomic.Int32

	mu   sync.Mutex
	pipe Pipeline

	echo     chan protocol.Event
	quit     chan struct{}
	quitOnce sync.Once

	active     chan struct{}
	activeOnce sync.Once
	closed     chan struct{}
	closedOnce sync.Once
}

// New returns a session that will connect with dial and render to sink.
func New(dial DialFunc, sink Sink, cfg Config) *Session {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    cfg,
		dial:   dial,
		sink:   sink,
		logger: cfg.Logger.With("component", "session", "session", id),
		echo:   make(chan protocol.Event, 16),
		quit:   make(chan struct{}),
		active: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// ID returns the session's unique id, as used in log lines.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Active is closed once the session can accept Send.
func (s *Session) Active() <-chan struct{} {
	return s.active
}

// Closed is closed once the session has ended, whether or not it became
// active.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("state change", "from", prev, "to", st)
	}

	switch st {
	case StateActive:
		s.activeOnce.Do(func() { close(s.active) })
	case StateClosed:
		s.closedOnce.Do(func() { close(s.closed) })
	}
}

// Run connects, registers and processes events until the user quits, the
// server disconnects or ctx is cancelled. Cancelling ctx counts as a user
// quit: QUIT is sent before the connection is torn down.
func (s *Session) Run(ctx context.Context) (ExitStatus, error) {
	s.setState(StateConnecting)

	pipe, err := s.dial(ctx)
	if err != nil {
		s.setState(StateClosed)
		return ExitFailure, err
	}

	s.setState(StateRegistering)

	first := []protocol.Event{s.cfg.Register}
	for _, ch := range s.cfg.Channels {
		first = append(first, protocol.Join{Channel: ch})
	}
	if err := pipe.Start(first...); err != nil {
		s.setState(StateClosed)
		return ExitFailure, fmt.Errorf("failed to start pipeline: %w", err)
	}

	s.mu.Lock()
	s.pipe = pipe
	s.mu.Unlock()

	// Registration is not acknowledged by the server; once it is queued
	// the session is active.
	s.setState(StateActive)
	s.info(fmt.Sprintf("registering as %s", s.cfg.Register.Nickname))

	events, errs := pipe.Events(), pipe.Errors()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return s.disconnected(pipe)
			}
			s.render(s.record(ev))

		case ev := <-s.echo:
			s.render(s.record(ev))

		case err := <-errs:
			s.render(Record{Time: s.cfg.Now(), Kind: KindError, Text: err.Error()})

		case <-s.quit:
			return s.close(pipe)

		case <-ctx.Done():
			s.logger.Info("interrupted, sending quit")
			qctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			if err := pipe.Submit(qctx, protocol.Quit{Reason: s.cfg.QuitMessage}); err != nil {
				s.logger.Warn("failed to queue quit", "error", err)
			}
			cancel()
			return s.close(pipe)
		}
	}
}

// Send queues ev for the server. Messages and notices are echoed locally
// since the server does not send them back. Sending Quit ends the session
// once the QUIT has been written.
func (s *Session) Send(ctx context.Context, ev protocol.Event) error {
	if s.State() != StateActive {
		return ErrNotActive
	}

	s.mu.Lock()
	pipe := s.pipe
	s.mu.Unlock()

	if err := pipe.Submit(ctx, ev); err != nil {
		return err
	}

	switch ev := ev.(type) {
	case protocol.Quit:
		s.quitOnce.Do(func() { close(s.quit) })
	case protocol.PrivateMessage:
		ev.Source = s.cfg.Register.Nickname
		s.offerEcho(ev)
	case protocol.Notice:
		ev.Source = s.cfg.Register.Nickname
		s.offerEcho(ev)
	}
	return nil
}

func (s *Session) offerEcho(ev protocol.Event) {
	select {
	case s.echo <- ev:
	default:
		s.logger.Debug("echo queue full, not echoing", "command", ev.Command())
	}
}

func (s *Session) close(pipe Pipeline) (ExitStatus, error) {
	s.setState(StateClosing)
	s.shutdown(pipe)
	s.setState(StateClosed)
	return ExitQuit, nil
}

func (s *Session) disconnected(pipe Pipeline) (ExitStatus, error) {
	s.setState(StateClosing)

	cause := pipe.Err()
	if cause != nil {
		s.render(Record{Time: s.cfg.Now(), Kind: KindError, Text: "connection lost: " + cause.Error()})
	} else {
		s.info("server closed the connection")
		cause = errors.New("server closed the connection")
	}

	s.shutdown(pipe)
	s.setState(StateClosed)
	return ExitDisconnected, cause
}

func (s *Session) shutdown(pipe Pipeline) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := pipe.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown incomplete", "error", err)
	}

	st := pipe.Stats()
	s.logger.Info("session closed",
		"dropped_pongs", st.DroppedPongs,
		"dropped_inbound", st.DroppedInbound,
		"unserializable", st.Unserializable,
		"oversized_lines", st.OversizedLines,
	)
}

func (s *Session) record(ev protocol.Event) Record {
	return Record{
		Time:    s.cfg.Now(),
		Kind:    KindEvent,
		Command: ev.Command(),
		Source:  protocol.SourceOf(ev),
		Text:    protocol.Display(ev),
	}
}

func (s *Session) info(text string) {
	s.render(Record{Time: s.cfg.Now(), Kind: KindInfo, Text: text})
}

func (s *Session) render(r Record) {
	if err := s.sink.Render(r); err != nil {
		s.logger.Warn("render failed", "error", err)
	}
}
