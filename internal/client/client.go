// Package client runs the connection pipeline: a writer goroutine that
// drains the outbound queue onto the write half and a reader goroutine that
// turns the read half into events on the inbound queue, answering keepalive
// probes on its own.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/ircterm/internal/transport"
	"github.com/omochice/ircterm/pkg/protocol"
)

var (
	// ErrQueueFull is returned by Submit when the outbound queue stays full
	// for longer than Config.SubmitTimeout.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrClosed is returned by Submit and Start after shutdown began.
	ErrClosed = errors.New("client closed")
)

// Config tunes the pipeline. Zero values select the defaults.
type Config struct {
	// Charset is the WHATWG label of the wire encoding. Empty means UTF-8.
	Charset string

	// OutboundQueueSize and InboundQueueSize bound the two queues.
	OutboundQueueSize int
	InboundQueueSize  int

	// SubmitTimeout bounds how long Submit waits for room.
	SubmitTimeout time.Duration

	// DeliverTimeout bounds how long the reader waits for room on the
	// inbound queue before dropping an event.
	DeliverTimeout time.Duration

	// MaxConsecutiveErrors is the number of back-to-back read (or write)
	// failures after which the stage gives up.
	MaxConsecutiveErrors int

	// MaxLineLength bounds an unterminated line.
	MaxLineLength int

	Logger *slog.Logger
}

const (
	DefaultOutboundQueueSize    = 64
	DefaultInboundQueueSize     = 256
	DefaultSubmitTimeout        = 5 * time.Second
	DefaultDeliverTimeout       = 5 * time.Second
	DefaultMaxConsecutiveErrors = 3
	DefaultMaxLineLength        = 64 * 1024

	readBufferSize = 64 * 1024
	errorQueueSize = 16
)

func (c Config) withDefaults() Config {
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = DefaultOutboundQueueSize
	}
	if c.InboundQueueSize <= 0 {
		c.InboundQueueSize = DefaultInboundQueueSize
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = DefaultDeliverTimeout
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Stats counts events the pipeline dropped.
type Stats struct {
	// DroppedPongs counts keepalive replies that found the outbound queue
	// full.
	DroppedPongs uint64

	// DroppedInbound counts events that waited longer than DeliverTimeout
	// for room on the inbound queue.
	DroppedInbound uint64

	// Unserializable counts outbound events that failed to serialize.
	Unserializable uint64

	// OversizedLines counts unterminated lines longer than MaxLineLength.
	OversizedLines uint64
}

// Client owns one connection and the two goroutines serving it.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	charset charset

	r     transport.ReadHalf
	w     transport.WriteHalf
	close func() error

	outbound chan protocol.Event
	inbound  chan protocol.Event
	errs     chan error

	stop     chan struct{}
	stopOnce sync.Once
	// sendMu is held shared by Submit while it offers to the outbound
	// queue and exclusively by the writer before its final drain.
	sendMu sync.RWMutex
	done     chan struct{}
	started  atomic.Bool
	wg       sync.WaitGroup

	mu  sync.Mutex
	err error

	droppedPongs   atomic.Uint64
	droppedInbound atomic.Uint64
	unserializable atomic.Uint64
	oversized      atomic.Uint64
}

// Dial connects using opts and returns a client that has not started yet.
func Dial(ctx context.Context, opts transport.Options, cfg Config) (*Client, error) {
	conn, err := transport.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}

	r, w := conn.Split()
	c, err := New(r, w, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.close = conn.Close
	c.logger = c.logger.With("addr", conn.RemoteAddr(), "transport", string(conn.Kind()))
	return c, nil
}

// New builds a client around an already split connection.
func New(r transport.ReadHalf, w transport.WriteHalf, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	cs, err := lookupCharset(cfg.Charset)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "client"),
		charset:  cs,
		r:        r,
		w:        w,
		close:    func() error { return errors.Join(r.CloseRead(), w.CloseWrite()) },
		outbound: make(chan protocol.Event, cfg.OutboundQueueSize),
		inbound:  make(chan protocol.Event, cfg.InboundQueueSize),
		errs:     make(chan error, errorQueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start queues first ahead of any other outbound traffic and starts the
// reader and writer. It is typically given the registration event.
func (c *Client) Start(first ...protocol.Event) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("client already started")
	}
	if len(first) > cap(c.outbound) {
		return fmt.Errorf("%d initial events exceed outbound queue size %d", len(first), cap(c.outbound))
	}
	for _, ev := range first {
		c.outbound <- ev
	}

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()

	go func() {
		c.wg.Wait()
		close(c.done)
	}()

	c.logger.Info("pipeline started", "initial_events", len(first))
	return nil
}

// Submit queues ev for sending. It blocks until there is room, ctx ends,
// SubmitTimeout elapses (ErrQueueFull) or shutdown begins (ErrClosed).
// A nil error means ev was queued ahead of the writer's final drain; it can
// still be lost if the connection fails.
func (c *Client) Submit(ctx context.Context, ev protocol.Event) error {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.stopping() {
		return ErrClosed
	}

	timer := time.NewTimer(c.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case c.outbound <- ev:
		return nil
	case <-c.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrQueueFull
	}
}

// Events returns the inbound queue. It is closed when the reader ends.
func (c *Client) Events() <-chan protocol.Event {
	return c.inbound
}

// Errors returns transient read, write and serialization failures for
// display. Errors are dropped when nobody keeps up with the channel.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Done is closed once both goroutines have exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure that ended the pipeline, or nil if it ended
// because of end-of-stream or Shutdown.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stats returns the drop counters.
func (c *Client) Stats() Stats {
	return Stats{
		DroppedPongs:   c.droppedPongs.Load(),
		DroppedInbound: c.droppedInbound.Load(),
		Unserializable: c.unserializable.Load(),
		OversizedLines: c.oversized.Load(),
	}
}

// Shutdown stops the pipeline. The writer sends what is already queued,
// then half-closes; the reader is unblocked and exits. If ctx ends first
// the connection is closed outright.
func (c *Client) Shutdown(ctx context.Context) error {
	c.signal()

	if !c.started.Load() {
		return c.close()
	}

	if err := c.r.CloseRead(); err != nil {
		c.logger.Debug("close read half", "error", err)
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("shutdown timed out, closing connection")
		c.close()
		return ctx.Err()
	}
}

func (c *Client) signal() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// fail records err as the pipeline's terminal error and stops both stages.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.signal()
	c.r.CloseRead()
}

func (c *Client) report(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Debug("error queue full", "error", err)
	}
}
