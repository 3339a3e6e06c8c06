package client

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/omochice/ircterm/pkg/protocol"
)

// readLoop is the only user of the read half and the only sender on the
// inbound queue, which it closes on exit.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.inbound)
	defer c.r.CloseRead()
	defer c.signal()

	buf := make([]byte, readBufferSize)
	lines := newLineBuffer(c.cfg.MaxLineLength)

	var failures int
	for {
		n, err := c.r.Read(buf)
		if n > 0 {
			failures = 0
			if !c.consume(lines, buf[:n]) {
				return
			}
		}

		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if lines.pending() > 0 {
				c.logger.Debug("discarding unterminated line at end of stream", "bytes", lines.pending())
			}
			c.logger.Info("server closed the connection")
			return
		}
		if c.stopping() {
			return
		}

		failures++
		c.logger.Warn("read failed", "error", err, "consecutive", failures)
		c.report(fmt.Errorf("failed to read: %w", err))
		if failures >= c.cfg.MaxConsecutiveErrors {
			c.fail(fmt.Errorf("%d consecutive read errors: %w", failures, err))
			return
		}
	}
}

// consume splits p into lines and dispatches each one. It returns false
// once the client is stopping.
func (c *Client) consume(lines *lineBuffer, p []byte) bool {
	ok := true
	overflow := lines.feed(p, func(raw []byte) {
		if ok {
			ok = c.dispatch(protocol.Parse(c.charset.decode(raw)))
		}
	})
	if overflow {
		c.oversized.Add(1)
		c.logger.Warn("discarding oversized line", "max", c.cfg.MaxLineLength)
	}
	return ok
}

func (c *Client) dispatch(ev protocol.Event) bool {
	switch ev := ev.(type) {
	case protocol.Empty:
		return true
	case protocol.Ping:
		c.offer(protocol.Pong{Token: ev.Token})
		return true
	}
	return c.deliver(ev)
}

// offer queues an outbound event without blocking.
func (c *Client) offer(ev protocol.Event) {
	select {
	case c.outbound <- ev:
	default:
		c.droppedPongs.Add(1)
		c.logger.Warn("outbound queue full, dropping keepalive reply")
	}
}

func (c *Client) deliver(ev protocol.Event) bool {
	select {
	case c.inbound <- ev:
		return true
	default:
	}

	timer := time.NewTimer(c.cfg.DeliverTimeout)
	defer timer.Stop()

	select {
	case c.inbound <- ev:
		return true
	case <-timer.C:
		c.droppedInbound.Add(1)
		c.logger.Warn("inbound queue full, dropping event", "command", ev.Command())
		return true
	case <-c.stop:
		return false
	}
}
