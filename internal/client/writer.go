package client

import (
	"fmt"

	"github.com/omochice/ircterm/pkg/protocol"
)

// writeLoop is the only user of the write half. After the stop signal it
// sends whatever is still queued, so a QUIT submitted before Shutdown
// reaches the wire, then half-closes.
func (c *Client) writeLoop() {
	defer c.wg.Done()
	defer func() {
		if err := c.w.CloseWrite(); err != nil {
			c.logger.Debug("close write half", "error", err)
		}
	}()

	var failures int
	for {
		select {
		case ev := <-c.outbound:
			if !c.write(ev, &failures) {
				return
			}
		case <-c.stop:
			// Wait out Submits already past their stop check; later
			// ones see the signal and fail.
			c.sendMu.Lock()
			c.sendMu.Unlock()
			c.drain(&failures)
			return
		}
	}
}

func (c *Client) drain(failures *int) {
	for {
		select {
		case ev := <-c.outbound:
			if !c.write(ev, failures) {
				return
			}
		default:
			return
		}
	}
}

// write sends one event and reports whether the writer should keep going.
func (c *Client) write(ev protocol.Event, failures *int) bool {
	line, err := protocol.Serialize(ev)
	if err != nil {
		c.unserializable.Add(1)
		c.logger.Warn("dropping unserializable event", "error", err)
		c.report(err)
		return true
	}

	if _, err := c.w.Write(c.charset.encode(line)); err != nil {
		*failures++
		c.logger.Warn("write failed", "command", ev.Command(), "error", err, "consecutive", *failures)
		c.report(fmt.Errorf("failed to send %s: %w", ev.Command(), err))
		if *failures >= c.cfg.MaxConsecutiveErrors {
			c.fail(fmt.Errorf("%d consecutive write errors: %w", *failures, err))
			return false
		}
		return true
	}

	*failures = 0
	c.logger.Debug("sent", "command", ev.Command())
	return true
}
