package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// run supervises the reader and writer loops for the lifetime of the
// connection. When either loop returns, the group context is cancelled, the
// transport is closed to unblock the other, and the tables are torn down.
func (c *Client) run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("transport close failed", "error", err)
		}
		return nil
	})

	c.teardown(g.Wait())
}

// teardown fails every outstanding caller and subscription with the
// connection error and marks the Client done.
func (c *Client) teardown(err error) {
	if cause := c.stopCause(); cause != nil {
		err = cause
	}
	if err == nil {
		err = ErrTransportClosed
	}

	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()

	wasConnected := c.hs.authenticated()
	c.hs.fail(err)
	failed := c.pending.cancelAll(err)
	ended, active := c.subs.closeAll(err)

	if wasConnected {
		c.metrics.connectedChanged(-1)
	}
	c.metrics.subscriptionsChanged(-active)

	if errors.Is(err, ErrTransportClosed) {
		c.logger.Info("gateway connection closed",
			"pending_failed", failed,
			"subscriptions_ended", ended,
		)
	} else {
		c.metrics.failed("transport")
		c.logger.Error("gateway connection failed",
			"error", err,
			"pending_failed", failed,
			"subscriptions_ended", ended,
		)
	}

	close(c.done)
}

// writeLoop owns the outbound half of the transport. It writes queued
// commands in order and stops on the first write failure.
func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.outbound:
			data, err := json.Marshal(cmd)
			if err != nil {
				c.rejectUnencodable(cmd, err)
				continue
			}
			if err := c.transport.WriteFrame(ctx, data); err != nil {
				if errors.Is(err, ErrTransportClosed) {
					return err
				}
				return &TransportError{Op: "write", Err: err}
			}
			c.metrics.frameSent(cmd.CommandType())
			c.logger.Debug("frame sent", "type", cmd.CommandType(), "bytes", len(data))
		}
	}
}

// rejectUnencodable fails the caller of a command that could not be
// serialised. The connection is unaffected.
func (c *Client) rejectUnencodable(cmd Command, err error) {
	c.metrics.failed("encode")
	err = fmt.Errorf("%w: %s: %w", ErrEncode, cmd.CommandType(), err)

	if cc, ok := cmd.(correlated); ok {
		if id, ok := cc.messageID(); ok && c.pending.resolve(id, outcome{err: err}) {
			return
		}
	}
	c.logger.Warn("dropping unencodable command", "type", cmd.CommandType(), "error", err)
}

// readLoop owns the inbound half of the transport. Each frame goes to the
// handshake until authentication completes, then to the correlation table
// or the subscription table.
func (c *Client) readLoop(ctx context.Context) error {
	for {
		data, err := c.transport.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				return err
			}
			return &TransportError{Op: "read", Err: err}
		}

		resp, salvaged, err := decodeResponse(data)
		if err != nil {
			c.rejectUndecodable(salvaged, err)
			continue
		}
		c.metrics.frameReceived(resp.Type)

		if !c.hs.authenticated() {
			if err := c.hs.observe(resp); err != nil {
				c.metrics.failed("auth")
				c.logger.Warn("gateway authentication failed", "error", err)
				return err
			}
			if c.hs.authenticated() {
				c.metrics.connectedChanged(1)
				c.logger.Info("gateway authenticated", "ha_version", c.hs.gatewayVersion())
			}
			continue
		}

		switch {
		case resp.IsAuth():
			c.metrics.dropped("unexpected_auth")
			c.logger.Warn("dropping auth frame after handshake", "type", resp.Type)
		case resp.Type == TypeEvent:
			c.routeEvent(resp)
		default:
			id := *resp.ID
			if !c.pending.resolve(id, outcome{resp: resp}) {
				c.metrics.dropped("unmatched")
				c.logger.Debug("dropping unmatched response", "id", id, "type", resp.Type)
			}
		}
	}
}

// rejectUndecodable delivers a decode failure to the caller whose id could
// be salvaged from the frame, or logs it.
func (c *Client) rejectUndecodable(id *uint64, err error) {
	c.metrics.failed("decode")
	if id != nil && c.pending.resolve(*id, outcome{err: err}) {
		return
	}
	c.metrics.dropped("decode")
	c.logger.Warn("dropping undecodable frame", "error", err)
}

// routeEvent delivers an event to its subscription. The table lock is only
// held for the lookup and delivery never blocks: when the subscriber's
// buffer is full the event is dropped and counted.
func (c *Client) routeEvent(resp *Response) {
	id := *resp.ID

	sub, ok := c.subs.lookup(id)
	if !ok {
		c.metrics.dropped("unknown_subscription")
		c.logger.Warn("dropping event for unknown subscription", "subscription", id)
		return
	}

	ev, err := parseEvent(id, resp.Event)
	if err != nil {
		c.metrics.dropped("decode")
		c.logger.Warn("dropping undecodable event", "subscription", id, "error", err)
		return
	}

	switch sub.deliver(ev) {
	case subscriberFull:
		c.metrics.dropped("subscriber_full")
		c.logger.Warn("subscriber buffer full, dropping event",
			"subscription", id,
			"event_type", ev.EventType,
		)
	case subscriptionEnded:
		c.metrics.dropped("subscription_ended")
	}
}
