package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// execute runs one command/response cycle and decodes the result payload
// into T. A result with success=false becomes a *GatewayError; a reply of
// any other type is ErrUnexpectedPayload. An absent or null result leaves
// T at its zero value.
func execute[T any](ctx context.Context, c *Client, cmd correlated) (T, error) {
	var out T

	resp, err := c.roundTrip(ctx, cmd)
	if err != nil {
		return out, err
	}
	if err := checkResult(resp); err != nil {
		return out, err
	}

	payload := bytes.TrimSpace(resp.Result)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("%w: %s result: %w", ErrDecode, cmd.CommandType(), err)
	}
	return out, nil
}

// roundTrip assigns cmd an identifier unless it already has one, registers
// the correlation slot, enqueues the command and waits for its reply.
//
// If ctx ends before the command is queued, the slot is dropped. If it
// ends while waiting, the slot stays registered until the reply arrives or
// the connection is torn down.
func (c *Client) roundTrip(ctx context.Context, cmd correlated) (*Response, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	id, ok := cmd.messageID()
	if !ok {
		id = c.seq.Next()
		cmd.assign(id)
	}

	slot, err := c.pending.register(id)
	if err != nil {
		return nil, err
	}
	c.metrics.pending(1)
	defer c.metrics.pending(-1)

	started := time.Now()
	if err := c.enqueue(ctx, cmd); err != nil {
		c.pending.forget(id)
		return nil, err
	}

	select {
	case o := <-slot:
		c.metrics.observe(cmd.CommandType(), started)
		if o.err != nil {
			return nil, o.err
		}
		return o.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// enqueue hands cmd to the writer loop, blocking while the queue is full.
func (c *Client) enqueue(ctx context.Context, cmd Command) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}

	select {
	case c.outbound <- cmd:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
