// Package hass is a client for the Home Assistant WebSocket API.
//
// A Client owns exactly one connection to a gateway. It authenticates with a
// long-lived access token, issues typed request/response commands and routes
// pushed events to live subscriptions.
//
// # Architecture
//
//   - Writer loop: the only goroutine that writes frames to the transport.
//   - Reader loop: the only goroutine that reads frames. Each frame is routed
//     either to the correlation table (responses) or to the subscription
//     table (events).
//   - Sequence: per-connection monotonic message identifiers, starting at 1.
//   - Correlation table: one single-use slot per outstanding identifier.
//   - Subscription table: subscription identifier to event sink.
//
// If either loop stops, the other is stopped too and every outstanding
// request fails with ErrTransportClosed or a *TransportError. There is no
// reconnect: open a new Client and authenticate again.
//
// # Usage
//
//	client, err := hass.Dial(ctx, "ws://homeassistant.local:8123/api/websocket",
//	    hass.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.Authenticate(ctx, token); err != nil {
//	    return err
//	}
//
//	cfg, err := client.GetConfig(ctx)
//
//	sub, err := client.Subscribe(ctx, "state_changed")
//	for ev := range sub.Events() {
//	    // ...
//	}
//
// # Thread Safety
//
// All Client methods are safe for concurrent use, including from the
// goroutine that drains a Subscription. Responses are delivered to the
// caller whose identifier they carry, exactly once. The reader never waits
// on a subscriber: an event that does not fit in the subscription's buffer
// is dropped and counted under frames_dropped_total{reason="subscriber_full"}.
//
// # Security
//
// The access token is sent in the auth frame only and is never logged.
package hass
