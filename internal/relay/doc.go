// Package relay bridges a gateway connection to hasslink's sinks.
//
// Every event received on the configured subscriptions is:
//   - appended to the SQLite journal
//   - published to <prefix>/event/<event_type>
//   - broadcast to WebSocket clients of the status server's /events stream
//   - for state_changed, published retained to <prefix>/state/<entity_id>
//     and written to InfluxDB when the new state is numeric
//
// In the other direction, JSON payloads on <prefix>/command/call_service
//
//	{"request_id": "r1", "domain": "light", "service": "turn_on",
//	 "service_data": {"entity_id": "light.kitchen"}}
//
// are queued for a single worker, relayed with CallService, and the outcome
// is published to <prefix>/command/result and recorded in the journal. The
// MQTT handler never waits on the gateway; when the queue is full the
// command is dropped and counted as failed.
//
// Sinks are optional and independent: a failing sink is logged and counted
// in Stats, never fatal. The relay stops when any subscription ends, which
// happens only when the gateway connection is torn down.
package relay
