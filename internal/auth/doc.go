// Package auth inspects the long-lived access token hasslink presents to
// the gateway.
//
// Gateway long-lived tokens are JWTs signed with a key only the gateway
// knows, so the signature cannot be checked here. Inspect decodes the
// registered claims without verification to warn ahead of expiry, and
// Redact gives a form of the token that is safe to log.
//
// The token itself must never be written to logs, the journal or MQTT.
package auth
