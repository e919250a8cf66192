// Package mqtt provides the MQTT broker connection used by the hasslink relay.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament on <prefix>/status for offline detection
//
// # Topic layout
//
// Gateway events are fanned out under a configurable prefix:
//
//	hasslink/event/state_changed
//	hasslink/state/light.kitchen          (retained)
//	hasslink/command/call_service         (inbound)
//	hasslink/command/result
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on localhost
//   - Anything allowed to publish on command/call_service can drive the
//     gateway; restrict it with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.PublishJSON(topics.Event("state_changed"), event, false)
package mqtt
