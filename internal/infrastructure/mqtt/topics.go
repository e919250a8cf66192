package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "hasslink"

// Topics builds the hasslink MQTT topic hierarchy under a prefix.
//
//	<prefix>/status                    online/offline (retained, LWT)
//	<prefix>/event/<event_type>        every gateway event
//	<prefix>/state/<entity_id>         latest entity state (retained)
//	<prefix>/command/call_service      inbound service calls
//	<prefix>/command/result            outcome of each service call
//
// Using these helpers keeps publishers and subscribers in agreement.
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Leading and trailing
// slashes are dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root segment every topic starts with.
func (t Topics) Prefix() string {
	return t.root()
}

func (t Topics) root() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Status returns the retained online/offline topic.
//
// Example: hasslink/status
func (t Topics) Status() string {
	return t.root() + "/status"
}

// Event returns the topic a gateway event of the given type is relayed to.
//
// Example: hasslink/event/state_changed
func (t Topics) Event(eventType string) string {
	return t.root() + "/event/" + segment(eventType)
}

// AllEvents matches every relayed event.
//
// Example: hasslink/event/#
func (t Topics) AllEvents() string {
	return t.root() + "/event/#"
}

// State returns the retained topic holding an entity's latest state.
//
// Example: hasslink/state/light.kitchen
func (t Topics) State(entityID string) string {
	return t.root() + "/state/" + segment(entityID)
}

// AllStates matches every entity state topic.
func (t Topics) AllStates() string {
	return t.root() + "/state/+"
}

// CallService is the topic service-call requests arrive on.
//
// Example: hasslink/command/call_service
func (t Topics) CallService() string {
	return t.root() + "/command/call_service"
}

// CommandResult is the topic service-call outcomes are published to.
//
// Example: hasslink/command/result
func (t Topics) CommandResult() string {
	return t.root() + "/command/result"
}

// segment makes a gateway identifier safe to use as a single topic level.
// Wildcards and separators are replaced; an empty value becomes "unknown".
func segment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}
