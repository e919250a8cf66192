package hass

// Command type discriminators sent to the gateway.
const (
	TypeAuth              = "auth"
	TypePing              = "ping"
	TypeGetConfig         = "get_config"
	TypeGetStates         = "get_states"
	TypeGetServices       = "get_services"
	TypeGetPanels         = "get_panels"
	TypeCallService       = "call_service"
	TypeSubscribeEvents   = "subscribe_events"
	TypeUnsubscribeEvents = "unsubscribe_events"
	TypeAreaRegistryList  = "config/area_registry/list"
	TypeDeviceRegistry    = "config/device_registry/list"
	TypeEntityRegistry    = "config/entity_registry/list"
)

// Command is an outbound frame. Each Command serialises to exactly one frame.
type Command interface {
	CommandType() string
}

// correlated is a Command that expects a reply and so carries an identifier.
type correlated interface {
	Command
	assign(id uint64)
	messageID() (uint64, bool)
}

// Header carries the fields shared by every correlated command.
// ID is nil until the command is assigned an identifier.
type Header struct {
	ID   *uint64 `json:"id,omitempty"`
	Type string  `json:"type"`
}

// CommandType returns the type discriminator.
func (h *Header) CommandType() string { return h.Type }

func (h *Header) assign(id uint64) { h.ID = &id }

func (h *Header) messageID() (uint64, bool) {
	if h.ID == nil {
		return 0, false
	}
	return *h.ID, true
}

// AuthCommand is the only command without an identifier.
type AuthCommand struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// CommandType returns "auth".
func (a *AuthCommand) CommandType() string { return TypeAuth }

// String redacts the token so the command is safe to print.
func (a *AuthCommand) String() string { return "auth{access_token:<redacted>}" }

// SimpleCommand is a correlated command with no payload (ping, get_config,
// get_states, get_services, get_panels, registry lists).
type SimpleCommand struct {
	Header
}

// CallServiceCommand invokes domain.service on the gateway.
type CallServiceCommand struct {
	Header
	Domain      string `json:"domain"`
	Service     string `json:"service"`
	ServiceData any    `json:"service_data,omitempty"`
}

// SubscribeEventsCommand subscribes to one event type. An empty EventType
// subscribes to every event.
type SubscribeEventsCommand struct {
	Header
	EventType string `json:"event_type,omitempty"`
}

// UnsubscribeEventsCommand cancels the subscription with the given identifier.
type UnsubscribeEventsCommand struct {
	Header
	Subscription uint64 `json:"subscription"`
}

func newSimple(msgType string) *SimpleCommand {
	return &SimpleCommand{Header: Header{Type: msgType}}
}
