package hass

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config is the gateway configuration returned by get_config.
type Config struct {
	Latitude              float64    `json:"latitude"`
	Longitude             float64    `json:"longitude"`
	Elevation             float64    `json:"elevation"`
	UnitSystem            UnitSystem `json:"unit_system"`
	LocationName          string     `json:"location_name"`
	TimeZone              string     `json:"time_zone"`
	Components            []string   `json:"components"`
	ConfigDir             string     `json:"config_dir"`
	WhitelistExternalDirs []string   `json:"whitelist_external_dirs"`
	Version               string     `json:"version"`
	ConfigSource          string     `json:"config_source"`
	SafeMode              bool       `json:"safe_mode"`
	State                 string     `json:"state,omitempty"`
	ExternalURL           *string    `json:"external_url"`
	InternalURL           *string    `json:"internal_url"`
}

// UnitSystem is part of Config.
type UnitSystem struct {
	Length      string `json:"length"`
	Mass        string `json:"mass"`
	Pressure    string `json:"pressure"`
	Temperature string `json:"temperature"`
	Volume      string `json:"volume"`
}

// Area is an entry of the area registry.
type Area struct {
	ID      string   `json:"area_id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
	Picture *string  `json:"picture"`
}

// Device is an entry of the device registry.
type Device struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	AreaID           *string     `json:"area_id"`
	ConfigEntries    []string    `json:"config_entries"`
	ConfigurationURL *string     `json:"configuration_url"`
	Connections      [][2]string `json:"connections"`
	DisabledBy       *string     `json:"disabled_by"`
	EntryType        *string     `json:"entry_type"`
	HWVersion        *string     `json:"hw_version"`
	Identifiers      [][2]string `json:"identifiers"`
	Manufacturer     *string     `json:"manufacturer"`
	Model            *string     `json:"model"`
	NameByUser       *string     `json:"name_by_user"`
	SerialNumber     *string     `json:"serial_number"`
	SWVersion        *string     `json:"sw_version"`
	ViaDeviceID      *string     `json:"via_device_id"`
}

// Entity is an entry of the entity registry.
type Entity struct {
	AreaID         *string        `json:"area_id"`
	ConfigEntryID  *string        `json:"config_entry_id"`
	DeviceID       *string        `json:"device_id"`
	DisabledBy     *string        `json:"disabled_by"`
	EntityCategory *string        `json:"entity_category"`
	EntityID       string         `json:"entity_id"`
	HasEntityName  bool           `json:"has_entity_name"`
	HiddenBy       *string        `json:"hidden_by"`
	Icon           *string        `json:"icon"`
	ID             string         `json:"id"`
	Name           *string        `json:"name"`
	Options        map[string]any `json:"options"`
	OriginalName   *string        `json:"original_name"`
	Platform       string         `json:"platform"`
	TranslationKey *string        `json:"translation_key"`
	UniqueID       string         `json:"unique_id"`
}

// Context identifies the origin of a state change or event.
type Context struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
	UserID   *string `json:"user_id"`
}

// EntityState is a snapshot of one entity's state.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
	Attributes  map[string]any `json:"attributes"`
	Context     Context        `json:"context"`
}

// Domain returns the part of the entity id before the first dot.
func (s *EntityState) Domain() string {
	domain, _, _ := strings.Cut(s.EntityID, ".")
	return domain
}

// Services is the service catalogue: domain -> service name -> description.
type Services map[string]map[string]Service

// Service describes one callable service.
type Service struct {
	Name        string                  `json:"name,omitempty"`
	Description string                  `json:"description,omitempty"`
	Fields      map[string]ServiceField `json:"fields,omitempty"`
}

// ServiceField describes one service_data field.
type ServiceField struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Example     any    `json:"example,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Panels is the set of registered frontend panels keyed by url path.
type Panels map[string]Panel

// Panel is one registered frontend panel.
type Panel struct {
	ComponentName string         `json:"component_name"`
	Icon          *string        `json:"icon"`
	Title         *string        `json:"title"`
	Config        map[string]any `json:"config"`
	URLPath       string         `json:"url_path"`
	RequireAdmin  bool           `json:"require_admin"`
	ConfigPanel   *string        `json:"config_panel_domain"`
}

// Event is one pushed event. Raw holds the payload exactly as received.
type Event struct {
	SubscriptionID uint64          `json:"-"`
	EventType      string          `json:"event_type"`
	Data           json.RawMessage `json:"data"`
	Origin         string          `json:"origin"`
	TimeFired      string          `json:"time_fired"`
	Context        Context         `json:"context"`
	Raw            json.RawMessage `json:"-"`
}

// StateChangedData is the data of a state_changed event.
type StateChangedData struct {
	EntityID string       `json:"entity_id"`
	OldState *EntityState `json:"old_state"`
	NewState *EntityState `json:"new_state"`
}

// Decode unmarshals the event data into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: event data: %w", ErrDecode, err)
	}
	return nil
}

// StateChanged decodes the data of a state_changed event.
func (e *Event) StateChanged() (*StateChangedData, error) {
	if e.EventType != "state_changed" {
		return nil, fmt.Errorf("%w: event type %q is not state_changed", ErrUnexpectedPayload, e.EventType)
	}
	var data StateChangedData
	if err := e.Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// parseEvent builds an Event from the payload of an event frame.
func parseEvent(subscriptionID uint64, raw json.RawMessage) (Event, error) {
	ev := Event{SubscriptionID: subscriptionID, Raw: raw}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: event payload: %w", ErrDecode, err)
	}
	ev.SubscriptionID = subscriptionID
	ev.Raw = raw
	return ev, nil
}
