// Package journal stores relayed gateway events and service calls in SQLite
// so recent activity can be inspected after the fact.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/hasslink/pkg/hass"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// Entry is one journaled event.
type Entry struct {
	ID             string          `json:"id"`
	SubscriptionID uint64          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	EntityID       string          `json:"entity_id,omitempty"`
	Origin         string          `json:"origin,omitempty"`
	TimeFired      string          `json:"time_fired,omitempty"`
	ContextID      string          `json:"context_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// ServiceCall records one call_service issued on behalf of an MQTT client.
type ServiceCall struct {
	ID           string          `json:"id"`
	Domain       string          `json:"domain"`
	Service      string          `json:"service"`
	ServiceData  json.RawMessage `json:"service_data,omitempty"`
	Success      bool            `json:"success"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RequestedAt  time.Time       `json:"requested_at"`
	Duration     time.Duration   `json:"duration"`
}

// Filter controls which entries List returns.
type Filter struct {
	EventType string    // optional: exact event type
	EntityID  string    // optional: exact entity id
	Since     time.Time // optional: received at or after
	Limit     int       // default 50, max 500
	Offset    int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository is the journal storage used by the relay.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	RecordCall(ctx context.Context, call *ServiceCall) error
	RecentCalls(ctx context.Context, limit int) ([]ServiceCall, error)
}

// EntryFromEvent builds a journal entry for ev. The entity id is taken from
// the event data when present, which covers state_changed and call_service.
func EntryFromEvent(ev hass.Event, receivedAt time.Time) *Entry {
	entry := &Entry{
		SubscriptionID: ev.SubscriptionID,
		EventType:      ev.EventType,
		Origin:         ev.Origin,
		TimeFired:      ev.TimeFired,
		ContextID:      ev.Context.ID,
		Payload:        ev.Raw,
		ReceivedAt:     receivedAt,
	}

	var data struct {
		EntityID any `json:"entity_id"`
	}
	if len(ev.Data) > 0 && json.Unmarshal(ev.Data, &data) == nil {
		if id, ok := data.EntityID.(string); ok {
			entry.EntityID = id
		}
	}
	if len(entry.Payload) == 0 {
		entry.Payload = json.RawMessage("{}")
	}
	return entry
}
