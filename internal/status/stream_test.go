package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/hasslink/internal/infrastructure/logging"
	"github.com/nerrad567/hasslink/pkg/hass"
)

func dialStream(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(testServer(t, Deps{Hub: hub}).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close() //nolint:errcheck // upgrade response
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msgType, id string, channels ...string) {
	t.Helper()
	msg := map[string]any{"type": msgType, "id": id}
	if channels != nil {
		msg["payload"] = map[string]any{"channels": channels}
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func TestEventsDisabled(t *testing.T) {
	if w, _ := get(t, testServer(t, Deps{}), "/events"); w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", w.Code)
	}
}

func TestStreamSubscribeAndBroadcast(t *testing.T) {
	hub := NewHub(logging.Discard())
	conn := dialStream(t, hub)

	send(t, conn, StreamTypeSubscribe, "1", "state_changed")
	if msg := readMessage(t, conn); msg.Type != StreamTypeResponse || msg.ID != "1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	raw := json.RawMessage(`{"event_type":"state_changed","data":{"entity_id":"light.kitchen"}}`)
	hub.Broadcast(hass.Event{EventType: "call_service", Raw: json.RawMessage(`{"event_type":"call_service"}`)})
	hub.Broadcast(hass.Event{EventType: "state_changed", Raw: raw})

	msg := readMessage(t, conn)
	if msg.Type != StreamTypeEvent || msg.EventType != "state_changed" {
		t.Fatalf("event = %+v", msg)
	}
	payload, _ := json.Marshal(msg.Payload) //nolint:errcheck // decoded from JSON
	if !strings.Contains(string(payload), "light.kitchen") {
		t.Errorf("payload = %s", payload)
	}
}

func TestStreamAllEventsAndUnsubscribe(t *testing.T) {
	hub := NewHub(logging.Discard())
	conn := dialStream(t, hub)

	send(t, conn, StreamTypeSubscribe, "1", AllEvents)
	readMessage(t, conn)

	hub.Broadcast(hass.Event{EventType: "automation_triggered", Raw: json.RawMessage(`{}`)})
	if msg := readMessage(t, conn); msg.EventType != "automation_triggered" {
		t.Errorf("event = %+v, want automation_triggered", msg)
	}

	send(t, conn, StreamTypeUnsubscribe, "2", AllEvents)
	if msg := readMessage(t, conn); msg.ID != "2" {
		t.Fatalf("unsubscribe reply = %+v", msg)
	}

	hub.Broadcast(hass.Event{EventType: "automation_triggered", Raw: json.RawMessage(`{}`)})
	send(t, conn, StreamTypePing, "3")
	if msg := readMessage(t, conn); msg.Type != StreamTypePong || msg.ID != "3" {
		t.Errorf("message after unsubscribe = %+v, want pong", msg)
	}
}

func TestStreamBadMessages(t *testing.T) {
	hub := NewHub(logging.Discard())
	conn := dialStream(t, hub)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != StreamTypeError {
		t.Errorf("reply = %+v, want error", msg)
	}

	send(t, conn, "reboot", "9")
	if msg := readMessage(t, conn); msg.Type != StreamTypeError || msg.ID != "9" {
		t.Errorf("reply = %+v, want error for id 9", msg)
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub(logging.Discard())
	conn := dialStream(t, hub)

	send(t, conn, StreamTypePing, "1")
	readMessage(t, conn)

	hub.Close()
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() after Close = %d", hub.ClientCount())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() after Close error = nil")
	}

	// Broadcasting to a closed hub is a no-op.
	hub.Broadcast(hass.Event{EventType: "state_changed"})
}
