package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/hasslink/internal/infrastructure/logging"
	"github.com/nerrad567/hasslink/pkg/hass"
)

// Stream message types.
const (
	StreamTypeSubscribe   = "subscribe"
	StreamTypeUnsubscribe = "unsubscribe"
	StreamTypePing        = "ping"
	StreamTypePong        = "pong"
	StreamTypeEvent       = "event"
	StreamTypeResponse    = "response"
	StreamTypeError       = "error"

	// AllEvents subscribes a stream client to every event type.
	AllEvents = "*"
)

// Stream connection settings.
const (
	streamSendBuffer     = 256
	streamMaxMessageSize = 4096
	streamPingInterval   = 30 * time.Second
	streamPongWait       = 10 * time.Second
)

// StreamMessage is a message sent to or from a stream client.
type StreamMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// streamChannels is the payload of subscribe and unsubscribe messages.
type streamChannels struct {
	Channels []string `json:"channels"`
}

// Hub fans relayed gateway events out to WebSocket clients on /events.
// Clients choose event types with subscribe messages; a slow client misses
// events rather than holding up the relay.
type Hub struct {
	logger  *logging.Logger
	clients map[*streamClient]struct{}
	mu      sync.RWMutex
}

type streamClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The status server binds to a local address.
		return true
	},
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger.Component("stream"),
		clients: make(map[*streamClient]struct{}),
	}
}

func (h *Hub) register(client *streamClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "clients", h.ClientCount())
}

// unregister removes a client. Only the caller that removes the client
// from the map closes its send channel.
func (h *Hub) unregister(client *streamClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("stream client disconnected", "clients", h.ClientCount())
}

// Broadcast sends ev to every client subscribed to its event type or to
// AllEvents. The event payload is forwarded exactly as received.
func (h *Hub) Broadcast(ev hass.Event) {
	msg := StreamMessage{
		Type:      StreamTypeEvent,
		EventType: ev.EventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   ev.Raw,
	}
	if len(ev.Raw) == 0 {
		msg.Payload = nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal stream message", "error", err)
		return
	}

	// Snapshot under the hub lock, then send without holding it.
	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(ev.EventType) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		client.conn.Close() //nolint:errcheck // shutting down
		delete(h.clients, client)
	}
}

// ServeHTTP upgrades the request and serves one stream client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", "error", err)
		return
	}

	client := &streamClient{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, streamSendBuffer),
		subscriptions: make(map[string]struct{}),
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close() //nolint:errcheck // already disconnecting
	}()

	c.conn.SetReadLimit(streamMaxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(streamPingInterval + streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPingInterval + streamPongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(streamPingInterval + streamPongWait))
		c.handleMessage(message)
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(streamPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // already disconnecting
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(streamPongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(streamPongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) handleMessage(data []byte) {
	var msg struct {
		Type    string         `json:"type"`
		ID      string         `json:"id"`
		Payload streamChannels `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case StreamTypeSubscribe:
		c.mu.Lock()
		for _, ch := range msg.Payload.Channels {
			c.subscriptions[ch] = struct{}{}
		}
		c.mu.Unlock()
		c.hub.logger.Debug("stream client subscribed", "channels", msg.Payload.Channels)
		c.sendResponse(msg.ID, StreamTypeResponse, map[string]any{"subscribed": msg.Payload.Channels})
	case StreamTypeUnsubscribe:
		c.mu.Lock()
		for _, ch := range msg.Payload.Channels {
			delete(c.subscriptions, ch)
		}
		c.mu.Unlock()
		c.sendResponse(msg.ID, StreamTypeResponse, map[string]any{"unsubscribed": msg.Payload.Channels})
	case StreamTypePing:
		c.sendResponse(msg.ID, StreamTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// trySend queues data for the client, dropping it when the buffer is full
// or the client has already gone.
func (c *streamClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *streamClient) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subscriptions[AllEvents]; ok {
		return true
	}
	_, ok := c.subscriptions[eventType]
	return ok
}

func (c *streamClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(StreamMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *streamClient) sendError(id, message string) {
	c.sendResponse(id, StreamTypeError, map[string]string{"message": message})
}
