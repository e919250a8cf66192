package hass

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// newTestGateway starts an httptest server that speaks enough of the
// gateway protocol for the real WebSocket transport: the handshake, ping
// and get_config.
func newTestGateway(t *testing.T, token string) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(map[string]any{"type": "auth_required", "ha_version": "2024.6.1"}); err != nil {
			return
		}

		var auth struct {
			Type        string `json:"type"`
			AccessToken string `json:"access_token"`
		}
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth.AccessToken != token {
			conn.WriteJSON(map[string]any{"type": "auth_invalid", "message": "Invalid access token"}) //nolint:errcheck // test server
			return
		}
		if err := conn.WriteJSON(map[string]any{"type": "auth_ok", "ha_version": "2024.6.1"}); err != nil {
			return
		}

		for {
			var cmd struct {
				ID   uint64 `json:"id"`
				Type string `json:"type"`
			}
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			var reply map[string]any
			switch cmd.Type {
			case TypePing:
				reply = map[string]any{"id": cmd.ID, "type": "pong"}
			case TypeGetConfig:
				reply = map[string]any{
					"id": cmd.ID, "type": "result", "success": true,
					"result": map[string]any{"latitude": 51.5, "location_name": "Test"},
				}
			default:
				reply = map[string]any{
					"id": cmd.ID, "type": "result", "success": false,
					"error": map[string]any{"code": "unknown_command", "message": "Unknown command."},
				}
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectWebsocket(t *testing.T) {
	srv := newTestGateway(t, "good-token")
	ctx := context.Background()

	c, err := Connect(ctx, srv.URL, "good-token")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // test cleanup

	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	cfg, err := c.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if cfg.Latitude != 51.5 || cfg.LocationName != "Test" {
		t.Errorf("GetConfig() = %+v", cfg)
	}

	_, err = c.GetPanels(ctx)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Code != "unknown_command" {
		t.Errorf("GetPanels() error = %v, want unknown_command", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Ping(ctx); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Ping() after Close error = %v, want ErrTransportClosed", err)
	}
}

func TestConnectWebsocketBadToken(t *testing.T) {
	srv := newTestGateway(t, "good-token")

	_, err := Connect(context.Background(), srv.URL, "bad-token")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Connect() error = %v, want *AuthError", err)
	}
	if authErr.Message != "Invalid access token" {
		t.Errorf("AuthError.Message = %q", authErr.Message)
	}
}

func TestDialUnreachable(t *testing.T) {
	srv := newTestGateway(t, "token")
	url := srv.URL
	srv.Close()

	_, err := Dial(context.Background(), url)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Dial() error = %v, want ErrTransport", err)
	}
}

func TestWebsocketTransportFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// A binary frame the client must skip, then an echo of whatever
		// text frame arrives.
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}) //nolint:errcheck // test server
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, data) //nolint:errcheck // test server
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr, err := DialWebsocket(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("DialWebsocket() error = %v", err)
	}

	want, _ := json.Marshal(map[string]string{"type": "ping"}) //nolint:errcheck // static value
	if err := tr.WriteFrame(context.Background(), want); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	got, err := tr.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("ReadFrame() = %s, want %s", got, want)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := tr.ReadFrame(context.Background()); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("ReadFrame() after Close error = %v, want ErrTransportClosed", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ws://ha.local:8123", want: "ws://ha.local:8123/api/websocket"},
		{in: "http://ha.local:8123/", want: "ws://ha.local:8123/api/websocket"},
		{in: "https://ha.example.com", want: "wss://ha.example.com/api/websocket"},
		{in: "wss://ha.example.com/custom/ws", want: "wss://ha.example.com/custom/ws"},
		{in: "ftp://ha.local", wantErr: true},
		{in: "ws://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := websocketURL(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrTransport) {
					t.Errorf("websocketURL() error = %v, want ErrTransport", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("websocketURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("websocketURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
