package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/hasslink/internal/infrastructure/config"
)

// testConfig returns a broker configuration; nothing here dials it.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "hasslink-test",
		},
		QoS:         1,
		TopicPrefix: "hasslink",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("hasslink")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Status", topics.Status(), "hasslink/status"},
		{"Event", topics.Event("state_changed"), "hasslink/event/state_changed"},
		{"AllEvents", topics.AllEvents(), "hasslink/event/#"},
		{"State", topics.State("light.kitchen"), "hasslink/state/light.kitchen"},
		{"AllStates", topics.AllStates(), "hasslink/state/+"},
		{"CallService", topics.CallService(), "hasslink/command/call_service"},
		{"CommandResult", topics.CommandResult(), "hasslink/command/result"},
		{"Event wildcard sanitised", topics.Event("a/b+#"), "hasslink/event/a_b__"},
		{"State empty", topics.State(""), "hasslink/state/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestNewTopicsPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"hasslink", "hasslink"},
		{"/home/ha/", "home/ha"},
		{"", DefaultTopicPrefix},
		{"///", DefaultTopicPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			if got := NewTopics(tt.prefix).Prefix(); got != tt.want {
				t.Errorf("NewTopics(%q).Prefix() = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}

	if got := (Topics{}).Status(); got != DefaultTopicPrefix+"/status" {
		t.Errorf("zero Topics Status() = %q", got)
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestClientIDSuffix(t *testing.T) {
	cfg := testConfig()

	a, b := clientID(cfg), clientID(cfg)
	if a == b {
		t.Errorf("clientID() returned %q twice", a)
	}
	if !strings.HasPrefix(a, "hasslink-test-") || len(a) != len("hasslink-test-")+8 {
		t.Errorf("clientID() = %q, want hasslink-test-<8 chars>", a)
	}

	cfg.Broker.ClientID = ""
	if got := clientID(cfg); !strings.HasPrefix(got, DefaultTopicPrefix+"-") {
		t.Errorf("clientID() without base = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		opts := buildClientOptions(testConfig(), "id-1")

		if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
			t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
		}
		if opts.ClientID != "id-1" {
			t.Errorf("ClientID = %q, want id-1", opts.ClientID)
		}
		if opts.Username != "" {
			t.Errorf("Username = %q, want empty", opts.Username)
		}
		if opts.TLSConfig != nil {
			t.Error("TLSConfig set without TLS")
		}
		if !opts.AutoReconnect || !opts.CleanSession {
			t.Error("AutoReconnect and CleanSession should be enabled")
		}
	})

	t.Run("tls and auth", func(t *testing.T) {
		cfg := testConfig()
		cfg.Broker.TLS = true
		cfg.Broker.Port = 8883
		cfg.Auth = config.MQTTAuthConfig{Username: "relay", Password: "pw"}

		opts := buildClientOptions(cfg, "id-2")
		if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
			t.Errorf("Servers[0] = %v, want ssl://127.0.0.1:8883", opts.Servers[0])
		}
		if opts.Username != "relay" || opts.Password != "pw" {
			t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
		}
		if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
			t.Error("TLSConfig missing or below TLS 1.2")
		}
	})
}

func TestLastWill(t *testing.T) {
	c := newClient(testConfig())

	if !c.options.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if c.options.WillTopic != "hasslink/status" || !c.options.WillRetained {
		t.Errorf("will = %q retained=%v", c.options.WillTopic, c.options.WillRetained)
	}

	var status statusPayload
	if err := json.Unmarshal(c.options.WillPayload, &status); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" || status.ClientID != c.ClientID() {
		t.Errorf("will payload = %+v", status)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var status map[string]any
	if err := json.Unmarshal(buildStatusPayload("x", "online", ""), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if status["status"] != "online" || status["client_id"] != "x" {
		t.Errorf("payload = %v", status)
	}
	if _, ok := status["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
	if status["timestamp"] == "" {
		t.Error("timestamp missing")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"ok", "hasslink/event/x", []byte("{}"), 1, nil},
		{"nil payload", "hasslink/event/x", nil, 0, nil},
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"bad qos", "t", nil, 3, ErrInvalidQoS},
		{"too large", "t", make([]byte, maxPayloadSize+1), 1, ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	if c.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	if err := c.Publish("t", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishJSON("t", map[string]int{"a": 1}, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishJSON() error = %v, want ErrNotConnected", err)
	}
	if err := c.PublishJSON("t", make(chan int), false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(chan) error = %v, want ErrPublishFailed", err)
	}
	if err := c.Subscribe("t", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("t"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("t") {
		t.Error("failed Subscribe left a tracked subscription")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() before Connect error = %v", err)
	}
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestQoSFallback(t *testing.T) {
	c := newClient(testConfig())
	c.cfg.QoS = 7
	if got := c.qos(); got != 1 {
		t.Errorf("qos() = %d, want 1", got)
	}
	c.cfg.QoS = 2
	if got := c.qos(); got != 2 {
		t.Errorf("qos() = %d, want 2", got)
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestWrapHandler(t *testing.T) {
	tests := []struct {
		name      string
		handler   MessageHandler
		wantWarn  int
		wantError int
	}{
		{"success", func(string, []byte) error { return nil }, 0, 0},
		{"error", func(string, []byte) error { return errors.New("bad payload") }, 1, 0},
		{"panic", func(string, []byte) error { panic("boom") }, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(testConfig())
			logger := &recordingLogger{}
			c.SetLogger(logger)

			c.wrapHandler(tt.handler)(nil, fakeMessage{topic: "hasslink/command/call_service"})

			if len(logger.warns) != tt.wantWarn || len(logger.errors) != tt.wantError {
				t.Errorf("warns = %v, errors = %v", logger.warns, logger.errors)
			}
		})
	}
}

func TestWrapHandlerWithoutLogger(t *testing.T) {
	c := newClient(testConfig())

	var got string
	c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		panic("ignored")
	})(nil, fakeMessage{topic: "a", payload: []byte("b")})

	if got != "a=b" {
		t.Errorf("handler saw %q, want a=b", got)
	}
}

func TestDisconnectCallback(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got error
	c.SetOnDisconnect(func(err error) { got = err })

	cause := errors.New("broker went away")
	c.handleDisconnect(cause)

	if !errors.Is(got, cause) {
		t.Errorf("callback error = %v, want %v", got, cause)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one", logger.warns)
	}
}
