package hass

import "net/http"

// Client defaults.
const (
	// DefaultQueueSize is the capacity of the outbound command queue.
	// Enqueue blocks while the queue is full.
	DefaultQueueSize = 20

	// DefaultEventBuffer is the per-subscription event buffer. The reader
	// loop blocks while a subscriber's buffer is full.
	DefaultEventBuffer = 64
)

// Logger is the logging interface used by the Client.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type options struct {
	logger      Logger
	metrics     *Metrics
	queueSize   int
	eventBuffer int
	header      http.Header
}

func defaultOptions() options {
	return options{
		logger:      nopLogger{},
		queueSize:   DefaultQueueSize,
		eventBuffer: DefaultEventBuffer,
	}
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger. The access token is never passed to it.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records connection metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithQueueSize sets the outbound queue capacity.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithEventBuffer sets the per-subscription event buffer. Events beyond it
// are dropped until the consumer catches up.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithHeader adds HTTP headers to the WebSocket upgrade request made by Dial.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}
