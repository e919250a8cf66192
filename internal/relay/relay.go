package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/hasslink/internal/infrastructure/mqtt"
	"github.com/nerrad567/hasslink/internal/journal"
	"github.com/nerrad567/hasslink/pkg/hass"
)

const (
	// eventStateChanged is the event type that also feeds state topics and history.
	eventStateChanged = "state_changed"

	// pruneInterval is how often the journal retention is enforced.
	pruneInterval = time.Hour

	// defaultRequestTimeout bounds one relayed service call.
	defaultRequestTimeout = 30 * time.Second

	// sinkTimeout bounds one journal write.
	sinkTimeout = 5 * time.Second

	// commandQueueSize is how many MQTT commands may wait for the worker.
	commandQueueSize = 32
)

// Logger defines the logging interface used by the Relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Gateway is the part of *hass.Client the relay drives.
type Gateway interface {
	Subscribe(ctx context.Context, eventType string) (*hass.Subscription, error)
	CallService(ctx context.Context, domain, service string, data any) (json.RawMessage, error)
}

// Publisher is the part of *mqtt.Client the relay publishes through.
type Publisher interface {
	Topics() mqtt.Topics
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// StateWriter is the part of *influxdb.Client that records state history.
type StateWriter interface {
	WriteEntityState(entityID, state, unit string, ts time.Time) bool
	WriteServiceCall(domain, service string, success bool, duration time.Duration)
}

// Broadcaster is the part of *status.Hub that streams events to local
// WebSocket clients.
type Broadcaster interface {
	Broadcast(ev hass.Event)
}

// Config wires the optional sinks. A nil sink is skipped.
type Config struct {
	Journal        journal.Repository
	Publisher      Publisher
	States         StateWriter
	Stream         Broadcaster
	EventTypes     []string
	Retention      time.Duration
	RequestTimeout time.Duration
}

// Stats counts relay activity since start.
type Stats struct {
	EventsRelayed   uint64 `json:"events_relayed"`
	JournalErrors   uint64 `json:"journal_errors"`
	PublishErrors   uint64 `json:"publish_errors"`
	StatesWritten   uint64 `json:"states_written"`
	CommandsHandled uint64 `json:"commands_handled"`
	CommandsFailed  uint64 `json:"commands_failed"`
}

// Relay fans gateway events out to the journal, MQTT and InfluxDB, and
// turns MQTT call_service commands into gateway service calls.
//
// All public methods are thread-safe.
type Relay struct {
	gw     Gateway
	cfg    Config
	logger Logger
	now    func() time.Time

	eventsRelayed   atomic.Uint64
	journalErrors   atomic.Uint64
	publishErrors   atomic.Uint64
	statesWritten   atomic.Uint64
	commandsHandled atomic.Uint64
	commandsFailed  atomic.Uint64
}

// New creates a relay for gw. With no event types configured it follows
// state_changed only.
func New(gw Gateway, cfg Config) *Relay {
	if len(cfg.EventTypes) == 0 {
		cfg.EventTypes = []string{eventStateChanged}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Relay{
		gw:     gw,
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Stats returns a snapshot of the counters.
func (r *Relay) Stats() Stats {
	return Stats{
		EventsRelayed:   r.eventsRelayed.Load(),
		JournalErrors:   r.journalErrors.Load(),
		PublishErrors:   r.publishErrors.Load(),
		StatesWritten:   r.statesWritten.Load(),
		CommandsHandled: r.commandsHandled.Load(),
		CommandsFailed:  r.commandsFailed.Load(),
	}
}

// Run subscribes to the configured event types and relays until ctx is
// cancelled or a subscription ends. A subscription ending because the
// gateway connection failed is returned as an error.
func (r *Relay) Run(ctx context.Context) error {
	subs := make([]*hass.Subscription, 0, len(r.cfg.EventTypes))
	for _, eventType := range r.cfg.EventTypes {
		sub, err := r.gw.Subscribe(ctx, eventType)
		if err != nil {
			return fmt.Errorf("subscribing to %q: %w", eventType, err)
		}
		r.logger.Info("subscribed to gateway events", "event_type", eventType, "subscription_id", sub.ID())
		subs = append(subs, sub)
	}

	g, gctx := errgroup.WithContext(ctx)

	if r.cfg.Publisher != nil {
		// The MQTT handler only queues; service calls run on the worker so
		// the MQTT client's router is never held up by the gateway.
		commands := make(chan []byte, commandQueueSize)
		topic := r.cfg.Publisher.Topics().CallService()
		err := r.cfg.Publisher.Subscribe(topic, 1, func(_ string, payload []byte) error {
			return r.queueCommand(commands, payload)
		})
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		r.logger.Info("listening for service calls", "topic", topic)

		g.Go(func() error {
			r.commandLoop(gctx, commands)
			return nil
		})
	}

	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			return r.consume(gctx, sub)
		})
	}

	if r.cfg.Journal != nil && r.cfg.Retention > 0 {
		g.Go(func() error {
			r.pruneLoop(gctx)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// queueCommand hands payload to the command worker without blocking. A
// command that finds the queue full is dropped and counted as failed.
func (r *Relay) queueCommand(commands chan<- []byte, payload []byte) error {
	select {
	case commands <- payload:
		return nil
	default:
	}

	r.commandsHandled.Add(1)
	r.commandsFailed.Add(1)
	var requestID string
	if req, _ := ParseCommand(payload); req != nil { //nolint:errcheck // best-effort request id for the log
		requestID = req.RequestID
	}
	r.logger.Warn("command queue full, dropping service call",
		"request_id", requestID,
		"queue_size", cap(commands),
	)
	return ErrCommandQueueFull
}

// commandLoop runs queued commands one at a time until ctx is cancelled.
func (r *Relay) commandLoop(ctx context.Context, commands <-chan []byte) {
	for {
		select {
		case payload := <-commands:
			r.HandleCommand(ctx, payload) //nolint:errcheck // outcome is published and logged
		case <-ctx.Done():
			return
		}
	}
}

// consume relays one subscription's events until it ends.
func (r *Relay) consume(ctx context.Context, sub *hass.Subscription) error {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return fmt.Errorf("subscription %d (%s) ended: %w", sub.ID(), sub.EventType(), err)
				}
				return fmt.Errorf("subscription %d (%s) ended", sub.ID(), sub.EventType())
			}
			r.HandleEvent(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleEvent writes ev to every configured sink. Sink failures are
// logged and counted; they never stop the relay.
func (r *Relay) HandleEvent(ctx context.Context, ev hass.Event) {
	received := r.now()
	r.eventsRelayed.Add(1)

	if r.cfg.Journal != nil {
		jctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := r.cfg.Journal.Append(jctx, journal.EntryFromEvent(ev, received))
		cancel()
		if err != nil {
			r.journalErrors.Add(1)
			r.logger.Warn("journal append failed", "event_type", ev.EventType, "error", err)
		}
	}

	if r.cfg.Publisher != nil {
		r.publish(r.cfg.Publisher.Topics().Event(ev.EventType), ev.Raw, false)
	}

	if r.cfg.Stream != nil {
		r.cfg.Stream.Broadcast(ev)
	}

	if ev.EventType != eventStateChanged || (r.cfg.Publisher == nil && r.cfg.States == nil) {
		return
	}

	data, err := ev.StateChanged()
	if err != nil {
		r.logger.Warn("undecodable state_changed event", "error", err)
		return
	}

	if r.cfg.Publisher != nil {
		r.publish(r.cfg.Publisher.Topics().State(data.EntityID), data.NewState, true)
	}

	if r.cfg.States != nil && data.NewState != nil {
		unit, _ := data.NewState.Attributes["unit_of_measurement"].(string) //nolint:errcheck // absent unit is ""
		if r.cfg.States.WriteEntityState(data.EntityID, data.NewState.State, unit, stateTime(data.NewState, received)) {
			r.statesWritten.Add(1)
		}
	}
}

func (r *Relay) publish(topic string, v any, retained bool) {
	if err := r.cfg.Publisher.PublishJSON(topic, v, retained); err != nil {
		r.publishErrors.Add(1)
		r.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (r *Relay) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	r.prune(ctx)
	for {
		select {
		case <-ticker.C:
			r.prune(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// prune drops journal rows older than the retention window.
func (r *Relay) prune(ctx context.Context) {
	removed, err := r.cfg.Journal.Prune(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("journal prune failed", "error", err)
		}
		return
	}
	if removed > 0 {
		r.logger.Debug("journal pruned", "removed", removed)
	}
}

// stateTime prefers the gateway's last_updated timestamp.
func stateTime(s *hass.EntityState, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s.LastUpdated); err == nil {
		return t
	}
	return fallback
}
