package hass

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for gateway connections.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pendingRequests prometheus.Gauge
	subscriptions   prometheus.Gauge
	connected       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Collectors that are already registered are reused, so several Clients
// may share one registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hasslink",
			Subsystem: "gateway",
			Name:      "frames_sent_total",
			Help:      "Total frames written to the gateway",
		}, []string{"type"}),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hasslink",
			Subsystem: "gateway",
			Name:      "frames_received_total",
			Help:      "Total frames read from the gateway",
		}, []string{"type"}),

		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hasslink",
			Subsystem: "gateway",
			Name:      "frames_dropped_total",
			Help:      "Total inbound frames that could not be routed",
		}, []string{"reason"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hasslink",
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Total errors by kind",
		}, []string{"kind"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hasslink",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Command round-trip duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"type"}),

		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hasslink",
			Subsystem: "gateway",
			Name:      "pending_requests",
			Help:      "Commands awaiting a response",
		}),

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hasslink",
			Subsystem: "gateway",
			Name:      "subscriptions",
			Help:      "Live event subscriptions",
		}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hasslink",
			Subsystem: "gateway",
			Name:      "connected",
			Help:      "Authenticated gateway connections currently up",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.framesSent, err = register(reg, m.framesSent); err != nil {
		return nil, err
	}
	if m.framesReceived, err = register(reg, m.framesReceived); err != nil {
		return nil, err
	}
	if m.eventsDropped, err = register(reg, m.eventsDropped); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = register(reg, m.errorsTotal); err != nil {
		return nil, err
	}
	if m.requestDuration, err = register(reg, m.requestDuration); err != nil {
		return nil, err
	}
	if m.pendingRequests, err = register(reg, m.pendingRequests); err != nil {
		return nil, err
	}
	if m.subscriptions, err = register(reg, m.subscriptions); err != nil {
		return nil, err
	}
	if m.connected, err = register(reg, m.connected); err != nil {
		return nil, err
	}

	return m, nil
}

// register registers c, returning the already-registered collector when
// one with the same descriptor exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("hass: registering metrics: %w", err)
	}
	return c, nil
}

func (m *Metrics) frameSent(msgType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(msgType).Inc()
}

func (m *Metrics) frameReceived(msgType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(msgType).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) failed(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) observe(msgType string, started time.Time) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(msgType).Observe(time.Since(started).Seconds())
}

func (m *Metrics) pending(delta float64) {
	if m == nil {
		return
	}
	m.pendingRequests.Add(delta)
}

// subscriptionsChanged and connectedChanged apply deltas so that several
// Clients sharing the collectors add up instead of overwriting each other.
func (m *Metrics) subscriptionsChanged(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.subscriptions.Add(float64(delta))
}

func (m *Metrics) connectedChanged(delta int) {
	if m == nil {
		return
	}
	m.connected.Add(float64(delta))
}
