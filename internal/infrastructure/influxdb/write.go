package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by hasslink.
const (
	measurementEntityState = "entity_state"
	measurementServiceCall = "service_call"
)

// binaryStates maps the two-valued entity states onto 1 and 0 so switches,
// binary sensors and locks chart alongside numeric sensors.
var binaryStates = map[string]float64{
	"on":       1,
	"off":      0,
	"open":     1,
	"closed":   0,
	"home":     1,
	"not_home": 0,
	"locked":   1,
	"unlocked": 0,
	"true":     1,
	"false":    0,
}

// StateValue converts an entity state string into a plottable number.
// Non-numeric states such as "unavailable" or "heat" report false.
func StateValue(state string) (float64, bool) {
	state = strings.TrimSpace(state)
	if v, ok := binaryStates[strings.ToLower(state)]; ok {
		return v, true
	}
	v, err := strconv.ParseFloat(state, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// EntityStatePoint builds the point for one entity state change. The domain
// tag is the part of entityID before the first dot. It reports false when
// the state has no numeric reading.
func EntityStatePoint(entityID, state, unit string, ts time.Time) (*write.Point, bool) {
	value, ok := StateValue(state)
	if !ok {
		return nil, false
	}

	tags := map[string]string{
		"entity_id": entityID,
		"domain":    entityDomain(entityID),
	}
	if unit != "" {
		tags["unit"] = unit
	}

	return write.NewPoint(
		measurementEntityState,
		tags,
		map[string]interface{}{"value": value},
		ts,
	), true
}

// ServiceCallPoint builds the point recording a relayed service call.
func ServiceCallPoint(domain, service string, success bool, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementServiceCall,
		map[string]string{
			"domain":  domain,
			"service": service,
		},
		map[string]interface{}{
			"success":     success,
			"duration_ms": duration.Milliseconds(),
		},
		ts,
	)
}

// WriteEntityState queues an entity state point. States without a numeric
// reading are skipped and reported as false.
func (c *Client) WriteEntityState(entityID, state, unit string, ts time.Time) bool {
	if !c.IsConnected() {
		return false
	}

	point, ok := EntityStatePoint(entityID, state, unit, ts)
	if !ok {
		return false
	}
	c.writeAPI.WritePoint(point)
	return true
}

// WriteServiceCall queues a service call outcome.
func (c *Client) WriteServiceCall(domain, service string, success bool, duration time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ServiceCallPoint(domain, service, success, duration, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func entityDomain(entityID string) string {
	domain, _, found := strings.Cut(entityID, ".")
	if !found || domain == "" {
		return "unknown"
	}
	return domain
}
