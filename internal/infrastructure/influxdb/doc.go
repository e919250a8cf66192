// Package influxdb writes gateway entity state history to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each state_changed
// event with a numeric or two-valued state ("on"/"off", "open"/"closed")
// becomes an entity_state point tagged with entity_id, domain and unit.
// Relayed service calls are recorded as service_call points.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteEntityState("sensor.kitchen_temperature", "21.5", "°C", time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval); batch
// failures are delivered to the SetOnError callback. Connection and health
// check errors are returned directly.
package influxdb
