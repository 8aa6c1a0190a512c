// Package influxdb provides InfluxDB connectivity for Pill Fleet Core.
//
// It wraps the official influxdb-client-go v2 library for the fleet's
// time-series data:
//   - dispenser_events: every inbound device message, tagged by serial, topic kind and source
//   - module_inventory: pill counts after dispense and refill
//   - dispenser_commands: publish attempts and whether the broker accepted them
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry switched off
//	}
//	defer client.Close()
//
//	client.WriteModuleInventory("device1", "module1", 12, 5, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batched; batch errors are reported through
// SetOnError. Connection and health check errors are returned directly.
// Every write method is a no-op on a nil or closed client.
package influxdb
