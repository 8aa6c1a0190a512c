package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementEvents    = "dispenser_events"
	MeasurementInventory = "module_inventory"
	MeasurementCommands  = "dispenser_commands"
)

// DeviceEvent is one inbound dispenser message.
type DeviceEvent struct {
	Serial string
	Kind   string // topic suffix, e.g. "status" or "alerts"
	Source string // module label or "system"
	Text   string
	Alert  bool
	At     time.Time
}

// WriteDeviceEvent records an inbound device message. No-op when disconnected.
func (c *Client) WriteDeviceEvent(ev DeviceEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(eventPoint(ev))
}

// WriteModuleInventory records the pill count of a module after a change.
func (c *Client) WriteModuleInventory(serial, module string, pillsLeft, threshold int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(inventoryPoint(serial, module, pillsLeft, threshold, at))
}

// WriteCommand records one publish attempt towards a device.
func (c *Client) WriteCommand(serial, kind string, delivered bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(serial, kind, delivered, at))
}

func eventPoint(ev DeviceEvent) *write.Point {
	serial := ev.Serial
	if serial == "" {
		serial = "unknown"
	}
	return write.NewPoint(
		MeasurementEvents,
		map[string]string{
			"serial": serial,
			"kind":   ev.Kind,
			"source": ev.Source,
		},
		map[string]interface{}{
			"message": ev.Text,
			"alert":   ev.Alert,
		},
		ev.At,
	)
}

func inventoryPoint(serial, module string, pillsLeft, threshold int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementInventory,
		map[string]string{
			"serial": serial,
			"module": module,
		},
		map[string]interface{}{
			"pills_left": pillsLeft,
			"threshold":  threshold,
			"low":        pillsLeft <= threshold,
		},
		at,
	)
}

func commandPoint(serial, kind string, delivered bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCommands,
		map[string]string{
			"serial": serial,
			"kind":   kind,
		},
		map[string]interface{}{
			"delivered": delivered,
		},
		at,
	)
}
