// Package mqtt provides MQTT client connectivity for Pill Fleet Core.
//
// This package manages:
//   - One persistent broker connection per process with auto-reconnect
//   - Single-attempt publishing of device commands
//   - Topic subscriptions restored after every reconnect
//   - Last Will and Testament (LWT) for offline detection of the core
//
// # Architecture
//
// Dispensers talk to the core through the broker only:
//
//	REST API → Publisher ─┐
//	                      ├─ Client ↔ Broker ↔ Dispensers
//	Listener ←────────────┘
//
// # Topics
//
//	pill/{serial}/command           core → device, plain text
//	pill/{serial}/schedule/set      core → device, JSON array
//	pill/{serial}/settings/update   core → device, JSON object
//	pill/{serial}/status            device → core
//	pill/{serial}/schedule/status   device → core
//	pill/{serial}/settings/status   device → core
//	pill/{serial}/alerts            device → core
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Publish(mqtt.Topics{}.DeviceCommand("device1"), []byte("dispense:module1"), 1, false)
package mqtt
