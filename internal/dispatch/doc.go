// Package dispatch delivers encoded commands to dispensers.
//
// A Publisher owns one FIFO queue per device serial. Commands for the same
// device go out in the order Send was called; different devices never wait
// on each other. Every command gets exactly one publish attempt on the
// shared transport, non-retained, with no acknowledgement tracking. A failed
// attempt is logged, counted and reported to the caller but never retried.
//
// # Usage
//
//	pub := dispatch.New(mqttClient, dispatch.Options{QoS: 1, QueueSize: 32}, logger, m)
//	defer pub.Close()
//
//	cmd, _ := command.Dispense("module1")
//	status, err := pub.Send(ctx, "device1", cmd)
//	if errors.Is(err, dispatch.ErrDeliveryFailed) {
//	    // stored state already changed; report partial success
//	}
package dispatch
