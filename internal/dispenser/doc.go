// Package dispenser manages dispenser devices, their modules and the
// commands sent to them.
//
// Module state changes (dispense, refill, reset pending) are committed
// together with an event log entry before the matching command is
// published. A publish failure after the commit is reported as delivery
// "failed" and leaves stored state and device state apart until the next
// command or schedule sync.
//
// Dispense does not set the pending flag. Pending is owned by the device
// and by operators; refill and reset pending clear it.
//
// A device is bound to at most one patient. AssignDevice moves the binding
// and removes the schedules that no longer fit: the new patient's schedules
// on their previous device, and the previous patient's schedules on this
// one. Both devices then receive their new full schedule.
package dispenser
