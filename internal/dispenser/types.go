package dispenser

import (
	"github.com/nerrad567/pillfleet-core/internal/dispatch"
)

// Device is a pill dispenser. SerialNumber is its transport address.
type Device struct {
	ID           int64    `json:"id"`
	SerialNumber string   `json:"serial_number"`
	PatientID    *int64   `json:"patient_id"`
	Modules      []Module `json:"modules"`
}

// Module is one dispensing slot of a device.
type Module struct {
	ID        int64  `json:"id"`
	DeviceID  int64  `json:"dispenser_id"`
	Name      string `json:"module_name"`
	PillsLeft int    `json:"pills_left"`
	Threshold int    `json:"threshold"`
	Pending   bool   `json:"pending"`
}

// Low reports whether the module is at or below its low-supply threshold.
func (m Module) Low() bool {
	return m.PillsLeft <= m.Threshold
}

// NewDevice is the input for registering a device.
type NewDevice struct {
	SerialNumber string      `json:"serial_number" validate:"required,max=64"`
	Modules      []NewModule `json:"modules" validate:"dive"`
}

// NewModule is the input for adding a module.
type NewModule struct {
	Name      string `json:"module_name" validate:"required,max=64"`
	PillsLeft int    `json:"pills_left" validate:"gte=0"`
	Threshold int    `json:"threshold" validate:"gte=0"`
}

// ActionResult is the outcome of a module command.
type ActionResult struct {
	Module   Module          `json:"module"`
	Delivery dispatch.Status `json:"delivery"`
}

// AssignResult is the outcome of an assignment change.
type AssignResult struct {
	Device   *Device         `json:"device"`
	Delivery dispatch.Status `json:"delivery"`

	// Released is the device the patient was moved away from, if any.
	Released *int64 `json:"released_device_id,omitempty"`
}
