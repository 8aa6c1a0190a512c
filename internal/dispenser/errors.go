package dispenser

import "errors"

// Domain errors for the dispenser package.
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("dispenser: device not found")

	// ErrModuleNotFound is returned when a module ID does not exist.
	ErrModuleNotFound = errors.New("dispenser: module not found")

	// ErrPatientNotFound is returned when an assignment names an unknown patient.
	ErrPatientNotFound = errors.New("dispenser: patient not found")

	// ErrSerialExists is returned when a serial number is already registered.
	ErrSerialExists = errors.New("dispenser: serial number already exists")

	// ErrModuleExists is returned when a device already has a module of that name.
	ErrModuleExists = errors.New("dispenser: module already exists on device")

	// ErrNoPillsLeft is returned when dispensing from an empty module.
	ErrNoPillsLeft = errors.New("dispenser: no pills left")

	// ErrInvalidSerial is returned for serial numbers unusable as a topic level.
	ErrInvalidSerial = errors.New("dispenser: invalid serial number")

	// ErrInvalidModule is returned for invalid module names or counts.
	ErrInvalidModule = errors.New("dispenser: invalid module")

	// ErrInvalidCount is returned for a negative refill count.
	ErrInvalidCount = errors.New("dispenser: invalid pill count")

	// ErrInvalidSettings is returned for an empty or unencodable settings object.
	ErrInvalidSettings = errors.New("dispenser: invalid settings")
)
