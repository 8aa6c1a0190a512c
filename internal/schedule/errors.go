package schedule

import "errors"

// Domain errors for the schedule package.
var (
	// ErrScheduleNotFound is returned when a schedule ID does not exist.
	ErrScheduleNotFound = errors.New("schedule: not found")

	// ErrPatientNotFound is returned when the referenced patient does not exist.
	ErrPatientNotFound = errors.New("schedule: patient not found")

	// ErrDeviceNotFound is returned when the referenced device does not exist.
	ErrDeviceNotFound = errors.New("schedule: device not found")

	// ErrNoDevice is returned when a patient has no dispenser to schedule on.
	ErrNoDevice = errors.New("schedule: patient has no assigned device")

	// ErrModuleNotOnDevice is returned when a module does not belong to the
	// device assigned to the schedule's patient.
	ErrModuleNotOnDevice = errors.New("schedule: module is not on the patient's device")

	// ErrEmptyBatch is returned by CreateBatch without any entries.
	ErrEmptyBatch = errors.New("schedule: no entries given")

	// ErrInvalidMedicine is returned for an empty or oversized medicine name.
	ErrInvalidMedicine = errors.New("schedule: invalid medicine name")

	// ErrInvalidTime is returned for a time that is not HH:MM.
	ErrInvalidTime = errors.New("schedule: invalid time")

	// ErrInvalidRepeatType is returned for a repeat type other than daily or custom.
	ErrInvalidRepeatType = errors.New("schedule: invalid repeat type")

	// ErrInvalidDays is returned for unknown day tokens or a custom rule without days.
	ErrInvalidDays = errors.New("schedule: invalid days of week")

	// ErrInvalidUntilDate is returned for an until_date that is not YYYY-MM-DD.
	ErrInvalidUntilDate = errors.New("schedule: invalid until date")
)
