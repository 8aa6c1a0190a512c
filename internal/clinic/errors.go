package clinic

import "errors"

// Domain errors for the clinic package.
var (
	// ErrDoctorNotFound is returned when a doctor ID does not exist.
	ErrDoctorNotFound = errors.New("clinic: doctor not found")

	// ErrDoctorExists is returned when a doctor email is already registered.
	ErrDoctorExists = errors.New("clinic: doctor email already exists")

	// ErrPatientNotFound is returned when a patient ID does not exist.
	ErrPatientNotFound = errors.New("clinic: patient not found")

	// ErrInvalidDoctor is returned when doctor fields fail validation.
	ErrInvalidDoctor = errors.New("clinic: invalid doctor")

	// ErrInvalidPatient is returned when patient fields fail validation.
	ErrInvalidPatient = errors.New("clinic: invalid patient")
)
