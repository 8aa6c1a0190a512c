package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/pillfleet-core/internal/clinic"
	"github.com/nerrad567/pillfleet-core/internal/command"
	"github.com/nerrad567/pillfleet-core/internal/dispenser"
	"github.com/nerrad567/pillfleet-core/internal/schedule"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeRateLimited = "rate_limited"
)

// Domain error groups, checked in order by writeDomainError.
var (
	notFoundErrors = []error{
		clinic.ErrDoctorNotFound,
		clinic.ErrPatientNotFound,
		dispenser.ErrDeviceNotFound,
		dispenser.ErrModuleNotFound,
		schedule.ErrScheduleNotFound,
		schedule.ErrPatientNotFound,
	}

	conflictErrors = []error{
		clinic.ErrDoctorExists,
		dispenser.ErrSerialExists,
		dispenser.ErrModuleExists,
		dispenser.ErrNoPillsLeft,
	}

	validationErrors = []error{
		clinic.ErrInvalidDoctor,
		clinic.ErrInvalidPatient,
		dispenser.ErrPatientNotFound,
		dispenser.ErrInvalidSerial,
		dispenser.ErrInvalidModule,
		dispenser.ErrInvalidCount,
		dispenser.ErrInvalidSettings,
		schedule.ErrDeviceNotFound,
		schedule.ErrNoDevice,
		schedule.ErrModuleNotOnDevice,
		schedule.ErrEmptyBatch,
		schedule.ErrInvalidMedicine,
		schedule.ErrInvalidTime,
		schedule.ErrInvalidRepeatType,
		schedule.ErrInvalidDays,
		schedule.ErrInvalidUntilDate,
		command.ErrInvalidModuleName,
		command.ErrInvalidCount,
		command.ErrInvalidSettings,
	}
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeValidationError writes a 400 validation error response.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a service error onto a response. Unknown errors are
// logged and answered with a generic 500 so storage detail never leaks.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	switch {
	// Validation first: an unknown referenced entity wraps both groups.
	case isAny(err, validationErrors), errors.As(err, &verrs):
		writeValidationError(w, err.Error())
	case isAny(err, notFoundErrors):
		writeNotFound(w, err.Error())
	case isAny(err, conflictErrors):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeInternalError(w, "internal server error")
	}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
