package api

import (
	"net/http"

	"github.com/nerrad567/pillfleet-core/internal/dispenser"
)

// assignRequest binds a device to a patient; a null patient_id unassigns it.
type assignRequest struct {
	PatientID *int64 `json:"patient_id" validate:"omitempty,gt=0"`
}

type hardModeRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type refillRequest struct {
	Count *int `json:"count" validate:"required,gte=0"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListDevices(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleCreateDevice registers a device together with its initial modules.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var in dispenser.NewDevice
	if !decodeJSON(w, r, &in) {
		return
	}
	d, err := s.devices.CreateDevice(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	d, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	status, err := s.devices.DeleteDevice(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "delivery": status})
}

func (s *Server) handleAssignDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.devices.AssignDevice(r.Context(), id, req.PatientID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAddModules(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	in, ok := decodeList[dispenser.NewModule](w, r)
	if !ok {
		return
	}
	modules, err := s.devices.AddModules(r.Context(), id, in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"modules": modules, "count": len(modules)})
}

func (s *Server) handleSetHardMode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req hardModeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := s.devices.SetHardMode(r.Context(), id, *req.Enabled)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "hard_mode": *req.Enabled, "delivery": status})
}

// handleUpdateSettings forwards an arbitrary settings object to the device.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var settings map[string]any
	if !readBody(w, r, &settings) {
		return
	}
	status, err := s.devices.UpdateSettings(r.Context(), id, settings)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "delivery": status})
}

func (s *Server) handleDispense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := s.devices.Dispense(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRefill sets the pill count of a module to an absolute value.
func (s *Server) handleRefill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req refillRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.devices.Refill(r.Context(), id, *req.Count)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResetPending(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := s.devices.ResetPending(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
