package api

import (
	"net/http"

	"github.com/nerrad567/pillfleet-core/internal/clinic"
)

func (s *Server) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := s.clinic.ListDoctors(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": doctors, "count": len(doctors)})
}

func (s *Server) handleCreateDoctor(w http.ResponseWriter, r *http.Request) {
	var in clinic.Doctor
	if !decodeJSON(w, r, &in) {
		return
	}
	d, err := s.clinic.CreateDoctor(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	d, err := s.clinic.GetDoctor(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdateDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd clinic.DoctorUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	d, err := s.clinic.UpdateDoctor(r.Context(), id, upd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.clinic.DeleteDoctor(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListPatients lists patients, optionally filtered by ?doctor_id=.
func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	var filter clinic.PatientFilter
	doctorID, set, err := queryInt(r, "doctor_id")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if set {
		id := int64(doctorID)
		filter.DoctorID = &id
	}

	patients, err := s.clinic.ListPatients(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": patients, "count": len(patients)})
}

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var in clinic.Patient
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := s.clinic.CreatePatient(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.clinic.GetPatient(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd clinic.PatientUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	p, err := s.clinic.UpdatePatient(r.Context(), id, upd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeletePatient removes the patient; their device, if any, is
// released and receives an empty schedule.
func (s *Server) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.clinic.DeletePatient(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPatientDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.clinic.GetPatient(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	d, err := s.devices.DeviceOfPatient(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
