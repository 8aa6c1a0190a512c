package api

import (
	"net/http"

	"github.com/nerrad567/pillfleet-core/internal/eventlog"
	"github.com/nerrad567/pillfleet-core/internal/schedule"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	list, err := s.schedules.ListByPatient(r.Context(), patientID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": list, "count": len(list)})
}

// handleCreateSchedules stores a batch of schedules for a patient and
// pushes the patient's full schedule to their device. The body is a JSON
// array; the batch is stored entirely or not at all.
func (s *Server) handleCreateSchedules(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, ok := decodeList[schedule.New](w, r)
	if !ok {
		return
	}
	created, sync, err := s.schedules.CreateBatch(r.Context(), patientID, entries)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"schedules": created, "sync": sync})
}

// handleSyncSchedules re-publishes a patient's schedule without changing it.
func (s *Server) handleSyncSchedules(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sync, err := s.schedules.SyncPatient(r.Context(), patientID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sync": sync})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sc, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd schedule.Update
	if !decodeJSON(w, r, &upd) {
		return
	}
	sc, sync, err := s.schedules.Update(r.Context(), id, upd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedule": sc, "sync": sync})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sync, err := s.schedules.Delete(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "sync": sync})
}

// handleListLogs returns the newest event log entries; ?limit= defaults to
// 50 and is capped at 500.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit, set, err := queryInt(r, "limit")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !set || limit <= 0 {
		limit = eventlog.DefaultLimit
	}

	entries, err := s.logs.Recent(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
