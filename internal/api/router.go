package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Monitoring stays reachable when the rate limit is hit.
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics.Handler())
		}
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)

			r.Route("/doctors", func(r chi.Router) {
				r.Get("/", s.handleListDoctors)
				r.Post("/", s.handleCreateDoctor)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDoctor)
					r.Patch("/", s.handleUpdateDoctor)
					r.Delete("/", s.handleDeleteDoctor)
				})
			})

			r.Route("/patients", func(r chi.Router) {
				r.Get("/", s.handleListPatients)
				r.Post("/", s.handleCreatePatient)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetPatient)
					r.Patch("/", s.handleUpdatePatient)
					r.Delete("/", s.handleDeletePatient)
					r.Get("/device", s.handleGetPatientDevice)
					r.Get("/schedules", s.handleListSchedules)
					r.Post("/schedules", s.handleCreateSchedules)
					r.Post("/schedules/sync", s.handleSyncSchedules)
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Put("/patient", s.handleAssignDevice)
					r.Post("/modules", s.handleAddModules)
					r.Post("/hard-mode", s.handleSetHardMode)
					r.Post("/settings", s.handleUpdateSettings)
				})
			})

			r.Route("/modules/{id}", func(r chi.Router) {
				r.Post("/dispense", s.handleDispense)
				r.Post("/refill", s.handleRefill)
				r.Post("/reset-pending", s.handleResetPending)
			})

			r.Route("/schedules/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSchedule)
				r.Patch("/", s.handleUpdateSchedule)
				r.Delete("/", s.handleDeleteSchedule)
			})

			r.Get("/logs", s.handleListLogs)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
