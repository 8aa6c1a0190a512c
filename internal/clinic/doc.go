// Package clinic stores doctors and their patients.
//
// Deleting a doctor leaves the patients unassigned. Deleting a patient
// removes their schedules, releases their dispenser and clears the schedule
// held by that device.
package clinic
