// Package schedule maintains per-patient dosing schedules and keeps the
// assigned dispenser in sync with them.
//
// Schedules are stored as one row per (module, time) rule. Devices expect
// them grouped by time of day, so every mutation re-reads the full schedule
// of the affected device, regroups it with Group and publishes the result on
// pill/{serial}/schedule/set. The device always receives the whole set,
// never a delta; an empty schedule is published as [].
//
// # Grouping
//
// Entries sharing an exact time string collapse into one TimeSlot. Module
// order follows input order. The days and until_date of a slot come from the
// first entry seen at that time; later entries at the same time do not
// change them.
package schedule
