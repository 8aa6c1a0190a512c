package schedule

import (
	"github.com/nerrad567/pillfleet-core/internal/command"
)

// RepeatType selects on which days a schedule fires.
type RepeatType string

// Repeat types.
const (
	RepeatDaily  RepeatType = "daily"
	RepeatCustom RepeatType = "custom"
)

// DayDaily is the days value of entries that repeat every day.
const DayDaily = "daily"

// DayAlternate marks every-other-day schedules. Firmware interprets it.
const DayAlternate = "alternate"

// Schedule is one stored dosing rule.
type Schedule struct {
	ID           int64      `json:"id"`
	PatientID    int64      `json:"patient_id"`
	ModuleID     int64      `json:"module_id"`
	ModuleName   string     `json:"module_name"`
	MedicineName string     `json:"medicine_name"`
	Time         string     `json:"time"`
	RepeatType   RepeatType `json:"repeat_type"`
	DaysOfWeek   []string   `json:"days_of_week"`
	UntilDate    *string    `json:"until_date"`
}

// Entry returns the transformer input for s.
func (s Schedule) Entry() Entry {
	days := []string{DayDaily}
	if s.RepeatType == RepeatCustom {
		days = append([]string(nil), s.DaysOfWeek...)
	}
	return Entry{
		Time:      s.Time,
		Module:    s.ModuleName,
		Days:      days,
		UntilDate: s.UntilDate,
	}
}

// New is the input of one schedule in a batch create.
type New struct {
	ModuleID     int64      `json:"module_id" validate:"required,gt=0"`
	MedicineName string     `json:"medicine_name" validate:"required,max=200"`
	Time         string     `json:"time" validate:"required"`
	RepeatType   RepeatType `json:"repeat_type"`
	DaysOfWeek   []string   `json:"days_of_week"`
	UntilDate    *string    `json:"until_date"`
}

// Update holds the fields to change on a schedule. Nil fields are left
// unchanged. An empty UntilDate clears the bound.
type Update struct {
	ModuleID     *int64      `json:"module_id" validate:"omitempty,gt=0"`
	MedicineName *string     `json:"medicine_name" validate:"omitempty,max=200"`
	Time         *string     `json:"time"`
	RepeatType   *RepeatType `json:"repeat_type"`
	DaysOfWeek   *[]string   `json:"days_of_week"`
	UntilDate    *string     `json:"until_date"`
}

// Entry is the transformer view of a schedule: what fires when, on which module.
type Entry struct {
	Time      string
	Module    string
	Days      []string
	UntilDate *string
}

// TimeSlot is a device-ready group of modules due at the same time.
type TimeSlot = command.TimeSlot
