package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	maxMedicineLength = 200
	dateLayout        = "2006-01-02"
)

var timeRegex = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// weekdays maps lowercase tokens to their stored form.
var weekdays = map[string]string{
	"mon": "Mon",
	"tue": "Tue",
	"wed": "Wed",
	"thu": "Thu",
	"fri": "Fri",
	"sat": "Sat",
	"sun": "Sun",

	DayAlternate: DayAlternate,
}

// ValidateTime checks a 24-hour HH:MM time of day.
func ValidateTime(t string) error {
	if !timeRegex.MatchString(t) {
		return fmt.Errorf("%w: %q, want HH:MM", ErrInvalidTime, t)
	}
	return nil
}

// ValidateUntilDate checks an optional YYYY-MM-DD date.
func ValidateUntilDate(d *string) error {
	if d == nil {
		return nil
	}
	if _, err := time.Parse(dateLayout, *d); err != nil {
		return fmt.Errorf("%w: %q, want YYYY-MM-DD", ErrInvalidUntilDate, *d)
	}
	return nil
}

// NormalizeRepeat validates repeat type and days together and returns the
// canonical values. An empty repeat type means daily. Days are ignored for
// daily rules; custom rules need at least one known token. Duplicate tokens
// are dropped, first occurrence kept.
func NormalizeRepeat(repeat RepeatType, days []string) (RepeatType, []string, error) {
	switch repeat {
	case "", RepeatDaily:
		return RepeatDaily, []string{}, nil
	case RepeatCustom:
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidRepeatType, repeat)
	}

	out := make([]string, 0, len(days))
	seen := make(map[string]bool, len(days))
	for _, d := range days {
		token, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown day %q", ErrInvalidDays, d)
		}
		if seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	if len(out) == 0 {
		return "", nil, fmt.Errorf("%w: custom repeat needs at least one day", ErrInvalidDays)
	}
	return RepeatCustom, out, nil
}

// ValidateMedicine checks the medicine name.
func ValidateMedicine(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMedicine)
	}
	if len(name) > maxMedicineLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidMedicine, maxMedicineLength)
	}
	return nil
}

// normalize validates s in place. Module membership is checked by the service.
func normalize(s *Schedule) error {
	s.MedicineName = strings.TrimSpace(s.MedicineName)
	if err := ValidateMedicine(s.MedicineName); err != nil {
		return err
	}
	if err := ValidateTime(s.Time); err != nil {
		return err
	}
	repeat, days, err := NormalizeRepeat(s.RepeatType, s.DaysOfWeek)
	if err != nil {
		return err
	}
	s.RepeatType, s.DaysOfWeek = repeat, days

	if s.UntilDate != nil && *s.UntilDate == "" {
		s.UntilDate = nil
	}
	return ValidateUntilDate(s.UntilDate)
}
