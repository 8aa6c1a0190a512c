package schedule

// Group collapses entries into one TimeSlot per distinct time string, in
// order of first appearance. The result is never nil.
//
// Modules keep input order within a slot. Days and until date come from the
// first entry seen at that time; later entries at the same time only add
// their module.
//
// Example:
//
//	Group([]Entry{
//	    {Time: "08:00", Module: "module1", Days: []string{"daily"}},
//	    {Time: "08:00", Module: "module2", Days: []string{"Mon"}},
//	})
//	// [{Time: "08:00", DispenserModules: ["module1", "module2"], Days: ["daily"]}]
func Group(entries []Entry) []TimeSlot {
	slots := make([]TimeSlot, 0, len(entries))
	index := make(map[string]int, len(entries))

	for _, e := range entries {
		i, seen := index[e.Time]
		if !seen {
			days := e.Days
			if len(days) == 0 {
				days = []string{DayDaily}
			}
			i = len(slots)
			index[e.Time] = i
			slots = append(slots, TimeSlot{
				Time:             e.Time,
				DispenserModules: []string{},
				Days:             append([]string(nil), days...),
				UntilDate:        e.UntilDate,
			})
		}
		slots[i].DispenserModules = append(slots[i].DispenserModules, e.Module)
	}

	return slots
}

// Entries converts stored schedules into transformer input, keeping order.
func Entries(schedules []Schedule) []Entry {
	out := make([]Entry, len(schedules))
	for i, s := range schedules {
		out[i] = s.Entry()
	}
	return out
}
