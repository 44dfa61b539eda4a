package reminder

import (
	"fmt"
	"time"
)

// TimeOfDay is a local wall-clock slot in "HH:MM" form. Repeating reminders
// are keyed on local calendar time, never on absolute instants, so a user
// crossing timezones keeps their morning slot in the morning.
type TimeOfDay string

// ParseTimeOfDay validates an "HH:MM" string. The form is strict:
// time.Parse alone accepts "9:00", which would break string comparison of
// stored slots, so the parsed value must round-trip to the input.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return "", fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if t.Format("15:04") != s {
		return "", fmt.Errorf("invalid time of day %q: want zero-padded HH:MM", s)
	}
	return TimeOfDay(s), nil
}

// Valid reports whether the slot is strict HH:MM.
func (t TimeOfDay) Valid() bool {
	parsed, err := time.Parse("15:04", string(t))
	return err == nil && parsed.Format("15:04") == string(t)
}

// clock returns the slot's hour and minute. Callers must have validated t.
func (t TimeOfDay) clock() (hour, minute int) {
	parsed, _ := time.Parse("15:04", string(t))
	return parsed.Hour(), parsed.Minute()
}

// OnDay places the slot on the given day in that day's location.
func (t TimeOfDay) OnDay(day time.Time) time.Time {
	h, m := t.clock()
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

// NextOccurrence returns the first instant at or after now that falls on the
// slot: today if the slot is still ahead, otherwise tomorrow.
func (t TimeOfDay) NextOccurrence(now time.Time) time.Time {
	today := t.OnDay(now)
	if today.After(now) {
		return today
	}
	return t.OnDay(now.AddDate(0, 0, 1))
}

// PassedToday reports whether the slot's instant for now's calendar day is
// already behind now.
func (t TimeOfDay) PassedToday(now time.Time) bool {
	return !t.OnDay(now).After(now)
}
