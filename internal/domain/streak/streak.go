package streak

import (
	"database/sql"
	"time"
)

// State is the engagement streak: consecutive local calendar days on which
// the user performed a qualifying action. Corresponds to the single-row
// 'engagement_streak' table. Monotonic except for the reset that occurs when
// a qualifying day is missed.
type State struct {
	LastShowUpDate sql.NullTime // stored at local midnight
	CurrentStreak  int
	BestStreak     int
	UpdatedAt      time.Time
}

// LocalDay truncates t to midnight in t's location. All streak arithmetic
// compares local calendar days, never absolute instants, so timezone changes
// do not break a streak.
func LocalDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same local calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// IsYesterdayOf reports whether prev is the local calendar day immediately
// before day.
func IsYesterdayOf(prev, day time.Time) bool {
	return SameDay(LocalDay(day).AddDate(0, 0, -1), prev)
}
