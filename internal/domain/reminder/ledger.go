package reminder

import (
	"database/sql"
	"time"
)

// LedgerEntry is the durable record of what the engine believes is scheduled
// for one logical reminder key. Corresponds to the 'reminder_ledger' table.
//
// Invariant: at most one non-null PlatformHandle per key at any time. A
// reschedule cancels the old handle before writing the new one, under the
// per-key critical section, so no key ever owns two live platform schedules.
//
// The entry carries the display fields and intended slot so the reconciler
// can rebuild the reminder after drift or a restart without asking the host
// for domain state.
type LedgerEntry struct {
	Key                    string
	Category               Category
	PlatformHandle         sql.NullString // null when deferred by policy or lost to drift
	IntendedFireAt         sql.NullTime   // one-shot entries
	TimeOfDay              sql.NullString // repeating entries, "HH:MM"
	Title                  string
	Body                   string
	LastEstimatedFiredDate sql.NullTime // local-midnight marker, dedupes repeating estimates
	IgnoreStreak           int          // estimated fires since the last open
	DeferredUntil          sql.NullTime // set when the cap/backoff policy blocked scheduling
	HandleUnknown          bool         // a gateway call failed mid-flight; reconciler must re-check
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Repeating reports whether the entry belongs to a daily category slot.
func (e *LedgerEntry) Repeating() bool {
	return e.TimeOfDay.Valid
}

// Slot returns the repeating entry's time-of-day.
func (e *LedgerEntry) Slot() TimeOfDay {
	return TimeOfDay(e.TimeOfDay.String)
}

// HasLiveHandle reports whether the engine believes a platform schedule
// exists for this entry.
func (e *LedgerEntry) HasLiveHandle() bool {
	return e.PlatformHandle.Valid && e.PlatformHandle.String != ""
}
