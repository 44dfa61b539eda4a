package reminder

import (
	"fmt"
	"time"
)

// Source is the domain-side trigger for a reminder. Two shapes share the
// struct: entity-anchored one-shots carry EntityID and FireAt, while
// category-repeating sources carry a TimeOfDay slot instead.
type Source struct {
	EntityID  string    // empty for category-repeating sources
	Category  Category
	FireAt    time.Time // intended instant, one-shot sources only
	TimeOfDay TimeOfDay // daily slot, repeating sources only
	Title     string
	Body      string
}

// Key returns the logical reminder identity this source maps to. Entity
// reminders are keyed by entity, repeating reminders by category, so one
// entity or category can never own two ledger rows.
func (s Source) Key() string {
	if s.EntityID != "" {
		return "activity:" + s.EntityID
	}
	return "category:" + string(s.Category)
}

// Repeating reports whether the source recurs daily.
func (s Source) Repeating() bool {
	return s.EntityID == ""
}

// Validate rejects malformed sources. This is the one place the engine
// treats bad input as a programmer error rather than platform drift.
func (s Source) Validate() error {
	if !s.Category.IsKnown() {
		return fmt.Errorf("reminder source has unknown category %q", s.Category)
	}
	if s.EntityID != "" {
		if s.Category != CategoryActivityReminder {
			return fmt.Errorf("entity-anchored source must use %s, got %s", CategoryActivityReminder, s.Category)
		}
		if s.FireAt.IsZero() {
			return fmt.Errorf("entity-anchored source for %q has no fire time", s.EntityID)
		}
		return nil
	}
	if s.Category == CategoryActivityReminder {
		return fmt.Errorf("repeating source cannot use %s", CategoryActivityReminder)
	}
	if !s.TimeOfDay.Valid() {
		return fmt.Errorf("repeating source for %s has invalid time of day %q", s.Category, s.TimeOfDay)
	}
	return nil
}

// CategoryKey returns the ledger key for a repeating category reminder.
func CategoryKey(c Category) string {
	return "category:" + string(c)
}

// EntityKey returns the ledger key for an entity-anchored reminder.
func EntityKey(entityID string) string {
	return "activity:" + entityID
}
