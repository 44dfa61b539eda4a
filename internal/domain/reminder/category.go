package reminder

import "fmt"

// Category tags a reminder with the product surface it belongs to. Each
// category carries its own enable flag and its own cap/backoff counters.
type Category string

const (
	CategoryActivityReminder Category = "ACTIVITY_REMINDER"
	CategoryDailyShowUp      Category = "DAILY_SHOW_UP"
	CategoryStreakSave       Category = "STREAK_SAVE"
	CategoryReactivation     Category = "REACTIVATION"
)

// KnownCategories lists every category the engine understands, in the order
// the reconciler walks them. Ledger entries tagged with anything else are
// treated as corruption and healed away.
func KnownCategories() []Category {
	return []Category{
		CategoryActivityReminder,
		CategoryDailyShowUp,
		CategoryStreakSave,
		CategoryReactivation,
	}
}

// IsKnown reports whether c is one of the categories this build understands.
func (c Category) IsKnown() bool {
	switch c {
	case CategoryActivityReminder, CategoryDailyShowUp, CategoryStreakSave, CategoryReactivation:
		return true
	}
	return false
}

// Repeating reports whether the category recurs daily rather than being
// anchored to a single domain entity.
func (c Category) Repeating() bool {
	return c != CategoryActivityReminder
}

// ParseCategory converts a stored string back into a Category, rejecting
// values this build does not understand.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.IsKnown() {
		return "", fmt.Errorf("unknown reminder category: %q", s)
	}
	return c, nil
}
