package preference

import (
	"time"

	"activity_reminder_engine/internal/domain/gateway"
	"activity_reminder_engine/internal/domain/reminder"
)

// NotificationPreference holds the user's notification configuration.
// It is owned by the external settings surface; the engine only reads it,
// except for the cached OSPermission which the gateway refreshes.
// Corresponds to the single-row 'notification_preferences' table.
type NotificationPreference struct {
	MasterEnabled      bool
	PerCategoryEnabled map[reminder.Category]bool
	DailyShowUpTime    reminder.TimeOfDay
	OSPermission       gateway.PermissionStatus
	UpdatedAt          time.Time
}

// CategoryEnabled reports whether a category may notify. Categories absent
// from the map default to enabled; only an explicit false disables.
func (p *NotificationPreference) CategoryEnabled(c reminder.Category) bool {
	if !p.MasterEnabled {
		return false
	}
	enabled, ok := p.PerCategoryEnabled[c]
	if !ok {
		return true
	}
	return enabled
}

// Default returns the preference state for a fresh install: everything on,
// permission not yet requested.
func Default(showUpTime reminder.TimeOfDay) *NotificationPreference {
	return &NotificationPreference{
		MasterEnabled:      true,
		PerCategoryEnabled: map[reminder.Category]bool{},
		DailyShowUpTime:    showUpTime,
		OSPermission:       gateway.PermissionNotRequested,
	}
}
