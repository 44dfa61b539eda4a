package preference

import "context"

// Repository persists the single preference row. Get on a fresh database
// returns ErrPreferencesNotFound from the infra layer; callers fall back to
// Default.
type Repository interface {
	Get(ctx context.Context) (*NotificationPreference, error)
	Save(ctx context.Context, prefs *NotificationPreference) error
}
