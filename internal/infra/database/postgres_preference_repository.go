package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"activity_reminder_engine/internal/domain/gateway"
	"activity_reminder_engine/internal/domain/preference"
	"activity_reminder_engine/internal/domain/reminder"
)

var ErrPreferencesNotFound = fmt.Errorf("notification preferences not found")

// PostgresPreferenceRepository stores the single notification preference row
// in the 'notification_preferences' table. Per-category flags live in a JSONB
// column keyed by category name.
type PostgresPreferenceRepository struct {
	db *sql.DB
}

func NewPostgresPreferenceRepository(db *sql.DB) *PostgresPreferenceRepository {
	return &PostgresPreferenceRepository{db: db}
}

func (r *PostgresPreferenceRepository) Get(ctx context.Context) (*preference.NotificationPreference, error) {
	query := `SELECT master_enabled, per_category_enabled, daily_show_up_time, os_permission, updated_at
               FROM notification_preferences WHERE id = 1`

	p := &preference.NotificationPreference{}
	var perCategory []byte
	var showUpTime, osPermission string
	err := r.db.QueryRowContext(ctx, query).Scan(
		&p.MasterEnabled, &perCategory, &showUpTime, &osPermission, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPreferencesNotFound
		}
		return nil, fmt.Errorf("error getting notification preferences: %w", err)
	}

	flags := map[string]bool{}
	if len(perCategory) > 0 {
		if err := json.Unmarshal(perCategory, &flags); err != nil {
			return nil, fmt.Errorf("error decoding per-category flags: %w", err)
		}
	}
	p.PerCategoryEnabled = make(map[reminder.Category]bool, len(flags))
	for name, enabled := range flags {
		p.PerCategoryEnabled[reminder.Category(name)] = enabled
	}
	p.DailyShowUpTime = reminder.TimeOfDay(showUpTime)
	p.OSPermission = gateway.PermissionStatus(osPermission)
	return p, nil
}

func (r *PostgresPreferenceRepository) Save(ctx context.Context, p *preference.NotificationPreference) error {
	flags := make(map[string]bool, len(p.PerCategoryEnabled))
	for category, enabled := range p.PerCategoryEnabled {
		flags[string(category)] = enabled
	}
	perCategory, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("error encoding per-category flags: %w", err)
	}

	query := `INSERT INTO notification_preferences
               (id, master_enabled, per_category_enabled, daily_show_up_time, os_permission)
               VALUES (1, $1, $2, $3, $4)
               ON CONFLICT (id) DO UPDATE
               SET master_enabled = EXCLUDED.master_enabled,
                   per_category_enabled = EXCLUDED.per_category_enabled,
                   daily_show_up_time = EXCLUDED.daily_show_up_time,
                   os_permission = EXCLUDED.os_permission,
                   updated_at = NOW()
               RETURNING updated_at`

	err = r.db.QueryRowContext(ctx, query,
		p.MasterEnabled, perCategory, string(p.DailyShowUpTime), string(p.OSPermission),
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error saving notification preferences: %w", err)
	}
	return nil
}
