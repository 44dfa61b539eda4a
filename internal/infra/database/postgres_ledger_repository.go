package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"activity_reminder_engine/internal/domain/reminder"
)

// Custom errors
var ErrLedgerEntryNotFound = fmt.Errorf("ledger entry not found")
var ErrDuplicateLedgerKey = fmt.Errorf("ledger entry with this key already exists")

const ledgerColumns = `key, category, platform_handle, intended_fire_at, time_of_day,
               title, body, last_estimated_fired_date, ignore_streak, deferred_until,
               handle_unknown, created_at, updated_at`

// PostgresLedgerRepository stores reminder ledger entries in the
// 'reminder_ledger' table.
type PostgresLedgerRepository struct {
	db *sql.DB
}

func NewPostgresLedgerRepository(db *sql.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

func (r *PostgresLedgerRepository) Create(ctx context.Context, e *reminder.LedgerEntry) error {
	query := `INSERT INTO reminder_ledger
               (key, category, platform_handle, intended_fire_at, time_of_day, title, body,
                last_estimated_fired_date, ignore_streak, deferred_until, handle_unknown)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
               RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		e.Key, string(e.Category), e.PlatformHandle, e.IntendedFireAt, e.TimeOfDay,
		e.Title, e.Body, e.LastEstimatedFiredDate, e.IgnoreStreak, e.DeferredUntil,
		e.HandleUnknown,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "unique constraint") {
			return ErrDuplicateLedgerKey
		}
		return fmt.Errorf("error creating ledger entry: %w", err)
	}
	return nil
}

func (r *PostgresLedgerRepository) Update(ctx context.Context, e *reminder.LedgerEntry) error {
	query := `UPDATE reminder_ledger
               SET category = $1, platform_handle = $2, intended_fire_at = $3,
                   time_of_day = $4, title = $5, body = $6,
                   last_estimated_fired_date = $7, ignore_streak = $8,
                   deferred_until = $9, handle_unknown = $10, updated_at = NOW()
               WHERE key = $11
               RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		string(e.Category), e.PlatformHandle, e.IntendedFireAt, e.TimeOfDay,
		e.Title, e.Body, e.LastEstimatedFiredDate, e.IgnoreStreak,
		e.DeferredUntil, e.HandleUnknown, e.Key,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrLedgerEntryNotFound
		}
		return fmt.Errorf("error updating ledger entry: %w", err)
	}
	return nil
}

func (r *PostgresLedgerRepository) Get(ctx context.Context, key string) (*reminder.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM reminder_ledger WHERE key = $1`
	e, err := scanLedgerEntry(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrLedgerEntryNotFound
		}
		return nil, fmt.Errorf("error getting ledger entry by key: %w", err)
	}
	return e, nil
}

func (r *PostgresLedgerRepository) Delete(ctx context.Context, key string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reminder_ledger WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("error deleting ledger entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking deleted ledger rows: %w", err)
	}
	if affected == 0 {
		return ErrLedgerEntryNotFound
	}
	return nil
}

func (r *PostgresLedgerRepository) ListAll(ctx context.Context) ([]*reminder.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM reminder_ledger ORDER BY key`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*reminder.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row rowScanner) (*reminder.LedgerEntry, error) {
	e := &reminder.LedgerEntry{}
	var category string
	err := row.Scan(
		&e.Key, &category, &e.PlatformHandle, &e.IntendedFireAt, &e.TimeOfDay,
		&e.Title, &e.Body, &e.LastEstimatedFiredDate, &e.IgnoreStreak,
		&e.DeferredUntil, &e.HandleUnknown, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	// Unrecognized categories are preserved here and healed by the
	// reconciler, not rejected at the storage layer.
	e.Category = reminder.Category(category)
	return e, nil
}
