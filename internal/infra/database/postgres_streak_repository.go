package database

import (
	"context"
	"database/sql"
	"fmt"

	"activity_reminder_engine/internal/domain/streak"
)

var ErrStreakNotFound = fmt.Errorf("engagement streak state not found")

// PostgresStreakRepository stores the single engagement streak row in the
// 'engagement_streak' table.
type PostgresStreakRepository struct {
	db *sql.DB
}

func NewPostgresStreakRepository(db *sql.DB) *PostgresStreakRepository {
	return &PostgresStreakRepository{db: db}
}

func (r *PostgresStreakRepository) Get(ctx context.Context) (*streak.State, error) {
	query := `SELECT last_show_up_date, current_streak, best_streak, updated_at
               FROM engagement_streak WHERE id = 1`

	s := &streak.State{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.LastShowUpDate, &s.CurrentStreak, &s.BestStreak, &s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStreakNotFound
		}
		return nil, fmt.Errorf("error getting streak state: %w", err)
	}
	return s, nil
}

func (r *PostgresStreakRepository) Save(ctx context.Context, s *streak.State) error {
	query := `INSERT INTO engagement_streak (id, last_show_up_date, current_streak, best_streak)
               VALUES (1, $1, $2, $3)
               ON CONFLICT (id) DO UPDATE
               SET last_show_up_date = EXCLUDED.last_show_up_date,
                   current_streak = EXCLUDED.current_streak,
                   best_streak = EXCLUDED.best_streak,
                   updated_at = NOW()
               RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query, s.LastShowUpDate, s.CurrentStreak, s.BestStreak).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error saving streak state: %w", err)
	}
	return nil
}
