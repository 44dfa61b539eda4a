package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"activity_reminder_engine/internal/domain/streak"
	idb "activity_reminder_engine/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// StreakTracker maintains the engagement streak: did the user show up today,
// and for how many consecutive local calendar days before that.
type StreakTracker struct {
	repo   streak.Repository
	logger *logrus.Logger
	mu     sync.Mutex
	now    func() time.Time
}

func NewStreakTracker(repo streak.Repository, logger *logrus.Logger) *StreakTracker {
	return &StreakTracker{repo: repo, logger: logger, now: time.Now}
}

// RecordShowUp registers a qualifying engagement on the given day.
// Idempotent per local calendar day: a second qualifying event on the same
// day is a no-op. Transition rule: yesterday continues the streak, today
// no-ops, anything older (or first ever) resets to 1.
func (t *StreakTracker) RecordShowUp(ctx context.Context, day time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.load(ctx)
	if err != nil {
		return err
	}

	day = streak.LocalDay(day)
	if state.LastShowUpDate.Valid {
		last := state.LastShowUpDate.Time
		switch {
		case streak.SameDay(last, day):
			return nil // already recorded today
		case day.Before(streak.LocalDay(last)):
			// Clock moved backwards across a day boundary; never un-earn a day.
			t.logger.Warnf("Show-up for %s predates last recorded day %s, ignoring",
				day.Format("2006-01-02"), last.Format("2006-01-02"))
			return nil
		case streak.IsYesterdayOf(last, day):
			state.CurrentStreak++
		default:
			state.CurrentStreak = 1
		}
	} else {
		state.CurrentStreak = 1
	}

	if state.CurrentStreak > state.BestStreak {
		state.BestStreak = state.CurrentStreak
	}
	state.LastShowUpDate.Time = day
	state.LastShowUpDate.Valid = true

	if err := t.repo.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save streak state: %w", err)
	}
	t.logger.Infof("Show-up recorded for %s, current streak %d (best %d)",
		day.Format("2006-01-02"), state.CurrentStreak, state.BestStreak)
	return nil
}

// IsShowUpRecordedToday reports whether today already counts.
func (t *StreakTracker) IsShowUpRecordedToday(ctx context.Context) (bool, error) {
	state, err := t.load(ctx)
	if err != nil {
		return false, err
	}
	return state.LastShowUpDate.Valid && streak.SameDay(state.LastShowUpDate.Time, t.now()), nil
}

// Streak returns the current streak state; a fresh install yields zeroes.
// This is the read-only query surface for any host UI.
func (t *StreakTracker) Streak(ctx context.Context) (*streak.State, error) {
	return t.load(ctx)
}

func (t *StreakTracker) load(ctx context.Context) (*streak.State, error) {
	state, err := t.repo.Get(ctx)
	if err != nil {
		if err == idb.ErrStreakNotFound {
			return &streak.State{}, nil
		}
		return nil, fmt.Errorf("failed to load streak state: %w", err)
	}
	return state, nil
}
