package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"activity_reminder_engine/internal/domain/gateway"
	"activity_reminder_engine/internal/domain/preference"
	"activity_reminder_engine/internal/domain/reminder"
	"activity_reminder_engine/internal/domain/streak"
	idb "activity_reminder_engine/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// Scheduler drives the gateway and the ledger toward the desired reminder
// set. Both operations are idempotent: calling them again with unchanged
// state issues zero additional gateway calls. Platform failures never
// surface as errors; they become ledger annotations for the reconciler.
// Only malformed input (a programmer error) returns an error.
type Scheduler interface {
	ReconcileEntity(ctx context.Context, source reminder.Source) error
	ReconcileCategory(ctx context.Context, category reminder.Category) error
}

// SchedulerConfig carries the repeating-category slots and the reactivation
// threshold.
type SchedulerConfig struct {
	DefaultShowUpTime     reminder.TimeOfDay // used until the settings surface writes preferences
	StreakSaveTime        reminder.TimeOfDay
	ReactivationTime      reminder.TimeOfDay
	ReactivationAfterDays int
}

// Default copy for the repeating categories. The host may override per
// reminder through the domain feed; these cover the engine-owned slots.
var repeatingCopy = map[reminder.Category][2]string{
	reminder.CategoryDailyShowUp:  {"Time to show up", "A small step today keeps your momentum going."},
	reminder.CategoryStreakSave:   {"Your streak is at risk", "Show up before midnight to keep your streak alive."},
	reminder.CategoryReactivation: {"We miss you", "Pick one small activity and get back on track."},
}

type SchedulerService struct {
	ledgerRepo reminder.Repository
	prefRepo   preference.Repository
	gw         gateway.Gateway
	policy     *CapPolicy
	streaks    *StreakTracker
	sink       Sink
	logger     *logrus.Logger
	locks      *keyedLocks
	cfg        SchedulerConfig
	now        func() time.Time
}

func NewSchedulerService(
	ledgerRepo reminder.Repository,
	prefRepo preference.Repository,
	gw gateway.Gateway,
	policy *CapPolicy,
	streaks *StreakTracker,
	sink Sink,
	logger *logrus.Logger,
	cfg SchedulerConfig,
) *SchedulerService {
	return &SchedulerService{
		ledgerRepo: ledgerRepo,
		prefRepo:   prefRepo,
		gw:         gw,
		policy:     policy,
		streaks:    streaks,
		sink:       sink,
		logger:     logger,
		locks:      newKeyedLocks(),
		cfg:        cfg,
		now:        time.Now,
	}
}

// desiredState is what a reminder should look like right now; nil means the
// reminder should not exist.
type desiredState struct {
	fireAt    time.Time
	timeOfDay reminder.TimeOfDay // set for repeating reminders
	title     string
	body      string
}

// ReconcileEntity brings one entity-anchored reminder in line with its
// source: schedule it if missing, reschedule on change, remove it when it
// should no longer exist.
func (s *SchedulerService) ReconcileEntity(ctx context.Context, source reminder.Source) error {
	if err := source.Validate(); err != nil {
		return err
	}

	key := source.Key()
	unlock := s.locks.lock(key)
	defer unlock()

	prefs, err := s.loadPreferences(ctx)
	if err != nil {
		return err
	}

	var desired *desiredState
	if s.notifiable(prefs, source.Category) && source.FireAt.After(s.now()) {
		desired = &desiredState{fireAt: source.FireAt, title: source.Title, body: source.Body}
	}
	return s.apply(ctx, key, source.Category, desired)
}

// ReconcileCategory brings one repeating category reminder in line with
// preferences, the streak state, and the category's suppression rules.
func (s *SchedulerService) ReconcileCategory(ctx context.Context, category reminder.Category) error {
	if !category.IsKnown() || !category.Repeating() {
		return fmt.Errorf("cannot reconcile non-repeating category %q", category)
	}

	key := reminder.CategoryKey(category)
	unlock := s.locks.lock(key)
	defer unlock()

	prefs, err := s.loadPreferences(ctx)
	if err != nil {
		return err
	}
	desired, err := s.desiredCategoryState(ctx, category, prefs)
	if err != nil {
		return err
	}
	return s.apply(ctx, key, category, desired)
}

// RemoveEntity cancels and deletes the reminder for an entity that was
// completed, archived, or deleted. Unknown entities are a no-op.
func (s *SchedulerService) RemoveEntity(ctx context.Context, entityID string) error {
	key := reminder.EntityKey(entityID)
	unlock := s.locks.lock(key)
	defer unlock()
	return s.apply(ctx, key, reminder.CategoryActivityReminder, nil)
}

// ReconcileAllCategories re-runs every repeating category.
func (s *SchedulerService) ReconcileAllCategories(ctx context.Context) error {
	for _, category := range reminder.KnownCategories() {
		if !category.Repeating() {
			continue
		}
		if err := s.ReconcileCategory(ctx, category); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileLedgerEntry re-runs the scheduler for a key using only what the
// ledger remembers. The reconciler uses this for drift repair and for
// re-evaluating entity reminders after a preference or permission change.
func (s *SchedulerService) ReconcileLedgerEntry(ctx context.Context, entry *reminder.LedgerEntry) error {
	if entry.Repeating() {
		return s.ReconcileCategory(ctx, entry.Category)
	}
	return s.ReconcileEntity(ctx, reminder.Source{
		EntityID: strings.TrimPrefix(entry.Key, "activity:"),
		Category: entry.Category,
		FireAt:   entry.IntendedFireAt.Time,
		Title:    entry.Title,
		Body:     entry.Body,
	})
}

// desiredCategoryState computes the repeating reminder a category should
// hold right now, or nil when it should not exist.
func (s *SchedulerService) desiredCategoryState(ctx context.Context, category reminder.Category, prefs *preference.NotificationPreference) (*desiredState, error) {
	if !s.notifiable(prefs, category) {
		return nil, nil
	}

	now := s.now()
	state, err := s.streaks.Streak(ctx)
	if err != nil {
		return nil, err
	}
	shownUpToday := state.LastShowUpDate.Valid && streak.SameDay(state.LastShowUpDate.Time, now)

	var slot reminder.TimeOfDay
	switch category {
	case reminder.CategoryDailyShowUp:
		slot = prefs.DailyShowUpTime
	case reminder.CategoryStreakSave:
		// Only while a streak is actually at risk: alive through yesterday
		// and not yet continued today.
		atRisk := state.LastShowUpDate.Valid && streak.IsYesterdayOf(state.LastShowUpDate.Time, now)
		if !atRisk {
			return nil, nil
		}
		slot = s.cfg.StreakSaveTime
	case reminder.CategoryReactivation:
		if !s.reactivationDue(state, now) {
			return nil, nil
		}
		slot = s.cfg.ReactivationTime
	default:
		return nil, fmt.Errorf("no repeating slot for category %q", category)
	}
	if !slot.Valid() {
		return nil, fmt.Errorf("invalid time of day %q for category %s", slot, category)
	}

	fireAt := slot.NextOccurrence(now)
	// A show-up today makes today's nudge redundant; aim at tomorrow's slot.
	if shownUpToday && category == reminder.CategoryDailyShowUp && streak.SameDay(fireAt, now) {
		fireAt = slot.OnDay(now.AddDate(0, 0, 1))
	}

	msg := repeatingCopy[category]
	return &desiredState{fireAt: fireAt, timeOfDay: slot, title: msg[0], body: msg[1]}, nil
}

func (s *SchedulerService) reactivationDue(state *streak.State, now time.Time) bool {
	if !state.LastShowUpDate.Valid {
		return true // never engaged
	}
	gap := streak.LocalDay(now).Sub(streak.LocalDay(state.LastShowUpDate.Time))
	return int(gap.Hours()/24) >= s.cfg.ReactivationAfterDays
}

// apply drives the ledger and the gateway toward desired for one key.
// Callers must hold the key lock.
func (s *SchedulerService) apply(ctx context.Context, key string, category reminder.Category, desired *desiredState) error {
	entry, err := s.ledgerRepo.Get(ctx, key)
	if err != nil {
		if err != idb.ErrLedgerEntryNotFound {
			return fmt.Errorf("failed to read ledger entry %s: %w", key, err)
		}
		entry = nil
	}

	if desired == nil {
		if entry == nil {
			return nil
		}
		return s.cancelAndDelete(ctx, entry)
	}

	if entry != nil && s.matches(entry, desired) {
		return nil // idempotent no-op, zero gateway calls
	}

	now := s.now()
	// A reschedule of a live reminder replaces an already-approved slot, so
	// only net-new schedules consume attention budget.
	netNew := entry == nil || !entry.HasLiveHandle()
	if netNew {
		decision := s.policy.MayScheduleOrDeliver(category, now)
		if !decision.Allowed {
			return s.deferEntry(ctx, key, category, desired, entry, decision)
		}
	}

	// Reschedule is cancel-old-then-schedule-new, all under the key lock, so
	// no concurrent pass can observe two live handles for the key.
	if entry != nil && entry.HasLiveHandle() {
		if err := s.gw.Cancel(ctx, entry.PlatformHandle.String); err != nil {
			// Unknown whether the old handle survives; do not schedule a
			// second one. The reconciler re-checks on the next pass.
			s.logger.Errorf("Failed to cancel handle for %s before reschedule: %v", key, err)
			entry.HandleUnknown = true
			if uerr := s.ledgerRepo.Update(ctx, entry); uerr != nil {
				return fmt.Errorf("failed to mark ledger entry %s unknown: %w", key, uerr)
			}
			return nil
		}
		s.sink.Emit(InstrumentationEvent{Name: EventNotificationCancelled, Key: key, Category: category, At: now})
	}

	payload := gateway.Payload{Key: key, Category: category, Title: desired.title, Body: desired.body}
	handle, err := s.gw.ScheduleAt(ctx, desired.fireAt, payload)
	if err != nil {
		s.logger.Errorf("Failed to schedule %s at %s: %v", key, desired.fireAt.Format(time.RFC3339), err)
		return s.writeEntry(ctx, key, category, desired, entry, func(e *reminder.LedgerEntry) {
			e.PlatformHandle = sql.NullString{}
			e.HandleUnknown = true
		})
	}

	if err := s.writeEntry(ctx, key, category, desired, entry, func(e *reminder.LedgerEntry) {
		e.PlatformHandle = sql.NullString{String: handle, Valid: true}
		e.HandleUnknown = false
		e.DeferredUntil = sql.NullTime{}
	}); err != nil {
		return err
	}

	if netNew {
		s.policy.RecordScheduled(category, now)
	}
	s.logger.Infof("Scheduled %s (%s) for %s", key, category, desired.fireAt.Format(time.RFC3339))
	s.sink.Emit(InstrumentationEvent{Name: EventNotificationScheduled, Key: key, Category: category, At: now})
	return nil
}

// matches reports whether the live entry already realizes desired.
func (s *SchedulerService) matches(entry *reminder.LedgerEntry, desired *desiredState) bool {
	if !entry.HasLiveHandle() || entry.HandleUnknown {
		return false
	}
	if entry.Title != desired.title || entry.Body != desired.body {
		return false
	}
	if desired.timeOfDay != "" && entry.Slot() != desired.timeOfDay {
		return false
	}
	return entry.IntendedFireAt.Valid && entry.IntendedFireAt.Time.Equal(desired.fireAt)
}

// deferEntry records the intent without a platform schedule when the policy
// blocks scheduling, so the reconciler does not mistake it for drift.
func (s *SchedulerService) deferEntry(ctx context.Context, key string, category reminder.Category, desired *desiredState, entry *reminder.LedgerEntry, decision PolicyDecision) error {
	now := s.now()
	if entry != nil && entry.HasLiveHandle() {
		if err := s.gw.Cancel(ctx, entry.PlatformHandle.String); err != nil {
			s.logger.Errorf("Failed to cancel handle for deferred %s: %v", key, err)
			entry.HandleUnknown = true
			if uerr := s.ledgerRepo.Update(ctx, entry); uerr != nil {
				return fmt.Errorf("failed to mark ledger entry %s unknown: %w", key, uerr)
			}
			return nil
		}
		s.sink.Emit(InstrumentationEvent{Name: EventNotificationCancelled, Key: key, Category: category, At: now})
	}
	s.logger.Infof("Deferred %s (%s): %s, retry at %s", key, category, decision.Reason, decision.RetryAt.Format(time.RFC3339))
	return s.writeEntry(ctx, key, category, desired, entry, func(e *reminder.LedgerEntry) {
		e.PlatformHandle = sql.NullString{}
		e.HandleUnknown = false
		e.DeferredUntil = sql.NullTime{Time: decision.RetryAt, Valid: true}
	})
}

// writeEntry creates or updates the ledger entry for key with the desired
// time and content, then applies mutate for handle bookkeeping.
func (s *SchedulerService) writeEntry(ctx context.Context, key string, category reminder.Category, desired *desiredState, entry *reminder.LedgerEntry, mutate func(*reminder.LedgerEntry)) error {
	creating := entry == nil
	if creating {
		entry = &reminder.LedgerEntry{Key: key, Category: category}
	}
	entry.Title = desired.title
	entry.Body = desired.body
	entry.IntendedFireAt = sql.NullTime{Time: desired.fireAt, Valid: true}
	if desired.timeOfDay != "" {
		entry.TimeOfDay = sql.NullString{String: string(desired.timeOfDay), Valid: true}
	} else {
		entry.TimeOfDay = sql.NullString{}
	}
	mutate(entry)

	var err error
	if creating {
		err = s.ledgerRepo.Create(ctx, entry)
	} else {
		err = s.ledgerRepo.Update(ctx, entry)
	}
	if err != nil {
		return fmt.Errorf("failed to write ledger entry %s: %w", key, err)
	}
	return nil
}

// cancelAndDelete removes the platform schedule and the ledger entry.
func (s *SchedulerService) cancelAndDelete(ctx context.Context, entry *reminder.LedgerEntry) error {
	if entry.HasLiveHandle() {
		if err := s.gw.Cancel(ctx, entry.PlatformHandle.String); err != nil {
			s.logger.Errorf("Failed to cancel handle for %s: %v", entry.Key, err)
			entry.HandleUnknown = true
			if uerr := s.ledgerRepo.Update(ctx, entry); uerr != nil {
				return fmt.Errorf("failed to mark ledger entry %s unknown: %w", entry.Key, uerr)
			}
			return nil
		}
	}
	if err := s.ledgerRepo.Delete(ctx, entry.Key); err != nil && err != idb.ErrLedgerEntryNotFound {
		return fmt.Errorf("failed to delete ledger entry %s: %w", entry.Key, err)
	}
	s.logger.Infof("Removed reminder %s (%s)", entry.Key, entry.Category)
	s.sink.Emit(InstrumentationEvent{Name: EventNotificationCancelled, Key: entry.Key, Category: entry.Category, At: s.now()})
	return nil
}

// notifiable checks master flag, category flag, and platform permission.
func (s *SchedulerService) notifiable(prefs *preference.NotificationPreference, category reminder.Category) bool {
	return prefs.CategoryEnabled(category) && prefs.OSPermission == gateway.PermissionAuthorized
}

func (s *SchedulerService) loadPreferences(ctx context.Context) (*preference.NotificationPreference, error) {
	prefs, err := s.prefRepo.Get(ctx)
	if err != nil {
		if err == idb.ErrPreferencesNotFound {
			return preference.Default(s.cfg.DefaultShowUpTime), nil
		}
		return nil, fmt.Errorf("failed to load notification preferences: %w", err)
	}
	return prefs, nil
}
