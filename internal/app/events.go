package app

import (
	"context"
	"fmt"
	"time"

	"activity_reminder_engine/internal/domain/preference"
	"activity_reminder_engine/internal/domain/reminder"
	idb "activity_reminder_engine/internal/infra/database"
)

// DomainEventType enumerates the lifecycle events the host's domain layer
// feeds into the engine.
type DomainEventType string

const (
	DomainEventCreated   DomainEventType = "created"
	DomainEventUpdated   DomainEventType = "updated"
	DomainEventCompleted DomainEventType = "completed"
	DomainEventArchived  DomainEventType = "archived"
	DomainEventDeleted   DomainEventType = "deleted"
)

// DomainEvent is one entity lifecycle change. ReminderAt is nil when the
// entity carries no reminder (or it was cleared).
type DomainEvent struct {
	Type       DomainEventType
	EntityID   string
	ReminderAt *time.Time
	Title      string
	Body       string
}

// HandleDomainEvent applies one lifecycle event. Events for the same entity
// must be delivered in order; the per-key lock serializes their application.
func (s *SchedulerService) HandleDomainEvent(ctx context.Context, event DomainEvent) error {
	if event.EntityID == "" {
		return fmt.Errorf("domain event %s has no entity id", event.Type)
	}

	switch event.Type {
	case DomainEventCreated, DomainEventUpdated:
		if event.ReminderAt == nil {
			return s.RemoveEntity(ctx, event.EntityID)
		}
		return s.ReconcileEntity(ctx, reminder.Source{
			EntityID: event.EntityID,
			Category: reminder.CategoryActivityReminder,
			FireAt:   *event.ReminderAt,
			Title:    event.Title,
			Body:     event.Body,
		})

	case DomainEventCompleted:
		// Completion is the qualifying engagement: it feeds the streak and
		// retires the entity's reminder. The show-up may flip today's
		// suppression for the repeating nudges, so re-run them.
		if err := s.streaks.RecordShowUp(ctx, s.now()); err != nil {
			return err
		}
		if err := s.RemoveEntity(ctx, event.EntityID); err != nil {
			return err
		}
		return s.ReconcileAllCategories(ctx)

	case DomainEventArchived, DomainEventDeleted:
		return s.RemoveEntity(ctx, event.EntityID)

	default:
		return fmt.Errorf("unknown domain event type %q", event.Type)
	}
}

// HandlePreferencesChanged re-evaluates everything after the settings
// surface rewrote preferences. A category toggled off-to-on clears its
// ignore cool-down: the user explicitly re-engaged.
func (s *SchedulerService) HandlePreferencesChanged(ctx context.Context, previous, current *preference.NotificationPreference) error {
	if previous != nil && current != nil {
		for _, category := range reminder.KnownCategories() {
			if !previous.CategoryEnabled(category) && current.CategoryEnabled(category) {
				s.policy.ClearCooldown(category)
			}
		}
	}

	if err := s.ReconcileAllCategories(ctx); err != nil {
		return err
	}

	entries, err := s.ledgerRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ledger entries: %w", err)
	}
	for _, entry := range entries {
		if entry.Repeating() {
			continue // covered by ReconcileAllCategories
		}
		if err := s.ReconcileLedgerEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// HandleNotificationOpened processes the platform's tap callback: the one
// delivery signal that is reliable. It resets the entry's ignore streak,
// lifts the category cool-down, and emits notification_opened.
func (s *SchedulerService) HandleNotificationOpened(ctx context.Context, key string, category reminder.Category) error {
	unlock := s.locks.lock(key)
	defer unlock()

	s.policy.RecordOpened(category)
	s.sink.Emit(InstrumentationEvent{Name: EventNotificationOpened, Key: key, Category: category, At: s.now()})

	entry, err := s.ledgerRepo.Get(ctx, key)
	if err != nil {
		if err == idb.ErrLedgerEntryNotFound {
			return nil // one-shot already estimated and deleted; cool-down reset is enough
		}
		return fmt.Errorf("failed to read ledger entry %s: %w", key, err)
	}
	if entry.IgnoreStreak != 0 {
		entry.IgnoreStreak = 0
		if err := s.ledgerRepo.Update(ctx, entry); err != nil {
			return fmt.Errorf("failed to reset ignore streak for %s: %w", key, err)
		}
	}
	return nil
}
