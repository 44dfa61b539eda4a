package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"activity_reminder_engine/internal/domain/reminder"
	"activity_reminder_engine/internal/domain/streak"

	"github.com/sirupsen/logrus"
)

// DeliveryEstimate is the best-effort inference that a notification fired.
// The platform gives a reliable "user tapped it" signal but no reliable
// "it silently fired while backgrounded" signal, so firing is inferred from
// the ledger and the pending-handle set.
type DeliveryEstimate struct {
	Key              string
	Category         reminder.Category
	EstimatedFiredAt time.Time
}

// DeliveryEstimator turns "intended time passed and the handle is gone" into
// fired events, with per-day dedupe for repeating slots. It owns the ledger
// bookkeeping that follows an estimate: one-shot entries are deleted (their
// job is done), repeating entries get a same-day marker and an incremented
// ignore streak.
type DeliveryEstimator struct {
	ledgerRepo reminder.Repository
	policy     *CapPolicy
	sink       Sink
	logger     *logrus.Logger
	tolerance  time.Duration
	now        func() time.Time
}

func NewDeliveryEstimator(
	ledgerRepo reminder.Repository,
	policy *CapPolicy,
	sink Sink,
	logger *logrus.Logger,
	tolerance time.Duration,
) *DeliveryEstimator {
	return &DeliveryEstimator{
		ledgerRepo: ledgerRepo,
		policy:     policy,
		sink:       sink,
		logger:     logger,
		tolerance:  tolerance,
		now:        time.Now,
	}
}

// EstimateFired inspects an entry whose handle is absent from the platform's
// pending set and decides whether it likely fired. Returns nil when there is
// nothing to report. Callers must hold the entry's key lock.
func (e *DeliveryEstimator) EstimateFired(ctx context.Context, entry *reminder.LedgerEntry) (*DeliveryEstimate, error) {
	if entry.Repeating() {
		return e.estimateRepeating(ctx, entry)
	}
	return e.estimateOneShot(ctx, entry)
}

// estimateOneShot: intended time has passed and the platform no longer holds
// the handle, so the notification almost certainly fired. The fire time is
// clamped to intended + tolerance because the engine may be waking up hours
// later.
func (e *DeliveryEstimator) estimateOneShot(ctx context.Context, entry *reminder.LedgerEntry) (*DeliveryEstimate, error) {
	now := e.now()
	if !entry.IntendedFireAt.Valid || now.Before(entry.IntendedFireAt.Time) {
		return nil, nil
	}

	firedAt := entry.IntendedFireAt.Time.Add(e.tolerance)
	if now.Before(firedAt) {
		firedAt = now
	}

	if err := e.ledgerRepo.Delete(ctx, entry.Key); err != nil {
		return nil, fmt.Errorf("failed to delete fired one-shot entry %s: %w", entry.Key, err)
	}

	e.logger.Infof("Estimated fire for one-shot %s at %s", entry.Key, firedAt.Format(time.RFC3339))
	e.emit(entry, firedAt)
	e.policy.RecordEstimatedFired(entry.Category, firedAt)
	return &DeliveryEstimate{Key: entry.Key, Category: entry.Category, EstimatedFiredAt: firedAt}, nil
}

// estimateRepeating: once per local calendar day, if the slot has passed and
// today is not already marked, the slot fired. The entry survives; only its
// bookkeeping changes. The same-day marker handles platforms that keep one
// handle alive indefinitely for recurring triggers.
func (e *DeliveryEstimator) estimateRepeating(ctx context.Context, entry *reminder.LedgerEntry) (*DeliveryEstimate, error) {
	now := e.now()
	slot := entry.Slot()
	if !slot.Valid() || !slot.PassedToday(now) {
		return nil, nil
	}
	if entry.LastEstimatedFiredDate.Valid && streak.SameDay(entry.LastEstimatedFiredDate.Time, now) {
		return nil, nil // already estimated for this slot today
	}

	firedAt := slot.OnDay(now).Add(e.tolerance)
	if now.Before(firedAt) {
		firedAt = now
	}

	entry.LastEstimatedFiredDate = sql.NullTime{Time: streak.LocalDay(now), Valid: true}
	entry.PlatformHandle = sql.NullString{}
	entry.HandleUnknown = false
	entry.IgnoreStreak++
	if err := e.ledgerRepo.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to mark repeating entry %s as fired: %w", entry.Key, err)
	}

	e.logger.Infof("Estimated fire for repeating %s at %s (ignore streak %d)",
		entry.Key, firedAt.Format(time.RFC3339), entry.IgnoreStreak)
	e.emit(entry, firedAt)
	e.policy.RecordEstimatedFired(entry.Category, firedAt)
	e.policy.NoteIgnoreStreak(entry.Category, entry.IgnoreStreak, now)
	return &DeliveryEstimate{Key: entry.Key, Category: entry.Category, EstimatedFiredAt: firedAt}, nil
}

func (e *DeliveryEstimator) emit(entry *reminder.LedgerEntry, firedAt time.Time) {
	e.sink.Emit(InstrumentationEvent{
		Name:       EventNotificationFiredEstimated,
		Key:        entry.Key,
		Category:   entry.Category,
		At:         firedAt,
		BestEffort: true,
	})
}
