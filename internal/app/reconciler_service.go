package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"activity_reminder_engine/internal/domain/gateway"
	"activity_reminder_engine/internal/domain/preference"
	"activity_reminder_engine/internal/domain/reminder"
	idb "activity_reminder_engine/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// Reconciler is the correctness backstop: the scheduler's incremental
// updates may be best-effort because a full pass repairs any drift between
// the ledger, the platform, and the desired state.
type Reconciler interface {
	RunFullReconciliation(ctx context.Context) error
}

type ReconcilerService struct {
	ledgerRepo reminder.Repository
	prefRepo   preference.Repository
	gw         gateway.Gateway
	scheduler  *SchedulerService
	estimator  *DeliveryEstimator
	sources    reminder.SourceProvider // optional; nil degrades to ledger-derived state
	logger     *logrus.Logger
	now        func() time.Time
}

func NewReconcilerService(
	ledgerRepo reminder.Repository,
	prefRepo preference.Repository,
	gw gateway.Gateway,
	scheduler *SchedulerService,
	estimator *DeliveryEstimator,
	sources reminder.SourceProvider,
	logger *logrus.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		ledgerRepo: ledgerRepo,
		prefRepo:   prefRepo,
		gw:         gw,
		scheduler:  scheduler,
		estimator:  estimator,
		sources:    sources,
		logger:     logger,
		now:        time.Now,
	}
}

// RunFullReconciliation compares the ledger's belief against the platform's
// pending set and the currently desired state, and repairs every divergence.
// Runs at process start, on resume, and from the periodic background trigger.
// Platform failures abort the pass silently; the next pass retries.
func (r *ReconcilerService) RunFullReconciliation(ctx context.Context) error {
	r.logger.Info("Starting full reconciliation pass")

	r.refreshPermission(ctx)

	pending, err := r.gw.ListPending(ctx)
	if err != nil {
		// Without the pending set every repair would be a guess. Skip the
		// pass instead of guessing; no retry storm, the next pass re-checks.
		r.logger.Errorf("Failed to list pending notifications, skipping pass: %v", err)
		return nil
	}

	entries, err := r.ledgerRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ledger entries: %w", err)
	}

	for _, entry := range entries {
		if err := r.reconcileEntry(ctx, entry.Key, pending); err != nil {
			r.logger.Errorf("Failed to reconcile ledger entry %s: %v", entry.Key, err)
		}
	}

	r.cancelOrphans(ctx, pending)

	// Re-run the desired-state computation for every category and every
	// known entity source, picking up domain changes missed while suspended.
	if err := r.scheduler.ReconcileAllCategories(ctx); err != nil {
		r.logger.Errorf("Failed to reconcile categories: %v", err)
	}
	r.reconcileEntitySources(ctx)

	r.logger.Info("Full reconciliation pass complete")
	return nil
}

// reconcileEntry repairs one ledger entry against the platform pending set.
// The entry is re-read under the key lock: the list snapshot may predate a
// concurrent scheduler write, and repairing a stale copy would clobber it.
func (r *ReconcilerService) reconcileEntry(ctx context.Context, key string, pending map[string]struct{}) error {
	unlock := r.scheduler.locks.lock(key)
	entry, err := r.ledgerRepo.Get(ctx, key)
	if err != nil {
		unlock()
		if err == idb.ErrLedgerEntryNotFound {
			return nil // retired since the snapshot
		}
		return err
	}
	needsReschedule, err := r.repairEntryLocked(ctx, entry, pending)
	unlock() // the scheduler retakes the key lock itself
	if err != nil || !needsReschedule {
		return err
	}
	return r.scheduler.ReconcileLedgerEntry(ctx, entry)
}

// repairEntryLocked handles corruption healing, unknown-handle resolution,
// and fired-estimation for one entry. It reports whether the entry needs a
// scheduler re-run (drift repair). Callers hold the key lock.
func (r *ReconcilerService) repairEntryLocked(ctx context.Context, entry *reminder.LedgerEntry, pending map[string]struct{}) (bool, error) {
	// Self-healing for corruption: a category this build does not know
	// should not exist. Cancel whatever handle it holds and drop the entry.
	if !entry.Category.IsKnown() {
		r.logger.Warnf("Ledger entry %s has unrecognized category %q, deleting", entry.Key, entry.Category)
		if entry.HasLiveHandle() {
			if err := r.gw.Cancel(ctx, entry.PlatformHandle.String); err != nil {
				r.logger.Errorf("Failed to cancel handle for corrupt entry %s: %v", entry.Key, err)
			}
		}
		if err := r.ledgerRepo.Delete(ctx, entry.Key); err != nil && err != idb.ErrLedgerEntryNotFound {
			return false, err
		}
		return false, nil
	}

	handlePending := false
	if entry.HasLiveHandle() {
		_, handlePending = pending[entry.PlatformHandle.String]
	}

	// A failed gateway call left the handle state unknown. If the platform
	// still holds it, the call actually succeeded; otherwise fall through
	// and treat the handle as lost.
	if entry.HandleUnknown && handlePending {
		entry.HandleUnknown = false
		return false, r.ledgerRepo.Update(ctx, entry)
	}

	if handlePending {
		return false, nil // belief matches platform; step 6 handles content drift
	}

	if entry.HasLiveHandle() {
		// Recorded handle absent from the platform. Past intended time means
		// it likely fired; future intended time means drift (externally
		// removed schedule).
		if r.intendedTimePassed(entry) {
			_, err := r.estimator.EstimateFired(ctx, entry)
			return false, err
		}
		r.logger.Warnf("Ledger entry %s lost its platform schedule, repairing", entry.Key)
		// The pending snapshot may be stale and the handle actually live.
		// Cancelling an unknown handle is a no-op, so cancel before the
		// scheduler arms a replacement: no key ever holds two schedules.
		if err := r.gw.Cancel(ctx, entry.PlatformHandle.String); err != nil {
			r.logger.Errorf("Failed to cancel drifted handle for %s: %v", entry.Key, err)
			return false, nil // unknown state; next pass re-checks
		}
		entry.PlatformHandle = sql.NullString{}
		entry.HandleUnknown = false
		if err := r.ledgerRepo.Update(ctx, entry); err != nil {
			return false, err
		}
		return true, nil
	}

	// No handle was ever recorded: a policy-deferred intent or a failed
	// schedule call. Nothing can have fired, so the estimator never sees
	// these; the scheduler re-run realizes or retires the intent.
	if entry.DeferredUntil.Valid && r.now().Before(entry.DeferredUntil.Time) {
		return false, nil // intent recorded, policy still blocking
	}
	return true, nil
}

// intendedTimePassed reports whether the entry's next intended fire moment
// is behind now: the absolute instant for one-shots, today's slot for
// repeating entries.
func (r *ReconcilerService) intendedTimePassed(entry *reminder.LedgerEntry) bool {
	now := r.now()
	if entry.Repeating() {
		slot := entry.Slot()
		return slot.Valid() && slot.PassedToday(now)
	}
	return entry.IntendedFireAt.Valid && now.After(entry.IntendedFireAt.Time)
}

// cancelOrphans removes platform schedules no ledger entry claims. Protects
// against duplicate-scheduling bugs and stale state from prior versions.
// The referenced set is rebuilt from a fresh ledger read at sweep time, so a
// handle written after the pass's entry snapshot is never judged an orphan.
func (r *ReconcilerService) cancelOrphans(ctx context.Context, pending map[string]struct{}) {
	entries, err := r.ledgerRepo.ListAll(ctx)
	if err != nil {
		r.logger.Errorf("Failed to list ledger entries for orphan sweep: %v", err)
		return
	}
	referenced := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.HasLiveHandle() {
			referenced[entry.PlatformHandle.String] = struct{}{}
		}
	}

	for handle := range pending {
		if _, ok := referenced[handle]; ok {
			continue
		}
		r.logger.Warnf("Cancelling orphan platform handle %s", handle)
		if err := r.gw.Cancel(ctx, handle); err != nil {
			r.logger.Errorf("Failed to cancel orphan handle %s: %v", handle, err)
		}
	}
}

// reconcileEntitySources re-runs entity reconciliation: first for what the
// ledger still holds, then for whatever the host's source provider reports.
func (r *ReconcilerService) reconcileEntitySources(ctx context.Context) {
	entries, err := r.ledgerRepo.ListAll(ctx)
	if err != nil {
		r.logger.Errorf("Failed to re-list ledger entries: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.Repeating() {
			continue
		}
		if err := r.scheduler.ReconcileLedgerEntry(ctx, entry); err != nil {
			r.logger.Errorf("Failed to reconcile entity entry %s: %v", entry.Key, err)
		}
	}

	if r.sources == nil {
		return
	}
	sources, err := r.sources.ListActiveSources(ctx)
	if err != nil {
		r.logger.Errorf("Failed to list active reminder sources: %v", err)
		return
	}
	for _, source := range sources {
		if err := r.scheduler.ReconcileEntity(ctx, source); err != nil {
			r.logger.Errorf("Failed to reconcile source %s: %v", source.Key(), err)
		}
	}
}

// refreshPermission polls the platform authorization status and stores it on
// the preference row, so the scheduler's next decision sees it.
func (r *ReconcilerService) refreshPermission(ctx context.Context) {
	status, err := r.gw.Permission(ctx)
	if err != nil {
		r.logger.Errorf("Failed to query notification permission: %v", err)
		return
	}
	prefs, err := r.prefRepo.Get(ctx)
	if err != nil {
		if err != idb.ErrPreferencesNotFound {
			r.logger.Errorf("Failed to load preferences for permission refresh: %v", err)
		}
		return
	}
	if prefs.OSPermission == status {
		return
	}
	r.logger.Infof("Notification permission changed: %s -> %s", prefs.OSPermission, status)
	prefs.OSPermission = status
	if err := r.prefRepo.Save(ctx, prefs); err != nil {
		r.logger.Errorf("Failed to persist permission status: %v", err)
	}
}
