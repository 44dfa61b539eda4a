package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"activity_reminder_engine/internal/domain/gateway"
	"activity_reminder_engine/internal/domain/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFullReconciliation_CancelsOrphanHandles(t *testing.T) {
	f := newFixture(t)
	f.setNow(baseTime())
	ctx := context.Background()

	f.gw.injectHandle("ghost-1", gateway.Payload{Key: "activity:old", Category: reminder.CategoryActivityReminder})
	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	pending, err := f.gw.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Contains(t, f.gw.cancelCalls, "ghost-1")
}

func TestRunFullReconciliation_RepairsDriftedEntry(t *testing.T) {
	f := newFixture(t)
	now := baseTime()
	f.setNow(now)
	ctx := context.Background()

	fireAt := now.Add(5 * time.Hour)
	require.NoError(t, f.scheduler.ReconcileEntity(ctx, oneShotSource("42", fireAt)))
	entry, err := f.ledger.Get(ctx, "activity:42")
	require.NoError(t, err)
	f.gw.dropHandle(entry.PlatformHandle.String)

	// Past the spacing window, before the intended fire.
	f.setNow(now.Add(2 * time.Hour))
	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	repaired, err := f.ledger.Get(ctx, "activity:42")
	require.NoError(t, err)
	assert.True(t, repaired.HasLiveHandle())
	assert.NotEqual(t, entry.PlatformHandle.String, repaired.PlatformHandle.String)
	assert.True(t, repaired.IntendedFireAt.Time.Equal(fireAt))
	assert.Equal(t, 1, f.gw.liveHandlesForKey("activity:42"))
	// The recorded handle is cancelled before a replacement is armed, in
	// case the pending snapshot was stale and the handle still lived.
	assert.Contains(t, f.gw.cancelCalls, entry.PlatformHandle.String)
}

func TestRunFullReconciliation_DeferredIntentIsNeverReportedFired(t *testing.T) {
	cfg := defaultPolicyConfig()
	cfg.DailyCeiling = 0
	f := newFixtureWithPolicy(t, cfg)
	now := baseTime()
	f.setNow(now)
	ctx := context.Background()

	require.NoError(t, f.scheduler.ReconcileEntity(ctx, oneShotSource("42", now.Add(time.Hour))))
	schedules, _ := f.gw.callCounts()
	require.Equal(t, 0, schedules, "the intent must have been deferred, not scheduled")

	// The intended time passes while the intent is still deferred. Nothing
	// was ever armed, so nothing can have fired.
	f.setNow(now.Add(3 * time.Hour))
	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	assert.Equal(t, 0, f.sink.countByName(EventNotificationFiredEstimated))
	assert.Equal(t, 0, f.ledger.count(), "the stale intent is retired, not reported")
}

func TestRunFullReconciliation_EstimatesFiredOneShot(t *testing.T) {
	f := newFixture(t)
	now := baseTime()
	f.setNow(now)
	ctx := context.Background()

	require.NoError(t, f.scheduler.ReconcileEntity(ctx, oneShotSource("42", now.Add(time.Hour))))
	entry, err := f.ledger.Get(ctx, "activity:42")
	require.NoError(t, err)
	f.gw.dropHandle(entry.PlatformHandle.String)

	f.setNow(now.Add(3 * time.Hour))
	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	assert.Equal(t, 0, f.ledger.count(), "fired one-shots leave the ledger")
	assert.Equal(t, 1, f.sink.countByName(EventNotificationFiredEstimated))

	// A second pass must not re-report the same fire.
	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))
	assert.Equal(t, 1, f.sink.countByName(EventNotificationFiredEstimated))
}

func TestRunFullReconciliation_PermissionRevokedCancelsEverything(t *testing.T) {
	f := newFixture(t)
	now := baseTime()
	f.setNow(now)
	ctx := context.Background()

	require.NoError(t, f.scheduler.ReconcileEntity(ctx, oneShotSource("42", now.Add(time.Hour))))

	f.gw.permission = gateway.PermissionDenied
	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	prefs, err := f.prefs.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, gateway.PermissionDenied, prefs.OSPermission)
	assert.Equal(t, 0, f.ledger.count())
	assert.Equal(t, 0, f.gw.liveHandlesForKey("activity:42"))
}

func TestRunFullReconciliation_DeletesUnknownCategoryEntry(t *testing.T) {
	f := newFixture(t)
	f.setNow(baseTime())
	ctx := context.Background()

	f.gw.injectHandle("legacy-7", gateway.Payload{Key: "category:LEGACY_THING"})
	f.ledger.put(reminder.LedgerEntry{
		Key:            "category:LEGACY_THING",
		Category:       reminder.Category("LEGACY_THING"),
		PlatformHandle: nullString("legacy-7"),
	})

	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	assert.Equal(t, 0, f.ledger.count())
	assert.Contains(t, f.gw.cancelCalls, "legacy-7")
}

func TestRunFullReconciliation_ResolvesUnknownHandleStillPending(t *testing.T) {
	f := newFixture(t)
	now := baseTime()
	f.setNow(now)
	ctx := context.Background()

	// A gateway call failed mid-flight but the schedule actually went through.
	fireAt := now.Add(4 * time.Hour)
	f.gw.injectHandle("handle-77", gateway.Payload{Key: "activity:42", Category: reminder.CategoryActivityReminder})
	f.ledger.put(reminder.LedgerEntry{
		Key:            "activity:42",
		Category:       reminder.CategoryActivityReminder,
		PlatformHandle: nullString("handle-77"),
		IntendedFireAt: nullTime(fireAt),
		Title:          "Morning run",
		Body:           "Lace up, 5k today.",
		HandleUnknown:  true,
	})

	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	entry, err := f.ledger.Get(ctx, "activity:42")
	require.NoError(t, err)
	assert.False(t, entry.HandleUnknown)
	assert.Equal(t, "handle-77", entry.PlatformHandle.String)
	schedules, cancels := f.gw.callCounts()
	assert.Equal(t, 0, schedules, "the surviving schedule is kept, not replaced")
	assert.Equal(t, 0, cancels)
}

func TestRunFullReconciliation_KeepsDeferredIntentQuiet(t *testing.T) {
	cfg := defaultPolicyConfig()
	cfg.MinSpacing = 4 * time.Hour
	f := newFixtureWithPolicy(t, cfg)
	now := baseTime()
	f.setNow(now)
	ctx := context.Background()

	// The first schedule eats the spacing window; the second becomes a
	// deferred intent.
	require.NoError(t, f.scheduler.ReconcileEntity(ctx, oneShotSource("1", now.Add(10*time.Hour))))
	require.NoError(t, f.scheduler.ReconcileEntity(ctx, oneShotSource("2", now.Add(12*time.Hour))))

	deferred, err := f.ledger.Get(ctx, "activity:2")
	require.NoError(t, err)
	require.False(t, deferred.HasLiveHandle())
	require.True(t, deferred.DeferredUntil.Valid)

	// While the policy still blocks, a pass does not treat the intent as
	// drift or issue gateway calls for it.
	f.setNow(now.Add(2 * time.Hour))
	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))
	schedules, _ := f.gw.callCounts()
	assert.Equal(t, 1, schedules)

	// Once the spacing window lapses the next pass realizes the intent.
	f.setNow(now.Add(5 * time.Hour))
	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))
	entry, err := f.ledger.Get(ctx, "activity:2")
	require.NoError(t, err)
	assert.True(t, entry.HasLiveHandle())
	assert.False(t, entry.DeferredUntil.Valid)
}

func TestRunFullReconciliation_RepeatingFiresAndReschedules(t *testing.T) {
	f := newFixture(t)
	day1 := baseTime()
	f.setNow(day1)
	f.enableCategory(reminder.CategoryDailyShowUp)
	ctx := context.Background()

	require.NoError(t, f.scheduler.ReconcileCategory(ctx, reminder.CategoryDailyShowUp))
	entry, err := f.ledger.Get(ctx, "category:DAILY_SHOW_UP")
	require.NoError(t, err)
	f.gw.dropHandle(entry.PlatformHandle.String) // the 09:00 slot fired overnight

	day2 := time.Date(2025, 6, 17, 11, 0, 0, 0, time.Local)
	f.setNow(day2)
	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	assert.Equal(t, 1, f.sink.countByName(EventNotificationFiredEstimated))

	after, err := f.ledger.Get(ctx, "category:DAILY_SHOW_UP")
	require.NoError(t, err)
	assert.True(t, after.HasLiveHandle(), "repeating entries survive an estimated fire")
	assert.Equal(t, 1, after.IgnoreStreak)
	wantNext := time.Date(2025, 6, 18, 9, 0, 0, 0, time.Local)
	assert.True(t, after.IntendedFireAt.Time.Equal(wantNext))
}

func TestRunFullReconciliation_SkipsPassWhenPendingSetUnavailable(t *testing.T) {
	f := newFixture(t)
	now := baseTime()
	f.setNow(now)
	ctx := context.Background()

	require.NoError(t, f.scheduler.ReconcileEntity(ctx, oneShotSource("42", now.Add(time.Hour))))
	entry, err := f.ledger.Get(ctx, "activity:42")
	require.NoError(t, err)
	f.gw.dropHandle(entry.PlatformHandle.String)

	f.reconciler.gw = &listFailingGateway{fakeGateway: f.gw}

	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	// Nothing was repaired or deleted on a blind pass.
	kept, err := f.ledger.Get(ctx, "activity:42")
	require.NoError(t, err)
	assert.Equal(t, entry.PlatformHandle.String, kept.PlatformHandle.String)
}

// listFailingGateway makes ListPending fail while delegating everything else.
type listFailingGateway struct {
	*fakeGateway
}

func (g *listFailingGateway) ListPending(context.Context) (map[string]struct{}, error) {
	return nil, assert.AnError
}

// lateWriteLedger mutates the store right after the first ListAll, standing
// in for a scheduler write that lands between the pass's snapshot and its
// per-entry repairs.
type lateWriteLedger struct {
	*memLedger
	once  sync.Once
	write func()
}

func (l *lateWriteLedger) ListAll(ctx context.Context) ([]*reminder.LedgerEntry, error) {
	entries, err := l.memLedger.ListAll(ctx)
	l.once.Do(l.write)
	return entries, err
}

func TestRunFullReconciliation_StaleSnapshotDoesNotClobberFreshHandle(t *testing.T) {
	f := newFixture(t)
	now := baseTime()
	f.setNow(now)
	ctx := context.Background()

	fireAt := now.Add(4 * time.Hour)
	f.ledger.put(reminder.LedgerEntry{
		Key:            "activity:9",
		Category:       reminder.CategoryActivityReminder,
		PlatformHandle: nullString("stale-1"),
		IntendedFireAt: nullTime(fireAt),
		Title:          "Morning run",
	})
	// The platform only knows the handle a concurrent reschedule is about to
	// record; the pass's entry snapshot still carries the old one.
	f.gw.injectHandle("fresh-1", gateway.Payload{Key: "activity:9", Category: reminder.CategoryActivityReminder})
	f.reconciler.ledgerRepo = &lateWriteLedger{memLedger: f.ledger, write: func() {
		f.ledger.put(reminder.LedgerEntry{
			Key:            "activity:9",
			Category:       reminder.CategoryActivityReminder,
			PlatformHandle: nullString("fresh-1"),
			IntendedFireAt: nullTime(fireAt),
			Title:          "Morning run",
		})
	}}

	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	entry, err := f.ledger.Get(ctx, "activity:9")
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", entry.PlatformHandle.String)
	assert.Equal(t, 1, f.gw.liveHandlesForKey("activity:9"))
	schedules, cancels := f.gw.callCounts()
	assert.Equal(t, 0, schedules)
	assert.Equal(t, 0, cancels)
}

func TestRunFullReconciliation_LateLedgerWriteIsNotSweptAsOrphan(t *testing.T) {
	f := newFixture(t)
	now := baseTime()
	f.setNow(now)
	ctx := context.Background()

	// A handle armed by a concurrent schedule, whose ledger row lands only
	// after the pass takes its entry snapshot.
	f.gw.injectHandle("late-1", gateway.Payload{Key: "activity:9", Category: reminder.CategoryActivityReminder})
	f.reconciler.ledgerRepo = &lateWriteLedger{memLedger: f.ledger, write: func() {
		f.ledger.put(reminder.LedgerEntry{
			Key:            "activity:9",
			Category:       reminder.CategoryActivityReminder,
			PlatformHandle: nullString("late-1"),
			IntendedFireAt: nullTime(now.Add(4 * time.Hour)),
			Title:          "Morning run",
		})
	}}

	require.NoError(t, f.reconciler.RunFullReconciliation(ctx))

	assert.Empty(t, f.gw.cancelCalls, "the freshly claimed handle is not an orphan")
	assert.Equal(t, 1, f.gw.liveHandlesForKey("activity:9"))
}
