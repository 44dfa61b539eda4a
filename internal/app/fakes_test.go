package app

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"activity_reminder_engine/internal/domain/gateway"
	"activity_reminder_engine/internal/domain/preference"
	"activity_reminder_engine/internal/domain/reminder"
	"activity_reminder_engine/internal/domain/streak"
	idb "activity_reminder_engine/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// fakeGateway records every schedule/cancel call and tracks the pending set,
// so tests can assert the single-live-handle invariant and idempotence.
type fakeGateway struct {
	mu            sync.Mutex
	pending       map[string]gateway.Payload
	scheduleCalls []gateway.Payload
	cancelCalls   []string
	permission    gateway.PermissionStatus
	scheduleErr   error
	cancelErr     error
	nextHandle    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		pending:    make(map[string]gateway.Payload),
		permission: gateway.PermissionAuthorized,
	}
}

func (g *fakeGateway) ScheduleAt(_ context.Context, _ time.Time, payload gateway.Payload) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scheduleErr != nil {
		return "", g.scheduleErr
	}
	g.nextHandle++
	handle := fmt.Sprintf("handle-%d", g.nextHandle)
	g.pending[handle] = payload
	g.scheduleCalls = append(g.scheduleCalls, payload)
	return handle, nil
}

func (g *fakeGateway) Cancel(_ context.Context, handle string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	delete(g.pending, handle)
	g.cancelCalls = append(g.cancelCalls, handle)
	return nil
}

func (g *fakeGateway) ListPending(_ context.Context) (map[string]struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	handles := make(map[string]struct{}, len(g.pending))
	for h := range g.pending {
		handles[h] = struct{}{}
	}
	return handles, nil
}

func (g *fakeGateway) Permission(_ context.Context) (gateway.PermissionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.permission, nil
}

func (g *fakeGateway) RequestPermission(_ context.Context) (gateway.PermissionStatus, error) {
	return g.Permission(context.Background())
}

// dropHandle simulates the platform losing (or silently firing) a schedule.
func (g *fakeGateway) dropHandle(handle string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, handle)
}

// injectHandle plants a platform schedule the ledger knows nothing about.
func (g *fakeGateway) injectHandle(handle string, payload gateway.Payload) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[handle] = payload
}

func (g *fakeGateway) callCounts() (schedules, cancels int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.scheduleCalls), len(g.cancelCalls)
}

// liveHandlesForKey counts pending schedules owned by one key; the
// no-duplicate invariant requires this to never exceed 1.
func (g *fakeGateway) liveHandlesForKey(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.pending {
		if p.Key == key {
			n++
		}
	}
	return n
}

// memLedger is the in-memory ledger repository. Entries are copied on the
// way in and out so tests never alias service-held pointers.
type memLedger struct {
	mu      sync.Mutex
	entries map[string]reminder.LedgerEntry
}

func newMemLedger() *memLedger {
	return &memLedger{entries: make(map[string]reminder.LedgerEntry)}
}

func (m *memLedger) Create(_ context.Context, entry *reminder.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.Key]; ok {
		return idb.ErrDuplicateLedgerKey
	}
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	m.entries[entry.Key] = *entry
	return nil
}

func (m *memLedger) Update(_ context.Context, entry *reminder.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.Key]; !ok {
		return idb.ErrLedgerEntryNotFound
	}
	entry.UpdatedAt = time.Now()
	m.entries[entry.Key] = *entry
	return nil
}

func (m *memLedger) Get(_ context.Context, key string) (*reminder.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, idb.ErrLedgerEntryNotFound
	}
	copied := entry
	return &copied, nil
}

func (m *memLedger) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return idb.ErrLedgerEntryNotFound
	}
	delete(m.entries, key)
	return nil
}

func (m *memLedger) ListAll(_ context.Context) ([]*reminder.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*reminder.LedgerEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		copied := entry
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memLedger) put(entry reminder.LedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
}

func (m *memLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// memPrefs is the in-memory preference repository.
type memPrefs struct {
	mu    sync.Mutex
	prefs *preference.NotificationPreference
}

func (m *memPrefs) Get(_ context.Context) (*preference.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefs == nil {
		return nil, idb.ErrPreferencesNotFound
	}
	copied := *m.prefs
	copied.PerCategoryEnabled = make(map[reminder.Category]bool, len(m.prefs.PerCategoryEnabled))
	for k, v := range m.prefs.PerCategoryEnabled {
		copied.PerCategoryEnabled[k] = v
	}
	return &copied, nil
}

func (m *memPrefs) Save(_ context.Context, prefs *preference.NotificationPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *prefs
	m.prefs = &copied
	return nil
}

// memStreaks is the in-memory streak repository.
type memStreaks struct {
	mu    sync.Mutex
	state *streak.State
}

func (m *memStreaks) Get(_ context.Context) (*streak.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, idb.ErrStreakNotFound
	}
	copied := *m.state
	return &copied, nil
}

func (m *memStreaks) Save(_ context.Context, state *streak.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.state = &copied
	return nil
}

// captureSink records emitted instrumentation events.
type captureSink struct {
	mu     sync.Mutex
	events []InstrumentationEvent
}

func (s *captureSink) Emit(event InstrumentationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) countByName(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (s *captureSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// engineFixture wires the whole engine over fakes with a controllable clock.
type engineFixture struct {
	gw         *fakeGateway
	ledger     *memLedger
	prefs      *memPrefs
	streakRepo *memStreaks
	sink       *captureSink
	policy     *CapPolicy
	streaks    *StreakTracker
	scheduler  *SchedulerService
	estimator  *DeliveryEstimator
	reconciler *ReconcilerService
}

var fixtureSchedulerConfig = SchedulerConfig{
	DefaultShowUpTime:     "09:00",
	StreakSaveTime:        "20:30",
	ReactivationTime:      "18:00",
	ReactivationAfterDays: 3,
}

func defaultPolicyConfig() CapPolicyConfig {
	return CapPolicyConfig{
		DailyCeiling:    100,
		MinSpacing:      time.Hour,
		IgnoreThreshold: 3,
		IgnoreCooldown:  72 * time.Hour,
	}
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	return newFixtureWithPolicy(t, defaultPolicyConfig())
}

func newFixtureWithPolicy(t *testing.T, policyCfg CapPolicyConfig) *engineFixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel) // keep test output quiet

	f := &engineFixture{
		gw:         newFakeGateway(),
		ledger:     newMemLedger(),
		prefs:      &memPrefs{},
		streakRepo: &memStreaks{},
		sink:       &captureSink{},
	}
	f.policy = NewCapPolicy(policyCfg, log)
	f.streaks = NewStreakTracker(f.streakRepo, log)
	f.scheduler = NewSchedulerService(f.ledger, f.prefs, f.gw, f.policy, f.streaks, f.sink, log, fixtureSchedulerConfig)
	f.estimator = NewDeliveryEstimator(f.ledger, f.policy, f.sink, log, 15*time.Minute)
	f.reconciler = NewReconcilerService(f.ledger, f.prefs, f.gw, f.scheduler, f.estimator, nil, log)

	// Repeating categories start disabled so category reconciliation stays
	// inert unless a test opts in.
	f.prefs.prefs = &preference.NotificationPreference{
		MasterEnabled:   true,
		DailyShowUpTime: "09:00",
		OSPermission:    gateway.PermissionAuthorized,
		PerCategoryEnabled: map[reminder.Category]bool{
			reminder.CategoryDailyShowUp:  false,
			reminder.CategoryStreakSave:   false,
			reminder.CategoryReactivation: false,
		},
	}
	return f
}

// setNow pins every service clock to the same instant.
func (f *engineFixture) setNow(now time.Time) {
	clock := func() time.Time { return now }
	f.scheduler.now = clock
	f.estimator.now = clock
	f.reconciler.now = clock
	f.streaks.now = clock
}

func (f *engineFixture) enableCategory(c reminder.Category) {
	f.prefs.mu.Lock()
	defer f.prefs.mu.Unlock()
	f.prefs.prefs.PerCategoryEnabled[c] = true
}

// baseTime is a fixed mid-day reference in local time.
func baseTime() time.Time {
	return time.Date(2025, 6, 16, 12, 0, 0, 0, time.Local)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func oneShotSource(entityID string, fireAt time.Time) reminder.Source {
	return reminder.Source{
		EntityID: entityID,
		Category: reminder.CategoryActivityReminder,
		FireAt:   fireAt,
		Title:    "Morning run",
		Body:     "Lace up, 5k today.",
	}
}
