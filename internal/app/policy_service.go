package app

import (
	"sync"
	"time"

	"activity_reminder_engine/internal/domain/reminder"
	"activity_reminder_engine/internal/domain/streak"

	"github.com/sirupsen/logrus"
)

// PolicyDecision is the outcome of one cap/backoff check. When denied,
// RetryAt tells the scheduler when the intent may be retried; the ledger
// entry records it as DeferredUntil.
type PolicyDecision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// CapPolicyConfig carries the attention budget tunables.
type CapPolicyConfig struct {
	DailyCeiling    int
	MinSpacing      time.Duration
	IgnoreThreshold int
	IgnoreCooldown  time.Duration
}

// CapPolicy enforces the global per-day notification ceiling, per-category
// minimum spacing, and the long cool-down for repeatedly ignored categories.
// Decisions are purely local and never contact an external service.
//
// The daily counter and spacing timestamps are per-process: they bound an
// attention budget, not a correctness invariant, so losing them on restart
// is acceptable. The ignore streak that feeds the cool-down is persisted on
// the ledger entry and survives restarts.
type CapPolicy struct {
	mu            sync.Mutex
	cfg           CapPolicyConfig
	logger        *logrus.Logger
	day           time.Time // local day the counters belong to
	dailyCount    int
	lastEvent     map[reminder.Category]time.Time
	ignores       map[reminder.Category]int // estimated fires since the last open
	cooldownUntil map[reminder.Category]time.Time
}

func NewCapPolicy(cfg CapPolicyConfig, logger *logrus.Logger) *CapPolicy {
	return &CapPolicy{
		cfg:           cfg,
		logger:        logger,
		lastEvent:     make(map[reminder.Category]time.Time),
		ignores:       make(map[reminder.Category]int),
		cooldownUntil: make(map[reminder.Category]time.Time),
	}
}

// MayScheduleOrDeliver reports whether one more notification of the category
// fits the attention budget right now.
func (p *CapPolicy) MayScheduleOrDeliver(category reminder.Category, now time.Time) PolicyDecision {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDay(now)

	if until, ok := p.cooldownUntil[category]; ok && now.Before(until) {
		return PolicyDecision{Reason: "category in ignore cool-down", RetryAt: until}
	}
	if p.dailyCount >= p.cfg.DailyCeiling {
		return PolicyDecision{Reason: "daily notification ceiling reached", RetryAt: streak.LocalDay(now).AddDate(0, 0, 1)}
	}
	if last, ok := p.lastEvent[category]; ok && now.Sub(last) < p.cfg.MinSpacing {
		return PolicyDecision{Reason: "within category minimum spacing", RetryAt: last.Add(p.cfg.MinSpacing)}
	}
	return PolicyDecision{Allowed: true}
}

// RecordScheduled counts an issued schedule against the budget.
func (p *CapPolicy) RecordScheduled(category reminder.Category, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDay(at)
	p.dailyCount++
	p.lastEvent[category] = at
}

// RecordEstimatedFired counts an estimated delivery against the budget and
// against the category's consecutive-ignore count.
func (p *CapPolicy) RecordEstimatedFired(category reminder.Category, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollDay(at)
	p.dailyCount++
	p.lastEvent[category] = at
	p.ignores[category]++
	p.maybeCooldown(category, p.ignores[category], at)
}

// NoteIgnoreStreak seeds the category's ignore count from a persisted ledger
// value, so the cool-down survives process restarts for repeating entries.
func (p *CapPolicy) NoteIgnoreStreak(category reminder.Category, ignoreStreak int, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ignoreStreak > p.ignores[category] {
		p.ignores[category] = ignoreStreak
	}
	p.maybeCooldown(category, p.ignores[category], now)
}

// maybeCooldown soft-disables a category once its ignore streak crosses the
// threshold. The cool-down lifts when the user opens a notification of the
// category or re-engages via preferences. Callers must hold p.mu.
func (p *CapPolicy) maybeCooldown(category reminder.Category, ignoreStreak int, now time.Time) {
	if ignoreStreak < p.cfg.IgnoreThreshold {
		return
	}
	if until, ok := p.cooldownUntil[category]; ok && now.Before(until) {
		return // already cooling down
	}
	p.cooldownUntil[category] = now.Add(p.cfg.IgnoreCooldown)
	p.logger.Warnf("Category %s ignored %d times in a row, cooling down until %s",
		category, ignoreStreak, p.cooldownUntil[category].Format(time.RFC3339))
}

// RecordOpened clears the category's cool-down and ignore count: the user is
// engaging again.
func (p *CapPolicy) RecordOpened(category reminder.Category) {
	p.ClearCooldown(category)
}

// ClearCooldown lifts the ignore cool-down, e.g. after the user re-enables
// the category in preferences.
func (p *CapPolicy) ClearCooldown(category reminder.Category) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cooldownUntil, category)
	delete(p.ignores, category)
}

// rollDay resets the daily counter when the local calendar day changes.
func (p *CapPolicy) rollDay(now time.Time) {
	if streak.SameDay(p.day, now) {
		return
	}
	p.day = streak.LocalDay(now)
	p.dailyCount = 0
}
