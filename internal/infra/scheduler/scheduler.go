package scheduler

import (
	"context"
	"time"

	"activity_reminder_engine/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReconciliationScheduler runs the periodic background reconciliation pass.
// The cadence is best-effort: the hosting environment may skip beats for
// long stretches, and correctness rests on the start/resume pass, so a
// failure to register the trigger degrades the engine instead of killing it.
type ReconciliationScheduler struct {
	cronEngine *cron.Cron
	reconciler app.Reconciler
	logger     *logrus.Logger
	cronSpec   string
	available  bool
}

func NewReconciliationScheduler(reconciler app.Reconciler, logger *logrus.Logger, cronSpec string) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		cronEngine: cron.New(cron.WithLocation(time.Local)), // reconcile on the user's local clock
		reconciler: reconciler,
		logger:     logger,
		cronSpec:   cronSpec,
	}
}

// Start registers and starts the periodic trigger. Registration failure is
// the BackgroundTriggerUnavailable condition: logged, surfaced via
// Available, never fatal.
func (s *ReconciliationScheduler) Start() {
	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Info("Periodic reconciliation trigger fired")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.reconciler.RunFullReconciliation(ctx); err != nil {
			s.logger.Errorf("Periodic reconciliation failed: %v", err)
		}
	})
	if err != nil {
		s.logger.Warnf("Background trigger unavailable (%v); reconciling only at start/resume", err)
		s.available = false
		return
	}

	s.cronEngine.Start()
	s.available = true
	s.logger.Infof("Periodic reconciliation scheduled: %s", s.cronSpec)
}

// Available reports whether the periodic trigger is registered. Diagnostic
// only; core scheduling never depends on it.
func (s *ReconciliationScheduler) Available() bool {
	return s.available
}

func (s *ReconciliationScheduler) Stop() {
	s.logger.Info("Stopping reconciliation scheduler...")
	ctx := s.cronEngine.Stop() // waits for a running pass to finish
	<-ctx.Done()
	s.logger.Info("Reconciliation scheduler stopped")
}
