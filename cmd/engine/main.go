package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"activity_reminder_engine/internal/app"
	"activity_reminder_engine/internal/domain/preference"
	"activity_reminder_engine/internal/domain/reminder"
	"activity_reminder_engine/internal/infra/config"
	idb "activity_reminder_engine/internal/infra/database"
	"activity_reminder_engine/internal/infra/instrument"
	"activity_reminder_engine/internal/infra/logger"
	ischeduler "activity_reminder_engine/internal/infra/scheduler"
	itelegram "activity_reminder_engine/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Get().Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	log := logger.Get()
	log.Infof("Configuration loaded. LogLevel: %s, Environment: %s", cfg.LogLevel, cfg.Environment)

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Could not connect to database: %v", err)
	}
	defer db.Close()
	log.Info("Database connection established")

	ledgerRepo := idb.NewPostgresLedgerRepository(db)
	prefRepo := idb.NewPostgresPreferenceRepository(db)
	streakRepo := idb.NewPostgresStreakRepository(db)

	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			log.Errorf("telebot: %v", err)
		},
	})
	if err != nil {
		log.Fatalf("FATAL: Could not create Telegram bot: %v", err)
	}

	gw := itelegram.NewTelebotGateway(bot, cfg.ChatID, log)
	sink := instrument.NewLogSink(log)
	policy := app.NewCapPolicy(app.CapPolicyConfig{
		DailyCeiling:    cfg.DailyNotificationCeiling,
		MinSpacing:      cfg.CategoryMinSpacing,
		IgnoreThreshold: cfg.IgnoreStreakThreshold,
		IgnoreCooldown:  cfg.IgnoreCooldown,
	}, log)
	streaks := app.NewStreakTracker(streakRepo, log)
	schedulerSvc := app.NewSchedulerService(ledgerRepo, prefRepo, gw, policy, streaks, sink, log, app.SchedulerConfig{
		DefaultShowUpTime:     reminder.TimeOfDay(cfg.DailyShowUpTime),
		StreakSaveTime:        reminder.TimeOfDay(cfg.StreakSaveTime),
		ReactivationTime:      reminder.TimeOfDay(cfg.ReactivationTime),
		ReactivationAfterDays: cfg.ReactivationAfterDays,
	})
	estimator := app.NewDeliveryEstimator(ledgerRepo, policy, sink, log, cfg.FiredEstimateTolerance)
	reconciler := app.NewReconcilerService(ledgerRepo, prefRepo, gw, schedulerSvc, estimator, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	bootstrapPreferences(ctx, prefRepo, reminder.TimeOfDay(cfg.DailyShowUpTime), log)

	// The engine asks for authorization itself at boot; the settings surface
	// can re-request later through the gateway.
	if status, err := gw.RequestPermission(ctx); err == nil {
		log.Infof("Notification permission: %s", status)
	}

	// The start-of-process pass is the one reconciliation guaranteed to run.
	if err := reconciler.RunFullReconciliation(ctx); err != nil {
		log.Errorf("Startup reconciliation failed: %v", err)
	}
	cancel()

	trigger := ischeduler.NewReconciliationScheduler(reconciler, log, cfg.CronSpecReconcile)
	trigger.Start()
	if !trigger.Available() {
		log.Warn("Running without a periodic background trigger")
	}

	itelegram.RegisterEngineHandlers(bot, gw, schedulerSvc, streaks, log)
	log.Info("Engine setup complete, starting bot")
	go bot.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	trigger.Stop()
	bot.Stop()
	log.Info("Engine shut down gracefully")
}

// bootstrapPreferences seeds the default preference row on first run so the
// reconciler has somewhere to record permission status.
func bootstrapPreferences(ctx context.Context, repo preference.Repository, showUpTime reminder.TimeOfDay, log *logrus.Logger) {
	if _, err := repo.Get(ctx); err == nil {
		return
	} else if err != idb.ErrPreferencesNotFound {
		log.Errorf("Failed to read preferences at boot: %v", err)
		return
	}
	if err := repo.Save(ctx, preference.Default(showUpTime)); err != nil {
		log.Errorf("Failed to seed default preferences: %v", err)
	}
}
