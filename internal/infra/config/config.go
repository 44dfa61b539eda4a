package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"activity_reminder_engine/internal/domain/reminder"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the engine.
type AppConfig struct {
	TelegramToken string
	ChatID        int64 // recipient chat for delivered reminders
	DatabaseURL   string
	LogLevel      string
	Environment   string

	// CronSpecReconcile drives the periodic background reconciliation pass.
	// Best-effort: the start/resume pass is the only guaranteed one.
	CronSpecReconcile string

	// Attention budget tunables.
	DailyNotificationCeiling int
	CategoryMinSpacing       time.Duration
	IgnoreStreakThreshold    int
	IgnoreCooldown           time.Duration

	// Delivery estimation tolerance: an estimated fire time is clamped to
	// intended time + tolerance.
	FiredEstimateTolerance time.Duration

	// Default daily slots for the repeating categories ("HH:MM" local time).
	DailyShowUpTime  string
	StreakSaveTime   string
	ReactivationTime string
	// Days of absence before the reactivation nudge becomes desired.
	ReactivationAfterDays int
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	chatIDStr := os.Getenv("CHAT_ID")
	if chatIDStr == "" {
		return nil, fmt.Errorf("CHAT_ID is not set")
	}
	cfg.ChatID, err = strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CHAT_ID: %w", err)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	cfg.CronSpecReconcile = os.Getenv("CRON_SPEC_RECONCILE")
	if cfg.CronSpecReconcile == "" {
		cfg.CronSpecReconcile = "0 * * * *" // Default: hourly
	}

	cfg.DailyNotificationCeiling, err = intEnv("DAILY_NOTIFICATION_CEILING", 4)
	if err != nil {
		return nil, err
	}
	cfg.CategoryMinSpacing, err = durationEnv("CATEGORY_MIN_SPACING", 2*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.IgnoreStreakThreshold, err = intEnv("IGNORE_STREAK_THRESHOLD", 3)
	if err != nil {
		return nil, err
	}
	cfg.IgnoreCooldown, err = durationEnv("IGNORE_COOLDOWN", 72*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.FiredEstimateTolerance, err = durationEnv("FIRED_ESTIMATE_TOLERANCE", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.DailyShowUpTime = timeOfDayEnv("DAILY_SHOWUP_TIME", "09:00")
	cfg.StreakSaveTime = timeOfDayEnv("STREAK_SAVE_TIME", "20:30")
	cfg.ReactivationTime = timeOfDayEnv("REACTIVATION_TIME", "18:00")
	cfg.ReactivationAfterDays, err = intEnv("REACTIVATION_AFTER_DAYS", 3)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func timeOfDayEnv(name, fallback string) string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	if _, err := reminder.ParseTimeOfDay(raw); err != nil {
		return fallback
	}
	return raw
}
