package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"activity_reminder_engine/internal/app"
	"activity_reminder_engine/internal/domain/reminder"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterEngineHandlers wires the chat-facing surface: the "Open" tap
// callback, /start as the permission request, /done as a qualifying
// engagement, and /streak as the read-only streak query.
func RegisterEngineHandlers(
	bot *telebot.Bot,
	gw *TelebotGateway,
	scheduler *app.SchedulerService,
	streaks *app.StreakTracker,
	logger *logrus.Logger,
) {
	bot.Handle(&telebot.Btn{Unique: ButtonUniqueOpen}, func(c telebot.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		key, category, err := parseOpenCallback(c.Data())
		if err != nil {
			logger.Warnf("Ignoring malformed open callback %q: %v", c.Data(), err)
			return c.Respond()
		}
		if err := scheduler.HandleNotificationOpened(ctx, key, category); err != nil {
			logger.Errorf("Failed to process open for %s: %v", key, err)
		}
		return c.Respond(&telebot.CallbackResponse{Text: "Nice, noted!"})
	})

	bot.Handle("/start", func(c telebot.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		status, _ := gw.RequestPermission(ctx)
		logger.Infof("Permission requested via /start: %s", status)
		return c.Send("Reminders are on. Use /done when you show up and /streak to check your run.")
	})

	bot.Handle("/done", func(c telebot.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := streaks.RecordShowUp(ctx, time.Now()); err != nil {
			logger.Errorf("Failed to record show-up: %v", err)
			return c.Send("Could not record that, try again in a bit.")
		}
		// Today's nudges may have just become redundant.
		if err := scheduler.ReconcileAllCategories(ctx); err != nil {
			logger.Errorf("Failed to reconcile categories after show-up: %v", err)
		}

		state, err := streaks.Streak(ctx)
		if err != nil {
			return c.Send("Show-up recorded.")
		}
		return c.Send(fmt.Sprintf("Show-up recorded. Current streak: %d days.", state.CurrentStreak))
	})

	bot.Handle("/streak", func(c telebot.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		state, err := streaks.Streak(ctx)
		if err != nil {
			logger.Errorf("Failed to read streak state: %v", err)
			return c.Send("Could not read your streak right now.")
		}
		return c.Send(fmt.Sprintf("Current streak: %d days. Best: %d days.", state.CurrentStreak, state.BestStreak))
	})
}

// parseOpenCallback unpacks "key|category" from the button payload.
func parseOpenCallback(data string) (string, reminder.Category, error) {
	parts := strings.Split(strings.TrimSpace(data), "|")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("expected key|category, got %q", data)
	}
	category, err := reminder.ParseCategory(parts[1])
	if err != nil {
		return "", "", err
	}
	return parts[0], category, nil
}
