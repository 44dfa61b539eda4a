package app

import (
	"time"

	"activity_reminder_engine/internal/domain/reminder"
)

// Instrumentation event names.
const (
	EventNotificationScheduled      = "notification_scheduled"
	EventNotificationCancelled      = "notification_cancelled"
	EventNotificationOpened         = "notification_opened"
	EventNotificationFiredEstimated = "notification_fired_estimated"
)

// InstrumentationEvent is one fire-and-forget analytics emission.
type InstrumentationEvent struct {
	Name     string
	Key      string
	Category reminder.Category
	At       time.Time
	// BestEffort marks events inferred rather than observed. Delivery
	// estimates always carry it; the engine never claims delivery certainty.
	BestEffort bool
}

// Sink receives instrumentation events. Implementations must not block and
// must never let an emission failure propagate into scheduling logic.
type Sink interface {
	Emit(event InstrumentationEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(InstrumentationEvent) {}
