package instrument

import (
	"activity_reminder_engine/internal/app"

	"github.com/sirupsen/logrus"
)

// LogSink emits instrumentation events as structured log lines. Emission is
// fire-and-forget; a hosted analytics backend can replace this without
// touching the engine.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event app.InstrumentationEvent) {
	s.logger.WithFields(logrus.Fields{
		"event":       event.Name,
		"key":         event.Key,
		"category":    event.Category,
		"at":          event.At,
		"best_effort": event.BestEffort,
	}).Info("instrumentation")
}
