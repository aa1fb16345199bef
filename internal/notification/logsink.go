// Package notification contains the event-bus subscribers: a structured
// log sink that is always on, and an optional MQTT publisher.
package notification

import (
	"log/slog"

	"github.com/sodav/monitor/internal/events"
	"github.com/sodav/monitor/internal/logging"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates the slog subscriber.
func NewLogSink() *LogSink {
	return &LogSink{log: logging.ForService("events")}
}

func (s *LogSink) Name() string { return "log" }

// Notify logs the event with its payload flattened into attributes.
func (s *LogSink) Notify(ev events.Event) {
	attrs := make([]any, 0, 2*len(ev.Payload)+4)
	attrs = append(attrs, "kind", ev.Kind)
	if ev.Station != "" {
		attrs = append(attrs, "station", ev.Station)
	}
	for k, v := range ev.Payload {
		attrs = append(attrs, k, v)
	}

	if ev.Kind == events.KindErrorRaised {
		s.log.Error("event", attrs...)
		return
	}
	s.log.Info("event", attrs...)
}
