package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sodav/monitor/internal/events"
)

func TestLogSinkName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "log", NewLogSink().Name())
}

func TestLogSinkHandlesAllKinds(t *testing.T) {
	t.Parallel()

	s := NewLogSink()
	assert.NotPanics(t, func() {
		s.Notify(events.DetectionFinalized("st", "t", "a", 0.9, "local_exact", time.Minute))
		s.Notify(events.StationHealthChanged("st", "unavailable", time.Second))
		s.Notify(events.ErrorRaised("st", "recognition", assert.AnError))
		s.Notify(events.Event{Kind: "unknown_kind"})
	})
}
