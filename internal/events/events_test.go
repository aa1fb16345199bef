package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collector records delivered events; release gates Notify so tests can
// hold the dispatch goroutine while filling the queue.
type collector struct {
	name    string
	mu      sync.Mutex
	got     []Event
	release chan struct{}
}

func newCollector(name string) *collector {
	return &collector{name: name}
}

func (c *collector) Name() string { return c.name }

func (c *collector) Notify(ev Event) {
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	c.got = append(c.got, ev)
	c.mu.Unlock()
}

func (c *collector) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.got))
	copy(out, c.got)
	return out
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	a := newCollector("a")
	b := newCollector("b")

	bus := NewBus(8)
	bus.Subscribe(a)
	bus.Subscribe(b)

	bus.Publish(Event{Kind: KindDetectionFinalized, Station: "radio one"})
	bus.Publish(Event{Kind: KindErrorRaised, Station: "radio one"})
	bus.Close()

	for _, c := range []*collector{a, b} {
		got := c.events()
		require.Len(t, got, 2)
		assert.Equal(t, KindDetectionFinalized, got[0].Kind)
		assert.Equal(t, KindErrorRaised, got[1].Kind)
		assert.False(t, got[0].Timestamp.IsZero())
	}
}

func TestBusDropsOldestWhenQueueFull(t *testing.T) {
	var droppedFor []string
	c := newCollector("slow")
	c.release = make(chan struct{})

	bus := NewBus(2, WithDropHandler(func(name string) {
		droppedFor = append(droppedFor, name)
	}))
	bus.Subscribe(c)

	// One event may be in Notify waiting on release, two fit in the queue;
	// the fourth and fifth force drops of the oldest queued events.
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: KindDetectionFinalized, Payload: map[string]any{"seq": i}})
		if i == 0 {
			// Give the dispatcher a chance to pull the first event so the
			// drop accounting below is deterministic.
			time.Sleep(20 * time.Millisecond)
		}
	}

	close(c.release)
	bus.Close()

	got := c.events()
	assert.Less(t, len(got), 5)
	assert.GreaterOrEqual(t, bus.Drops("slow"), uint64(1))
	assert.NotEmpty(t, droppedFor)
	assert.Equal(t, "slow", droppedFor[0])

	// The newest event survives the shedding.
	last := got[len(got)-1]
	assert.Equal(t, 4, last.Payload["seq"])
}

func TestBusPublishAfterCloseIsNoop(t *testing.T) {
	c := newCollector("c")
	bus := NewBus(4)
	bus.Subscribe(c)
	bus.Close()

	assert.NotPanics(t, func() {
		bus.Publish(Event{Kind: KindErrorRaised})
	})
	assert.Empty(t, c.events())
}

func TestBusSubscribeAfterCloseIsNoop(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	bus.Subscribe(newCollector("late"))
	bus.Publish(Event{Kind: KindErrorRaised})
}

func TestBusCloseIsIdempotent(t *testing.T) {
	bus := NewBus(4)
	bus.Subscribe(newCollector("x"))
	bus.Close()
	assert.NotPanics(t, bus.Close)
}

func TestEventConstructors(t *testing.T) {
	det := DetectionFinalized("rts", "Yessirski", "Wally B. Seck", 0.92, "acoustid", 95*time.Second)
	assert.Equal(t, KindDetectionFinalized, det.Kind)
	assert.Equal(t, "rts", det.Station)
	assert.InDelta(t, 95.0, det.Payload["play_duration"], 1e-9)

	health := StationHealthChanged("rfm", "unavailable", 1500*time.Millisecond)
	assert.Equal(t, KindStationHealthChanged, health.Kind)
	assert.EqualValues(t, 1500, health.Payload["latency_ms"])

	raised := ErrorRaised("zik", "recognition", errors.New("boom"))
	assert.Equal(t, "recognition", raised.Payload["component"])
	assert.Equal(t, "boom", raised.Payload["error"])
}
