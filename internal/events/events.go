// Package events provides the asynchronous fan-out bus connecting the
// detection core to its notification subscribers. Publishing never blocks
// the caller: each subscriber owns a bounded queue, and when a queue is
// full the oldest event is dropped in favor of the new one.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds published by the detection core.
const (
	KindDetectionFinalized   = "detection_finalized"
	KindStationHealthChanged = "station_health_changed"
	KindErrorRaised          = "error_raised"
)

// Event is one notification delivered to subscribers.
type Event struct {
	Kind      string
	Timestamp time.Time
	Station   string
	Payload   map[string]any
}

// Subscriber consumes events from the bus. Notify runs on the
// subscriber's own dispatch goroutine, so a slow subscriber delays only
// itself.
type Subscriber interface {
	Name() string
	Notify(ev Event)
}

type subscription struct {
	sub   Subscriber
	queue chan Event
	drops atomic.Uint64
}

// Bus fans events out to subscribers through bounded per-subscriber
// queues.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscription
	queueSize int
	onDrop    func(subscriber string)
	closed    bool
	wg        sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithDropHandler installs a callback invoked once per dropped event,
// typically to bump a metrics counter.
func WithDropHandler(fn func(subscriber string)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// NewBus creates a bus whose subscribers each get a queue of queueSize
// events.
func NewBus(queueSize int, opts ...Option) *Bus {
	if queueSize < 1 {
		queueSize = 1
	}
	b := &Bus{queueSize: queueSize}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber and starts its dispatch goroutine.
// Subscribing after Close is a no-op.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	s := &subscription{sub: sub, queue: make(chan Event, b.queueSize)}
	b.subs = append(b.subs, s)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range s.queue {
			sub.Notify(ev)
		}
	}()
}

// Publish delivers ev to every subscriber queue. A full queue sheds its
// oldest event to make room.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, s := range b.subs {
		select {
		case s.queue <- ev:
			continue
		default:
		}

		// Queue full: drop the oldest event, then offer again. The second
		// offer can still lose a race with the dispatcher draining the
		// queue, in which case the new event is the one dropped.
		select {
		case <-s.queue:
		default:
		}
		s.drops.Add(1)
		if b.onDrop != nil {
			b.onDrop(s.sub.Name())
		}
		select {
		case s.queue <- ev:
		default:
		}
	}
}

// Drops reports how many events have been shed for the named subscriber.
func (b *Bus) Drops(subscriber string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.sub.Name() == subscriber {
			return s.drops.Load()
		}
	}
	return 0
}

// Close stops accepting events, lets subscribers drain their queues and
// waits for the dispatch goroutines to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// DetectionFinalized builds the event published after a play is committed.
func DetectionFinalized(station, title, artist string, confidence float64, method string, playDuration time.Duration) Event {
	return Event{
		Kind:    KindDetectionFinalized,
		Station: station,
		Payload: map[string]any{
			"title":         title,
			"artist":        artist,
			"confidence":    confidence,
			"method":        method,
			"play_duration": playDuration.Seconds(),
		},
	}
}

// StationHealthChanged builds the event published when a station's probe
// classification changes.
func StationHealthChanged(station, status string, latency time.Duration) Event {
	return Event{
		Kind:    KindStationHealthChanged,
		Station: station,
		Payload: map[string]any{
			"status":     status,
			"latency_ms": latency.Milliseconds(),
		},
	}
}

// ErrorRaised builds the event published for operational errors worth
// surfacing outside the logs.
func ErrorRaised(station, component string, err error) Event {
	return Event{
		Kind:    KindErrorRaised,
		Station: station,
		Payload: map[string]any{
			"component": component,
			"error":     err.Error(),
		},
	}
}
