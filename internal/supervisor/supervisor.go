// Package supervisor owns the station worker set: one recognition loop
// per active station, periodic stream probes, and automatic benching and
// recovery of stations whose streams stay down.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/events"
	"github.com/sodav/monitor/internal/logging"
	"github.com/sodav/monitor/internal/myaudio"
	"github.com/sodav/monitor/internal/observability"
	"github.com/sodav/monitor/internal/processor"
)

// RunWorkerFunc runs the recognition loop for one station until the
// context ends or the loop fails.
type RunWorkerFunc func(ctx context.Context, station datastore.Station) error

// ProbeFunc classifies one station stream and reports round-trip latency.
type ProbeFunc func(ctx context.Context, url string) (status string, latency time.Duration)

const defaultRestartDelay = 5 * time.Second

type worker struct {
	station  datastore.Station
	cancel   context.CancelFunc
	failures int
}

// Supervisor keeps one worker per active station and probes every stream
// on a fixed rhythm. A station failing MaxFailures consecutive probes is
// benched: its worker stops, the station row goes inactive, and a slower
// recovery rhythm keeps probing until the stream answers again.
type Supervisor struct {
	settings *conf.Settings
	store    datastore.Interface
	bus      *events.Bus
	metrics  *observability.Metrics
	log      *slog.Logger

	// runWorker, probe and restartDelay are swappable for tests.
	runWorker    RunWorkerFunc
	probe        ProbeFunc
	restartDelay time.Duration

	group *errgroup.Group
	ctx   context.Context

	mu         sync.Mutex
	workers    map[uint]*worker
	benched    map[uint]datastore.Station
	lastStatus map[uint]string
}

// New builds a supervisor over the configured store and bus. metrics may
// be nil.
func New(store datastore.Interface, bus *events.Bus, metrics *observability.Metrics, settings *conf.Settings) *Supervisor {
	s := &Supervisor{
		settings:     settings,
		store:        store,
		bus:          bus,
		metrics:      metrics,
		log:          logging.ForService("supervisor"),
		probe:        newProber().probe,
		restartDelay: defaultRestartDelay,
		workers:      map[uint]*worker{},
		benched:      map[uint]datastore.Station{},
		lastStatus:   map[uint]string{},
	}
	s.runWorker = func(ctx context.Context, station datastore.Station) error {
		return processor.New(station, store, bus, metrics, settings).Run(ctx)
	}
	return s
}

// Run starts a worker per active station and blocks until ctx ends. On
// cancellation the workers get the configured grace period to finalize
// their current plays; overrunning it aborts the wait with an error.
func (s *Supervisor) Run(ctx context.Context) error {
	stations, err := s.store.GetActiveStations()
	if err != nil {
		return errors.New(err).
			Component("supervisor").
			Category(errors.CategoryDatabase).
			Build()
	}

	group, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.group = group
	s.ctx = gctx
	for _, station := range stations {
		s.startWorkerLocked(station)
	}
	s.mu.Unlock()

	s.log.Info("supervisor started", "stations", len(stations))

	group.Go(func() error {
		s.healthLoop(gctx)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		return err
	case <-time.After(s.settings.Stations.ShutdownGracePeriod()):
		return errors.Newf("workers still running after %s grace", s.settings.Stations.ShutdownGracePeriod()).
			Component("supervisor").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// AddStation starts monitoring a station that was added at runtime.
func (s *Supervisor) AddStation(station datastore.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		return errors.Newf("supervisor is not running").
			Component("supervisor").
			Category(errors.CategoryValidation).
			Build()
	}
	if _, ok := s.workers[station.ID]; ok {
		return nil
	}
	delete(s.benched, station.ID)
	s.startWorkerLocked(station)
	s.log.Info("station added", "station", station.Name)
	return nil
}

// RemoveStation stops monitoring a station. Removing an unknown id is a
// no-op.
func (s *Supervisor) RemoveStation(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[id]; ok {
		w.cancel()
		delete(s.workers, id)
		if s.metrics != nil {
			s.metrics.ActiveStations.Dec()
		}
		s.log.Info("station removed", "station", w.station.Name)
	}
	delete(s.benched, id)
	delete(s.lastStatus, id)
}

// startWorkerLocked spawns the worker goroutine. Callers hold s.mu.
func (s *Supervisor) startWorkerLocked(station datastore.Station) {
	wctx, cancel := context.WithCancel(s.ctx)
	s.workers[station.ID] = &worker{station: station, cancel: cancel}
	if s.metrics != nil {
		s.metrics.ActiveStations.Inc()
	}

	s.group.Go(func() error {
		defer cancel()
		s.workerLoop(wctx, station)
		return nil
	})
}

// workerLoop keeps the recognition loop alive for one station. Dropped
// streams and transient failures restart after a short delay; only
// cancellation ends the loop.
func (s *Supervisor) workerLoop(ctx context.Context, station datastore.Station) {
	log := s.log.With("station", station.Name)
	for {
		err := s.runWorker(ctx, station)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err == nil:
			return
		case errors.Is(err, myaudio.ErrStreamDropped):
			log.Warn("stream dropped, reconnecting", "delay", s.restartDelay)
		default:
			log.Error("worker failed, restarting", "error", err, "delay", s.restartDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.restartDelay):
		}
	}
}

// healthLoop probes active stations on the healthcheck rhythm and benched
// stations on the slower recovery rhythm.
func (s *Supervisor) healthLoop(ctx context.Context) {
	check := time.NewTicker(s.settings.Stations.HealthcheckPeriod())
	defer check.Stop()
	slow := time.NewTicker(s.settings.Stations.RecoveryPeriod())
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			s.checkActive(ctx)
		case <-slow.C:
			s.checkBenched(ctx)
		}
	}
}

// checkActive probes every running station and benches those past the
// failure limit.
func (s *Supervisor) checkActive(ctx context.Context) {
	s.mu.Lock()
	stations := make([]datastore.Station, 0, len(s.workers))
	for _, w := range s.workers {
		stations = append(stations, w.station)
	}
	s.mu.Unlock()

	for _, station := range stations {
		status, latency := s.probe(ctx, station.StreamURL)
		s.observeProbe(station, status, latency)

		s.mu.Lock()
		w, ok := s.workers[station.ID]
		if !ok {
			s.mu.Unlock()
			continue
		}
		if status == StatusUnavailable {
			w.failures++
		} else {
			w.failures = 0
		}
		failures := w.failures
		s.mu.Unlock()

		if failures >= s.settings.Stations.MaxFailures {
			s.bench(station, failures)
		}
	}
}

// checkBenched probes inactive stations and revives the ones answering
// again.
func (s *Supervisor) checkBenched(ctx context.Context) {
	s.mu.Lock()
	stations := make([]datastore.Station, 0, len(s.benched))
	for _, station := range s.benched {
		stations = append(stations, station)
	}
	s.mu.Unlock()

	for _, station := range stations {
		status, latency := s.probe(ctx, station.StreamURL)
		s.observeProbe(station, status, latency)
		if status != StatusUnavailable {
			s.revive(station)
		}
	}
}

// bench stops a station's worker and marks it inactive in the store.
func (s *Supervisor) bench(station datastore.Station, failures int) {
	s.mu.Lock()
	w, ok := s.workers[station.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	w.cancel()
	delete(s.workers, station.ID)
	s.benched[station.ID] = station
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveStations.Dec()
	}
	if err := s.store.UpdateStationStatus(station.ID, datastore.StationInactive, failures); err != nil {
		s.log.Error("marking station inactive", "station", station.Name, "error", err)
	}
	s.log.Warn("station benched", "station", station.Name, "failures", failures)
}

// revive restarts a benched station's worker and resets its failure count.
func (s *Supervisor) revive(station datastore.Station) {
	s.mu.Lock()
	if _, ok := s.benched[station.ID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.benched, station.ID)
	s.startWorkerLocked(station)
	s.mu.Unlock()

	if err := s.store.UpdateStationStatus(station.ID, datastore.StationActive, 0); err != nil {
		s.log.Error("marking station active", "station", station.Name, "error", err)
	}
	s.log.Info("station recovered", "station", station.Name)
}

// observeProbe records the probe outcome and publishes a health event
// when the classification changed.
func (s *Supervisor) observeProbe(station datastore.Station, status string, latency time.Duration) {
	if s.metrics != nil {
		s.metrics.HealthCheckLatency.WithLabelValues(station.Name, status).Observe(latency.Seconds())
	}

	s.mu.Lock()
	previous := s.lastStatus[station.ID]
	s.lastStatus[station.ID] = status
	s.mu.Unlock()

	if status == previous {
		return
	}
	s.log.Info("station health changed", "station", station.Name, "from", previous, "to", status,
		"latency_ms", latency.Milliseconds())
	if s.bus != nil {
		s.bus.Publish(events.StationHealthChanged(station.Name, status, latency))
	}
}
