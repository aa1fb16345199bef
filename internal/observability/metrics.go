// Package observability exposes Prometheus metrics for the detection
// pipeline and an optional HTTP endpoint serving them.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/logging"
)

// Metrics carries every collector the pipeline reports into.
type Metrics struct {
	registry *prometheus.Registry

	WindowsProcessed   *prometheus.CounterVec
	MusicWindows       *prometheus.CounterVec
	NonMusicWindows    *prometheus.CounterVec
	ProviderRequests   *prometheus.CounterVec
	ProviderRetries    *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	DetectionsFinal    *prometheus.CounterVec
	EventBusDrops      *prometheus.CounterVec
	ActiveStations     prometheus.Gauge
	HealthCheckLatency *prometheus.HistogramVec
}

// NewMetrics builds and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.WindowsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sodav_windows_processed_total",
		Help: "Audio windows pulled from streams and analyzed.",
	}, []string{"station"})

	m.MusicWindows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sodav_music_windows_total",
		Help: "Windows classified as music.",
	}, []string{"station"})

	m.NonMusicWindows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sodav_non_music_windows_total",
		Help: "Windows classified as speech, jingles or silence.",
	}, []string{"station"})

	m.ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sodav_provider_requests_total",
		Help: "Recognition requests issued to external providers.",
	}, []string{"provider"})

	m.ProviderRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sodav_provider_retries_total",
		Help: "Retried provider requests after transient failures.",
	}, []string{"provider"})

	m.ProviderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sodav_provider_errors_total",
		Help: "Provider requests that failed after all retries.",
	}, []string{"provider"})

	m.DetectionsFinal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sodav_detections_finalized_total",
		Help: "Plays committed to the database.",
	}, []string{"station", "method"})

	m.EventBusDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sodav_eventbus_dropped_total",
		Help: "Events shed from full subscriber queues.",
	}, []string{"subscriber"})

	m.ActiveStations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sodav_active_stations",
		Help: "Stations currently being monitored.",
	})

	m.HealthCheckLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sodav_healthcheck_latency_seconds",
		Help:    "Station probe round-trip latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"station", "result"})

	m.registry.MustRegister(
		m.WindowsProcessed, m.MusicWindows, m.NonMusicWindows,
		m.ProviderRequests, m.ProviderRetries, m.ProviderErrors,
		m.DetectionsFinal, m.EventBusDrops,
		m.ActiveStations, m.HealthCheckLatency,
	)
	return m
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server is the optional telemetry HTTP listener.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer builds the /metrics listener; nil when telemetry is disabled.
func NewServer(settings *conf.Settings, m *Metrics) *Server {
	if !settings.Telemetry.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &Server{
		srv: &http.Server{
			Addr:              settings.Telemetry.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logging.ForService("telemetry"),
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() {
	s.log.Info("telemetry endpoint listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("telemetry endpoint failed", "error", err)
	}
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
