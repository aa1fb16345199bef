// Package processor runs the per-station recognition loop: pull a window,
// analyze it, identify the content and feed the play-state tracker.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/sodav/monitor/internal/analysis"
	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/events"
	"github.com/sodav/monitor/internal/fingerprint"
	"github.com/sodav/monitor/internal/identity"
	"github.com/sodav/monitor/internal/logging"
	"github.com/sodav/monitor/internal/myaudio"
	"github.com/sodav/monitor/internal/observability"
	"github.com/sodav/monitor/internal/recognition"
	"github.com/sodav/monitor/internal/tracker"
)

// WindowSource delivers analysis windows from a station stream.
type WindowSource interface {
	ReadWindow(ctx context.Context) (*myaudio.Window, error)
	Close()
}

// Processor is the recognition loop for one station.
type Processor struct {
	station  datastore.Station
	settings *conf.Settings
	store    datastore.Interface
	local    *recognition.LocalMatcher
	chain    *recognition.Chain
	resolver *identity.Resolver
	tracker  *tracker.Tracker
	metrics  *observability.Metrics
	log      *slog.Logger

	// openSource and analyze are swappable for tests.
	openSource func(ctx context.Context) (WindowSource, error)
	analyze    func(pcm []float64, sampleRate int) (*analysis.Features, error)
}

// New wires a processor for the station: local matcher over the store,
// the external provider chain, identity resolution and the tracker.
func New(station datastore.Station, store datastore.Interface, bus *events.Bus,
	metrics *observability.Metrics, settings *conf.Settings) *Processor {

	p := &Processor{
		station:  station,
		settings: settings,
		store:    store,
		local:    recognition.NewLocalMatcher(store),
		chain: recognition.NewChain(bus, metrics,
			recognition.NewAcoustID(settings, metrics),
			recognition.NewAudD(settings, metrics)),
		resolver: identity.New(store),
		tracker:  tracker.New(station, store, bus, settings),
		metrics:  metrics,
		log:      logging.ForService("processor").With("station", station.Name),
	}
	p.openSource = func(ctx context.Context) (WindowSource, error) {
		return myaudio.Open(ctx, myaudio.StreamConfig{
			StationName: station.Name,
			URL:         station.StreamURL,
			SampleRate:  settings.Audio.SampleRate,
			Window:      settings.Audio.WindowDuration(),
			FfmpegPath:  settings.Audio.FfmpegPath,
		})
	}
	p.analyze = analysis.Analyze
	return p
}

// Run pulls windows until the context ends or the stream drops. The
// current play is finalized on the way out either way. A dropped stream
// returns myaudio.ErrStreamDropped so the supervisor can restart.
func (p *Processor) Run(ctx context.Context) error {
	src, err := p.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	p.log.Info("monitoring started", "url", p.station.StreamURL)

	for {
		if ctx.Err() != nil {
			return p.shutdown(ctx)
		}

		window, err := src.ReadWindow(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return p.shutdown(ctx)
		case errors.Is(err, myaudio.ErrStreamDropped):
			p.log.Warn("stream dropped")
			if err := p.tracker.OnStreamDrop(time.Now()); err != nil {
				p.log.Error("finalizing on stream drop", "error", err)
			}
			return myaudio.ErrStreamDropped
		default:
			return err
		}

		p.processWindow(ctx, window)
	}
}

func (p *Processor) shutdown(ctx context.Context) error {
	if err := p.tracker.Stop(time.Now()); err != nil {
		p.log.Error("finalizing on shutdown", "error", err)
	}
	return ctx.Err()
}

// processWindow runs one window through analysis, matching and the
// tracker. Recognition errors degrade to an unknown window; they never
// kill the loop.
func (p *Processor) processWindow(ctx context.Context, window *myaudio.Window) {
	at := window.Captured
	if p.metrics != nil {
		p.metrics.WindowsProcessed.WithLabelValues(p.station.Name).Inc()
	}

	feats, err := p.analyze(window.PCM, p.settings.Audio.SampleRate)
	if err != nil {
		// Dead air and undecodable stretches count as non-music.
		p.countNonMusic()
		if !errors.Is(err, analysis.ErrInvalidAudio) && !errors.Is(err, analysis.ErrTooShort) {
			p.log.Warn("analysis failed", "error", err)
		}
		p.trackerEvent(p.tracker.OnNonMusic(at))
		return
	}

	if !feats.IsMusic() {
		p.countNonMusic()
		p.trackerEvent(p.tracker.OnNonMusic(at))
		return
	}
	if p.metrics != nil {
		p.metrics.MusicWindows.WithLabelValues(p.station.Name).Inc()
	}

	fp := fingerprint.Generate(feats)

	// Same song still playing: extend without touching the matchers.
	if p.tracker.ExtendIfCurrent(fp, at) {
		return
	}

	match := p.findMatch(ctx, window, fp)
	if match == nil {
		p.trackerEvent(p.tracker.OnUnknown(at))
		return
	}

	track, err := p.resolver.Resolve(match)
	if err != nil {
		p.log.Error("resolving match", "title", match.Title, "error", err)
		p.trackerEvent(p.tracker.OnUnknown(at))
		return
	}

	artist := p.artistName(track.ArtistID)
	p.trackerEvent(p.tracker.OnMatch(track, artist, fp, at, match.Confidence, match.Method))
}

// findMatch runs the local search and hands off to the provider chain
// when the local result is missing or under the confidence cutoff. The
// external verdict then stands, even when it is a miss.
func (p *Processor) findMatch(ctx context.Context, window *myaudio.Window, fp *fingerprint.Fingerprint) *recognition.Match {
	match, err := p.local.Find(fp)
	if err != nil {
		p.log.Error("local match failed", "error", err)
		match = nil
	}
	if match != nil && match.Confidence >= p.settings.Detection.MinConfidence {
		return match
	}

	if ctx.Err() != nil {
		return nil
	}
	external, err := p.chain.Find(ctx, &recognition.Sample{
		PCM:         window.PCM,
		SampleRate:  p.settings.Audio.SampleRate,
		Duration:    p.settings.Audio.WindowDuration(),
		Fingerprint: fp,
	})
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("external recognition failed", "error", err)
		}
		return nil
	}
	return external
}

func (p *Processor) artistName(artistID uint) string {
	artist, err := p.store.GetArtist(artistID)
	if err != nil {
		return ""
	}
	return artist.Name
}

func (p *Processor) countNonMusic() {
	if p.metrics != nil {
		p.metrics.NonMusicWindows.WithLabelValues(p.station.Name).Inc()
	}
}

func (p *Processor) trackerEvent(err error) {
	if err != nil {
		p.log.Error("tracker update failed", "error", err)
	}
}
