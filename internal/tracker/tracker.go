// Package tracker holds the per-station play state. Each station has at
// most one current track; the tracker measures how long it stays on air
// and commits a Detection when the play ends.
package tracker

import (
	"log/slog"
	"time"

	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/events"
	"github.com/sodav/monitor/internal/fingerprint"
	"github.com/sodav/monitor/internal/logging"
)

// Reasons a play ends.
const (
	ReasonDifferentTrack  = "different_track"
	ReasonSilenceDetected = "silence_detected"
	ReasonStreamDrop      = "stream_drop"
	ReasonStationStop     = "station_stop"
)

// Current is the in-memory state of the track now playing. It never
// touches the database until the play ends.
type Current struct {
	Track       datastore.Track
	Artist      string
	Fingerprint *fingerprint.Fingerprint
	Confidence  float64
	Method      string
	T0          time.Time
	LastUpdate  time.Time
}

// Tracker is the play-state machine for one station. Not safe for
// concurrent use; each station worker owns its tracker.
type Tracker struct {
	station    datastore.Station
	store      datastore.Interface
	bus        *events.Bus
	similarity float64
	silence    time.Duration
	log        *slog.Logger

	current      *Current
	silenceStart *time.Time
}

// New creates the tracker for a station.
func New(station datastore.Station, store datastore.Interface, bus *events.Bus, settings *conf.Settings) *Tracker {
	return &Tracker{
		station:    station,
		store:      store,
		bus:        bus,
		similarity: settings.Detection.SameTrackSimilarity,
		silence:    settings.Detection.SilencePeriod(),
		log:        logging.ForService("tracker").With("station", station.Name),
	}
}

// Current returns the in-flight play, or nil when idle.
func (t *Tracker) Current() *Current {
	return t.current
}

// ExtendIfCurrent extends the running play when the window fingerprint
// still matches it, so the caller can skip recognition entirely. Returns
// false when idle or the content changed.
func (t *Tracker) ExtendIfCurrent(fp *fingerprint.Fingerprint, at time.Time) bool {
	if t.current == nil || fp == nil {
		return false
	}
	if fingerprint.Compare(fp, t.current.Fingerprint) < t.similarity {
		return false
	}
	t.extend(at)
	return true
}

// OnMatch reports a confirmed recognition. The same track extends the
// play; a different track finalizes the previous play and starts the new
// one at the same instant.
func (t *Tracker) OnMatch(track datastore.Track, artist string, fp *fingerprint.Fingerprint, at time.Time, confidence float64, method string) error {
	t.resetSilence()

	if t.current != nil {
		if t.current.Track.ID == track.ID {
			t.extend(at)
			if confidence > t.current.Confidence {
				t.current.Confidence = confidence
			}
			return nil
		}
		if err := t.finalize(ReasonDifferentTrack, at); err != nil {
			return err
		}
	}

	t.current = &Current{
		Track:       track,
		Artist:      artist,
		Fingerprint: fp,
		Confidence:  confidence,
		Method:      method,
		T0:          at,
		LastUpdate:  at,
	}
	t.log.Debug("play started", "track", track.Title, "method", method, "confidence", confidence)
	return nil
}

// OnNonMusic reports a window below the music threshold. A run of such
// windows spanning the silence period ends the play at the moment the
// run began.
func (t *Tracker) OnNonMusic(at time.Time) error {
	if t.current == nil {
		t.silenceStart = nil
		return nil
	}
	if t.silenceStart == nil {
		start := at
		t.silenceStart = &start
		return nil
	}
	if at.Sub(*t.silenceStart) >= t.silence {
		end := *t.silenceStart
		return t.finalize(ReasonSilenceDetected, end)
	}
	return nil
}

// OnUnknown reports a music window no recognizer could place. The window
// already failed the continuity check, so a running play is treated as
// ended by different content.
func (t *Tracker) OnUnknown(at time.Time) error {
	t.resetSilence()
	if t.current == nil {
		return nil
	}
	return t.finalize(ReasonDifferentTrack, at)
}

// OnStreamDrop finalizes the play when the stream dies mid-song.
func (t *Tracker) OnStreamDrop(at time.Time) error {
	if t.current == nil {
		return nil
	}
	return t.finalize(ReasonStreamDrop, at)
}

// Stop finalizes the play on orderly shutdown or station removal.
func (t *Tracker) Stop(at time.Time) error {
	if t.current == nil {
		return nil
	}
	return t.finalize(ReasonStationStop, at)
}

func (t *Tracker) extend(at time.Time) {
	if at.After(t.current.LastUpdate) {
		t.current.LastUpdate = at
	}
	t.resetSilence()
}

func (t *Tracker) resetSilence() {
	t.silenceStart = nil
}

// finalize commits the Detection (insert plus all statistics in one
// transaction) and publishes detection_finalized.
func (t *Tracker) finalize(reason string, end time.Time) error {
	cur := t.current
	t.current = nil
	t.resetSilence()

	if end.Before(cur.T0) {
		end = cur.T0
	}

	detection := &datastore.Detection{
		StationID:    t.station.ID,
		TrackID:      cur.Track.ID,
		DetectedAt:   cur.T0,
		EndTime:      end,
		PlayDuration: end.Sub(cur.T0),
		Confidence:   cur.Confidence,
		Method:       cur.Method,
	}
	if cur.Fingerprint != nil {
		detection.FingerprintHash = cur.Fingerprint.HexHash()
	}

	if err := t.store.CommitDetection(detection); err != nil {
		return errors.New(err).
			Component("tracker").
			Category(errors.CategoryTracker).
			Context("station", t.station.Name).
			Context("track", cur.Track.ID).
			Context("reason", reason).
			Build()
	}

	t.log.Info("play finalized",
		"track", cur.Track.Title,
		"reason", reason,
		"play_duration", detection.PlayDuration,
		"method", cur.Method)

	if t.bus != nil {
		t.bus.Publish(events.DetectionFinalized(
			t.station.Name, cur.Track.Title, cur.Artist,
			cur.Confidence, cur.Method, detection.PlayDuration))
	}
	return nil
}
