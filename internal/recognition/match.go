// Package recognition identifies track content from analyzed audio. The
// local matcher searches the stored fingerprint index; the provider chain
// queries AcoustID/MusicBrainz and AudD when the local search is not
// confident enough.
package recognition

import (
	"time"

	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/fingerprint"
)

// ErrProviderPermanent marks provider failures that will not heal on
// retry: bad credentials or responses the client cannot parse. The chain
// disables the provider for the rest of the process lifetime.
var ErrProviderPermanent = errors.NewStd("permanent provider failure")

// Sample is the unit of audio handed to recognizers: one analysis window
// plus its precomputed fingerprint.
type Sample struct {
	PCM         []float64
	SampleRate  int
	Duration    time.Duration
	Fingerprint *fingerprint.Fingerprint
}

// Match is a normalized recognition result. Local matches carry a
// TrackID; provider matches carry metadata for the identity resolver to
// turn into a track.
type Match struct {
	TrackID uint

	Title       string
	Artist      string
	Album       string
	ISRC        string
	Label       string
	ReleaseDate string

	Fingerprint *fingerprint.Fingerprint
	Confidence  float64
	Source      string
	Method      string
}
