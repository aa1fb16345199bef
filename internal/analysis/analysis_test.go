package analysis

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sodav/monitor/internal/errors"
)

// testRate divides evenly by the hop size so synthetic pulse trains land
// on exact frame boundaries.
const testRate = 20480

func sine(freq, amp float64, seconds float64) []float64 {
	n := int(seconds * testRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return out
}

func noise(amp float64, seconds float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * testRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * (2*rng.Float64() - 1)
	}
	return out
}

func mix(a, b []float64) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = a[i] + b[i]
	}
	return out
}

func TestAnalyzeRejectsEmptyBuffer(t *testing.T) {
	t.Parallel()

	_, err := Analyze(nil, testRate)
	require.ErrorIs(t, err, ErrInvalidAudio)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudio))
}

func TestAnalyzeRejectsNaN(t *testing.T) {
	t.Parallel()

	pcm := sine(440, 0.5, 1)
	pcm[100] = math.NaN()
	_, err := Analyze(pcm, testRate)
	require.ErrorIs(t, err, ErrInvalidAudio)
}

func TestAnalyzeRejectsDCOnly(t *testing.T) {
	t.Parallel()

	pcm := make([]float64, testRate)
	for i := range pcm {
		pcm[i] = 0.3
	}
	_, err := Analyze(pcm, testRate)
	require.ErrorIs(t, err, ErrInvalidAudio)
}

func TestAnalyzeRejectsShortBuffer(t *testing.T) {
	t.Parallel()

	_, err := Analyze(sine(440, 0.5, 1)[:minSamples-1], testRate)
	require.ErrorIs(t, err, ErrTooShort)
}

func TestAnalyzeRejectsBadSampleRate(t *testing.T) {
	t.Parallel()

	_, err := Analyze(sine(440, 0.5, 1), 0)
	require.ErrorIs(t, err, ErrInvalidAudio)
}

func TestAnalyzeFeatureShapes(t *testing.T) {
	t.Parallel()

	feat, err := Analyze(mix(sine(440, 0.5, 2), noise(0.05, 2, 1)), testRate)
	require.NoError(t, err)

	assert.Len(t, feat.MFCC, numMFCC)
	assert.Len(t, feat.Chroma, numChroma)
	assert.NotEmpty(t, feat.ChromaFrames)
	assert.Len(t, feat.ChromaFrames[0], numChroma)

	assert.InDelta(t, 1.0, feat.BassFraction+feat.MidFraction+feat.HighFraction, 0.05)
	assert.Greater(t, feat.SpectralCentroid, 0.0)
	assert.Greater(t, feat.SpectralRolloff, 0.0)
	assert.GreaterOrEqual(t, feat.Scores.MusicLikelihood, 0.0)
	assert.LessOrEqual(t, feat.Scores.MusicLikelihood, 100.0)
}

func TestAnalyzeRMSOfSine(t *testing.T) {
	t.Parallel()

	feat, err := Analyze(sine(440, 0.5, 2), testRate)
	require.NoError(t, err)
	// RMS of a 0.5 amplitude sine is 0.5/sqrt(2).
	assert.InDelta(t, 0.3536, feat.RMS, 0.01)
}

func TestAnalyzeChromaTracksPitchClass(t *testing.T) {
	t.Parallel()

	// 440 Hz is pitch class A, chroma index 0.
	feat, err := Analyze(mix(sine(440, 0.5, 2), noise(0.01, 2, 2)), testRate)
	require.NoError(t, err)

	best := 0
	for i, v := range feat.Chroma {
		if v > feat.Chroma[best] {
			best = i
		}
	}
	assert.Equal(t, 0, best)
}

func TestAnalyzeZeroCrossingSeparatesToneFromNoise(t *testing.T) {
	t.Parallel()

	tone, err := Analyze(sine(440, 0.5, 1), testRate)
	require.NoError(t, err)
	hiss, err := Analyze(noise(0.5, 1, 3), testRate)
	require.NoError(t, err)

	assert.Less(t, tone.ZeroCrossingRate, 0.1)
	assert.Greater(t, hiss.ZeroCrossingRate, 0.3)
	assert.Greater(t, hiss.ZeroCrossingRate, tone.ZeroCrossingRate*3)
}

func TestAnalyzeTempoOnPulseTrain(t *testing.T) {
	t.Parallel()

	// 880 Hz bursts every 0.5 s (120 BPM) over a low noise floor.
	pcm := noise(0.01, 8, 4)
	interval := testRate / 2
	burst := testRate / 20 // 50 ms
	for start := 0; start+burst < len(pcm); start += interval {
		for i := 0; i < burst; i++ {
			pcm[start+i] += 0.7 * math.Sin(2*math.Pi*880*float64(i)/testRate)
		}
	}

	feat, err := Analyze(pcm, testRate)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, feat.Tempo, 15.0)
	assert.Greater(t, feat.Scores.Rhythm, 10.0)
}

func TestLikelihoodWeightedSum(t *testing.T) {
	t.Parallel()

	s := Scores{Bass: 80, Mid: 70, High: 50, Rhythm: 50, Flux: 60, CentroidVar: 50, Balance: 70}
	// base = .25*80 + .15*70 + .10*50 + .30*50 + .10*60 + .10*50 = 61.5
	// blended = .7*61.5 + .3*70 = 64.05; rhythm <= 70 so no boost.
	assert.InDelta(t, 64.05, s.likelihood(), 1e-9)
}

func TestLikelihoodBoostApplies(t *testing.T) {
	t.Parallel()

	s := Scores{Bass: 80, Mid: 70, High: 50, Rhythm: 80, Flux: 60, CentroidVar: 50, Balance: 70}
	// base = 70.5, blended = 70.35, rhythm > 70 and balance > 60: *1.2.
	assert.InDelta(t, 84.42, s.likelihood(), 1e-9)

	// Boost requires both gates.
	s.Balance = 60
	assert.InDelta(t, 0.7*70.5+0.3*60, s.likelihood(), 1e-9)
}

func TestLikelihoodClampsTo100(t *testing.T) {
	t.Parallel()

	s := Scores{Bass: 100, Mid: 100, High: 100, Rhythm: 100, Flux: 100, CentroidVar: 100, Balance: 100}
	assert.InDelta(t, 100.0, s.likelihood(), 1e-9)
}

func TestIsMusicGates(t *testing.T) {
	t.Parallel()

	base := Scores{Bass: 50, Mid: 50, Rhythm: 50, MusicLikelihood: 70}
	pass := &Features{Scores: base}
	assert.True(t, pass.IsMusic())

	cases := []struct {
		name   string
		mutate func(*Scores)
	}{
		{"low_score", func(s *Scores) { s.MusicLikelihood = 60 }},
		{"low_bass", func(s *Scores) { s.Bass = 20 }},
		{"low_mid", func(s *Scores) { s.Mid = 15 }},
		{"low_rhythm", func(s *Scores) { s.Rhythm = 30 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := base
			tc.mutate(&s)
			f := &Features{Scores: s}
			assert.False(t, f.IsMusic())
		})
	}
}

func TestMelFilterbankCoversSpectrum(t *testing.T) {
	t.Parallel()

	mb := buildMelFilterbank(testRate, frameSize/2+1)
	require.Len(t, mb.filters, numMelFilters)

	// Every interior bin should be covered by at least one filter.
	covered := make([]float64, frameSize/2+1)
	for _, filter := range mb.filters {
		for k, w := range filter {
			covered[k] += w
		}
	}
	gaps := 0
	for k := 2; k < len(covered)-2; k++ {
		if covered[k] == 0 {
			gaps++
		}
	}
	assert.Zero(t, gaps)
}
