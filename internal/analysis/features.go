// Package analysis extracts spectral and rhythm features from mono PCM
// windows and scores how music-like the content is. Feature extraction is
// frame-based: Hann-windowed 2048-point FFT frames with a hop of 512.
package analysis

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/sodav/monitor/internal/errors"
)

const (
	frameSize  = 2048
	hopSize    = 512
	minSamples = 1024

	numMFCC       = 13
	numMelFilters = 26
	numChroma     = 12

	// Band edges in Hz for the low/mid/high energy split.
	bassCutoff = 250.0
	midCutoff  = 4000.0

	rolloffFraction = 0.85
)

var (
	// ErrInvalidAudio marks buffers that carry no analyzable signal:
	// empty, constant (DC) or containing NaN/Inf samples.
	ErrInvalidAudio = errors.NewStd("invalid audio buffer")

	// ErrTooShort marks buffers under one FFT half-frame of samples.
	ErrTooShort = errors.NewStd("audio buffer too short")
)

// Features holds the per-window aggregate feature vector. MFCC and Chroma
// are means across frames; ChromaFrames keeps the per-frame chroma vectors
// for the fingerprinter.
type Features struct {
	MFCC         []float64
	Chroma       []float64
	ChromaFrames [][]float64

	SpectralCentroid  float64
	SpectralBandwidth float64
	SpectralRolloff   float64
	ZeroCrossingRate  float64
	RMS               float64
	Tempo             float64

	BassFraction float64
	MidFraction  float64
	HighFraction float64

	Scores Scores
}

// IsMusic reports whether the window is classified as music rather than
// speech, jingles or noise.
func (f *Features) IsMusic() bool {
	s := &f.Scores
	return s.MusicLikelihood > 60 && s.Bass > 20 && s.Mid > 15 && s.Rhythm > 30
}

// Analyze computes the feature vector for one mono PCM window in [-1, 1].
func Analyze(pcm []float64, sampleRate int) (*Features, error) {
	if err := validate(pcm, sampleRate); err != nil {
		return nil, err
	}

	frames := frameStarts(len(pcm))
	nyquistBins := frameSize/2 + 1
	binWidth := float64(sampleRate) / frameSize

	mel := newMelFilterbank(sampleRate)
	chromaMap := chromaBinMap(sampleRate)

	var (
		mfccSum     = make([]float64, numMFCC)
		chromaSum   = make([]float64, numChroma)
		chromaAll   = make([][]float64, 0, len(frames))
		centroids   = make([]float64, 0, len(frames))
		onsets      = make([]float64, 0, len(frames))
		bandwidths  float64
		rolloffs    float64
		bassEnergy  float64
		midEnergy   float64
		highEnergy  float64
		totalEnergy float64
		prevNorm    []float64
	)

	windowed := make([]float64, frameSize)
	for _, start := range frames {
		applyHann(pcm, start, windowed)

		spectrum := fft.FFTReal(windowed)
		mags := make([]float64, nyquistBins)
		power := make([]float64, nyquistBins)
		var magSum, powerSum float64
		for k := 0; k < nyquistBins; k++ {
			m := cmplx.Abs(spectrum[k])
			mags[k] = m
			power[k] = m * m
			magSum += m
			powerSum += power[k]
		}
		if magSum == 0 {
			continue
		}

		// Centroid, bandwidth, rolloff.
		var centroid float64
		for k := 1; k < nyquistBins; k++ {
			centroid += float64(k) * binWidth * mags[k]
		}
		centroid /= magSum
		centroids = append(centroids, centroid)

		var spread float64
		for k := 1; k < nyquistBins; k++ {
			d := float64(k)*binWidth - centroid
			spread += d * d * mags[k]
		}
		bandwidths += math.Sqrt(spread / magSum)

		target := rolloffFraction * powerSum
		var cum float64
		for k := 0; k < nyquistBins; k++ {
			cum += power[k]
			if cum >= target {
				rolloffs += float64(k) * binWidth
				break
			}
		}

		// Band energies.
		for k := 1; k < nyquistBins; k++ {
			freq := float64(k) * binWidth
			switch {
			case freq < bassCutoff:
				bassEnergy += power[k]
			case freq <= midCutoff:
				midEnergy += power[k]
			default:
				highEnergy += power[k]
			}
		}
		totalEnergy += powerSum

		// Spectral flux over L1-normalized magnitudes, half-wave rectified.
		// The per-frame flux doubles as the onset envelope for the tempo
		// estimate.
		norm := make([]float64, nyquistBins)
		for k := range norm {
			norm[k] = mags[k] / magSum
		}
		if prevNorm != nil {
			var flux float64
			for k := range norm {
				if d := norm[k] - prevNorm[k]; d > 0 {
					flux += d
				}
			}
			onsets = append(onsets, flux)
		}
		prevNorm = norm

		// Chroma.
		chroma := make([]float64, numChroma)
		for k, pc := range chromaMap {
			if pc >= 0 {
				chroma[pc] += power[k]
			}
		}
		if s := sum(chroma); s > 0 {
			for i := range chroma {
				chroma[i] /= s
			}
		}
		chromaAll = append(chromaAll, chroma)
		for i := range chroma {
			chromaSum[i] += chroma[i]
		}

		// MFCC.
		coeffs := mel.mfcc(power)
		for i := range coeffs {
			mfccSum[i] += coeffs[i]
		}
	}

	n := float64(len(chromaAll))
	if n == 0 || totalEnergy == 0 {
		return nil, errors.New(ErrInvalidAudio).
			Component("analysis").
			Category(errors.CategoryAudio).
			Context("reason", "no_spectral_energy").
			Build()
	}

	feat := &Features{
		MFCC:              scaled(mfccSum, 1/n),
		Chroma:            scaled(chromaSum, 1/n),
		ChromaFrames:      chromaAll,
		SpectralCentroid:  mean(centroids),
		SpectralBandwidth: bandwidths / n,
		SpectralRolloff:   rolloffs / n,
		ZeroCrossingRate:  zeroCrossingRate(pcm),
		RMS:               rms(pcm),
		BassFraction:      bassEnergy / totalEnergy,
		MidFraction:       midEnergy / totalEnergy,
		HighFraction:      highEnergy / totalEnergy,
	}

	frameRate := float64(sampleRate) / hopSize
	tempo, strength := estimateTempo(onsets, frameRate)
	feat.Tempo = tempo

	feat.Scores = computeScores(feat, mean(onsets), coefficientOfVariation(centroids), strength)
	return feat, nil
}

func validate(pcm []float64, sampleRate int) error {
	fail := func(err error, reason string) error {
		return errors.New(err).
			Component("analysis").
			Category(errors.CategoryAudio).
			Context("reason", reason).
			Build()
	}

	if sampleRate <= 0 {
		return fail(ErrInvalidAudio, "non_positive_sample_rate")
	}
	if len(pcm) == 0 {
		return fail(ErrInvalidAudio, "empty")
	}

	minVal, maxVal := pcm[0], pcm[0]
	for _, v := range pcm {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail(ErrInvalidAudio, "nan_or_inf")
		}
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal-minVal < 1e-9 {
		return fail(ErrInvalidAudio, "dc_only")
	}
	if len(pcm) < minSamples {
		return fail(ErrTooShort, "short_buffer")
	}
	return nil
}

// frameStarts returns the start offsets of the analysis frames. Buffers
// shorter than one frame get a single zero-padded frame.
func frameStarts(n int) []int {
	if n < frameSize {
		return []int{0}
	}
	starts := make([]int, 0, 1+(n-frameSize)/hopSize)
	for s := 0; s+frameSize <= n; s += hopSize {
		starts = append(starts, s)
	}
	return starts
}

func applyHann(pcm []float64, start int, dst []float64) {
	for i := range dst {
		var v float64
		if start+i < len(pcm) {
			v = pcm[start+i]
		}
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(frameSize-1)))
		dst[i] = v * w
	}
}

// chromaBinMap maps each FFT bin to a pitch class (0 = A), or -1 when the
// bin frequency falls outside the musical range.
func chromaBinMap(sampleRate int) []int {
	binWidth := float64(sampleRate) / frameSize
	m := make([]int, frameSize/2+1)
	for k := range m {
		freq := float64(k) * binWidth
		if freq < 27.5 || freq > float64(sampleRate)/2 {
			m[k] = -1
			continue
		}
		pc := int(math.Round(12*math.Log2(freq/440.0))) % numChroma
		if pc < 0 {
			pc += numChroma
		}
		m[k] = pc
	}
	return m
}

// estimateTempo autocorrelates the onset envelope over lags covering
// 60-180 BPM and returns the best tempo plus a periodicity strength in
// [0, 1].
func estimateTempo(onsets []float64, frameRate float64) (bpm, strength float64) {
	minLag := int(60.0 * frameRate / 180.0)
	maxLag := int(60.0 * frameRate / 60.0)
	if minLag < 1 {
		minLag = 1
	}
	if len(onsets) <= maxLag || maxLag <= minLag {
		return 0, 0
	}

	m := mean(onsets)
	centered := make([]float64, len(onsets))
	var r0 float64
	for i, v := range onsets {
		centered[i] = v - m
		r0 += centered[i] * centered[i]
	}
	if r0 == 0 {
		return 0, 0
	}

	bestLag, bestR := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var r float64
		for i := lag; i < len(centered); i++ {
			r += centered[i] * centered[i-lag]
		}
		if r > bestR {
			bestR = r
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0, 0
	}
	return 60.0 * frameRate / float64(bestLag), clampUnit(bestR / r0)
}

func newMelFilterbank(sampleRate int) *melFilterbank {
	return buildMelFilterbank(sampleRate, frameSize/2+1)
}

func zeroCrossingRate(pcm []float64) float64 {
	var crossings int
	for i := 1; i < len(pcm); i++ {
		if (pcm[i-1] >= 0) != (pcm[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(pcm))
}

func rms(pcm []float64) float64 {
	var s float64
	for _, v := range pcm {
		s += v * v
	}
	return math.Sqrt(s / float64(len(pcm)))
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return sum(v) / float64(len(v))
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func coefficientOfVariation(v []float64) float64 {
	m := mean(v)
	if m == 0 || len(v) < 2 {
		return 0
	}
	var ss float64
	for _, x := range v {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(v))) / m
}

func scaled(v []float64, factor float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x * factor
	}
	return out
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
