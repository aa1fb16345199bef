package analysis

import "math"

// melFilterbank holds triangular filters spanning 0 Hz to Nyquist on the
// mel scale, plus the DCT basis that turns log filter energies into
// cepstral coefficients.
type melFilterbank struct {
	filters [][]float64
}

func buildMelFilterbank(sampleRate, bins int) *melFilterbank {
	nyquist := float64(sampleRate) / 2
	melMax := hzToMel(nyquist)

	// numMelFilters triangles need numMelFilters+2 edge points.
	edges := make([]float64, numMelFilters+2)
	for i := range edges {
		edges[i] = melToHz(melMax * float64(i) / float64(numMelFilters+1))
	}

	binWidth := nyquist / float64(bins-1)
	filters := make([][]float64, numMelFilters)
	for f := 0; f < numMelFilters; f++ {
		lo, center, hi := edges[f], edges[f+1], edges[f+2]
		filter := make([]float64, bins)
		for k := 0; k < bins; k++ {
			freq := float64(k) * binWidth
			switch {
			case freq <= lo || freq >= hi:
			case freq <= center:
				filter[k] = (freq - lo) / (center - lo)
			default:
				filter[k] = (hi - freq) / (hi - center)
			}
		}
		filters[f] = filter
	}
	return &melFilterbank{filters: filters}
}

// mfcc maps one power spectrum to the first numMFCC cepstral coefficients.
func (mb *melFilterbank) mfcc(power []float64) []float64 {
	logEnergies := make([]float64, numMelFilters)
	for f, filter := range mb.filters {
		var e float64
		for k, w := range filter {
			if w > 0 && k < len(power) {
				e += w * power[k]
			}
		}
		logEnergies[f] = math.Log(e + 1e-10)
	}

	coeffs := make([]float64, numMFCC)
	for k := 0; k < numMFCC; k++ {
		var c float64
		for n := 0; n < numMelFilters; n++ {
			c += logEnergies[n] * math.Cos(math.Pi*float64(k)*(float64(n)+0.5)/float64(numMelFilters))
		}
		coeffs[k] = c
	}
	return coeffs
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10, mel/2595.0) - 1.0)
}
