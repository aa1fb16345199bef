package analysis

import "math"

// Scores carries the per-window sub-scores on a 0-100 scale and the final
// music-likelihood they combine into.
type Scores struct {
	Bass        float64
	Mid         float64
	High        float64
	Rhythm      float64
	Flux        float64
	CentroidVar float64
	Balance     float64

	MusicLikelihood float64
}

// Reference band fractions for a balanced musical spectrum. Deviating from
// them lowers the balance score.
const (
	refBass = 0.35
	refMid  = 0.45
	refHigh = 0.20
)

func computeScores(f *Features, meanFlux, centroidCV, rhythmStrength float64) Scores {
	s := Scores{
		Bass:        clamp100(f.BassFraction / 0.40 * 100),
		Mid:         clamp100(f.MidFraction / 0.50 * 100),
		High:        clamp100(f.HighFraction / 0.25 * 100),
		Rhythm:      clamp100(rhythmStrength * 160),
		Flux:        clamp100(meanFlux * 250),
		CentroidVar: clamp100(centroidCV * 300),
	}

	imbalance := math.Abs(f.BassFraction-refBass) +
		math.Abs(f.MidFraction-refMid) +
		math.Abs(f.HighFraction-refHigh)
	s.Balance = clamp100(100 * (1 - imbalance))

	s.MusicLikelihood = s.likelihood()
	return s
}

// likelihood folds the sub-scores into the final music-likelihood: the
// weighted spectral/rhythm sum blended 70/30 with the balance score, with
// a 20 % boost when both rhythm and balance are strong.
func (s *Scores) likelihood() float64 {
	base := 0.25*s.Bass +
		0.15*s.Mid +
		0.10*s.High +
		0.30*s.Rhythm +
		0.10*s.Flux +
		0.10*s.CentroidVar

	score := 0.7*base + 0.3*s.Balance
	if s.Rhythm > 70 && s.Balance > 60 {
		score *= 1.2
	}
	return clamp100(score)
}

func clamp100(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
