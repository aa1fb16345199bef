// Package fingerprint turns analysis feature vectors into stable content
// hashes and chroma symbol streams used for local matching. The hash is
// deliberately computed over fixed-precision values so small capture
// jitter between windows of the same recording does not shift it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/sodav/monitor/internal/analysis"
)

const (
	// AlgorithmFeatureHash tags hashes derived from the aggregate feature
	// vector.
	AlgorithmFeatureHash = "feature_hash"

	// AlgorithmChromaprint tags chroma symbol streams.
	AlgorithmChromaprint = "chromaprint"

	// quantization step for the canonical serialization.
	precision = 0.01

	// compareSymbols is how many leading chroma symbols Compare looks at.
	compareSymbols = 32
)

const chromaAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// Fingerprint is the matchable identity of one audio window.
type Fingerprint struct {
	Hash [32]byte
	Raw  []byte

	// Chroma is a base-32 symbol stream, one symbol per analysis frame,
	// encoding the dominant and secondary pitch class. Empty when the
	// features carried no per-frame chroma.
	Chroma string
}

// HexHash returns the hash as lowercase hex, the form stored in the
// database.
func (fp *Fingerprint) HexHash() string {
	return hex.EncodeToString(fp.Hash[:])
}

// Generate builds a fingerprint from an analyzed window.
func Generate(feat *analysis.Features) *Fingerprint {
	raw := canonicalBytes(feat)
	fp := &Fingerprint{
		Hash:   sha256.Sum256(raw),
		Raw:    raw,
		Chroma: encodeChroma(feat.ChromaFrames),
	}
	return fp
}

// Compare returns a similarity in [0, 1]. When both fingerprints carry a
// chroma stream it is the Hamming similarity over the first
// compareSymbols symbols; otherwise exact hash equality decides.
func Compare(a, b *Fingerprint) float64 {
	if a == nil || b == nil {
		return 0
	}
	if a.Chroma != "" && b.Chroma != "" {
		return ChromaSimilarity(a.Chroma, b.Chroma)
	}
	if a.Hash == b.Hash {
		return 1
	}
	return 0
}

// ChromaSimilarity is the Hamming similarity over the first compareSymbols
// symbols of two chroma streams. Streams shorter than compareSymbols are
// compared over the shorter length; length mismatch beyond that counts
// against the score.
func ChromaSimilarity(a, b string) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n > compareSymbols {
		n = compareSymbols
	}
	if n == 0 {
		return 0
	}

	matches := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			matches++
		}
	}

	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	if denom > compareSymbols {
		denom = compareSymbols
	}
	return float64(matches) / float64(denom)
}

// ChromaPrefix returns the leading symbols used for exact prefix lookups.
func ChromaPrefix(chroma string) string {
	if len(chroma) > compareSymbols {
		return chroma[:compareSymbols]
	}
	return chroma
}

// canonicalBytes serializes the jitter-stable slice of the feature vector:
// MFCC means, chroma means and the spectral centroid, each quantized to
// the fixed precision and encoded big-endian.
func canonicalBytes(feat *analysis.Features) []byte {
	values := make([]float64, 0, len(feat.MFCC)+len(feat.Chroma)+1)
	values = append(values, feat.MFCC...)
	values = append(values, feat.Chroma...)
	values = append(values, feat.SpectralCentroid)

	out := make([]byte, 0, len(values)*8)
	var buf [8]byte
	for _, v := range values {
		q := int64(math.Round(v / precision))
		binary.BigEndian.PutUint64(buf[:], uint64(q))
		out = append(out, buf[:]...)
	}
	return out
}

// encodeChroma maps each frame's chroma vector to one base-32 symbol built
// from the dominant pitch class and a coarse strength bucket, so similar
// frame sequences yield matching symbol runs.
func encodeChroma(frames [][]float64) string {
	if len(frames) == 0 {
		return ""
	}

	symbols := make([]byte, 0, len(frames))
	for _, chroma := range frames {
		if len(chroma) == 0 {
			continue
		}
		dominant, peak := 0, chroma[0]
		for i, v := range chroma {
			if v > peak {
				dominant, peak = i, v
			}
		}
		// Strength bucket: 0 for diffuse frames, 1 for peaked ones. With 12
		// pitch classes and 2 buckets the symbol fits the 32-letter alphabet.
		bucket := 0
		if peak > 2.0/float64(len(chroma)) {
			bucket = 1
		}
		symbols = append(symbols, chromaAlphabet[dominant*2+bucket])
	}
	return string(symbols)
}
