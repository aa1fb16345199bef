package recognition

import (
	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/fingerprint"
)

// similarityFloor is the minimum similarity the fuzzy scan accepts.
const similarityFloor = 0.70

// LocalMatcher searches the stored fingerprint index. Search order:
// chroma-prefix exact, feature-hash exact, then a similarity scan over
// the chroma index.
type LocalMatcher struct {
	store datastore.Interface
}

// NewLocalMatcher creates a matcher over the given store.
func NewLocalMatcher(store datastore.Interface) *LocalMatcher {
	return &LocalMatcher{store: store}
}

// Find looks the fingerprint up in the index. A nil match with nil error
// means nothing in the store reached the similarity floor.
func (lm *LocalMatcher) Find(fp *fingerprint.Fingerprint) (*Match, error) {
	if fp == nil {
		return nil, nil
	}

	if fp.Chroma != "" {
		m, err := lm.exactLookup(fingerprint.ChromaPrefix(fp.Chroma), fingerprint.AlgorithmChromaprint, fp)
		if m != nil || err != nil {
			return m, err
		}
	}

	m, err := lm.exactLookup(fp.HexHash(), fingerprint.AlgorithmFeatureHash, fp)
	if m != nil || err != nil {
		return m, err
	}

	return lm.similarityScan(fp)
}

func (lm *LocalMatcher) exactLookup(hash, algorithm string, fp *fingerprint.Fingerprint) (*Match, error) {
	row, err := lm.store.GetFingerprintByHash(hash)
	switch {
	case errors.IsNotFound(err):
		return nil, nil
	case err != nil:
		return nil, err
	case row.Algorithm != algorithm:
		return nil, nil
	}
	return &Match{
		TrackID:     row.TrackID,
		Fingerprint: fp,
		Confidence:  1.0,
		Source:      "local",
		Method:      datastore.MethodLocalExact,
	}, nil
}

// similarityScan walks the chroma index and keeps the best candidate at
// or above the floor. Rows arrive newest first, so on a tie the newest
// row wins.
func (lm *LocalMatcher) similarityScan(fp *fingerprint.Fingerprint) (*Match, error) {
	if fp.Chroma == "" {
		return nil, nil
	}

	rows, err := lm.store.GetAllFingerprints()
	if err != nil {
		return nil, err
	}

	var (
		best    float64
		bestRow *datastore.Fingerprint
	)
	for i := range rows {
		row := &rows[i]
		if row.Algorithm != fingerprint.AlgorithmChromaprint || len(row.Raw) == 0 {
			continue
		}
		if sim := fingerprint.ChromaSimilarity(fp.Chroma, string(row.Raw)); sim > best {
			best = sim
			bestRow = row
		}
	}

	if bestRow == nil || best < similarityFloor {
		return nil, nil
	}
	return &Match{
		TrackID:     bestRow.TrackID,
		Fingerprint: fp,
		Confidence:  best,
		Source:      "local",
		Method:      datastore.MethodLocalFuzzy,
	}, nil
}
