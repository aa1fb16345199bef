package recognition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/fingerprint"
)

// fakeStore backs the local matcher with an in-memory fingerprint index.
// Unused Interface methods panic via the embedded nil.
type fakeStore struct {
	datastore.Interface
	byHash map[string]datastore.Fingerprint
	all    []datastore.Fingerprint
}

func (fs *fakeStore) GetFingerprintByHash(hash string) (datastore.Fingerprint, error) {
	if row, ok := fs.byHash[hash]; ok {
		return row, nil
	}
	return datastore.Fingerprint{}, errors.Newf("fingerprint not found").
		Category(errors.CategoryNotFound).
		Build()
}

func (fs *fakeStore) GetAllFingerprints() ([]datastore.Fingerprint, error) {
	return fs.all, nil
}

func chromaFP(chroma string) *fingerprint.Fingerprint {
	fp := &fingerprint.Fingerprint{Chroma: chroma}
	copy(fp.Hash[:], chroma)
	return fp
}

func TestLocalMatcherChromaPrefixExact(t *testing.T) {
	t.Parallel()

	fp := chromaFP(strings.Repeat("AB", 20))
	store := &fakeStore{byHash: map[string]datastore.Fingerprint{
		fingerprint.ChromaPrefix(fp.Chroma): {TrackID: 7, Algorithm: fingerprint.AlgorithmChromaprint},
	}}

	m, err := NewLocalMatcher(store).Find(fp)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, uint(7), m.TrackID)
	assert.Equal(t, datastore.MethodLocalExact, m.Method)
	assert.InDelta(t, 1.0, m.Confidence, 1e-9)
	assert.Equal(t, "local", m.Source)
}

func TestLocalMatcherHashExact(t *testing.T) {
	t.Parallel()

	fp := &fingerprint.Fingerprint{}
	fp.Hash[0] = 0xAA
	store := &fakeStore{byHash: map[string]datastore.Fingerprint{
		fp.HexHash(): {TrackID: 3, Algorithm: fingerprint.AlgorithmFeatureHash},
	}}

	m, err := NewLocalMatcher(store).Find(fp)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, uint(3), m.TrackID)
	assert.Equal(t, datastore.MethodLocalExact, m.Method)
}

func TestLocalMatcherAlgorithmMismatchIsMiss(t *testing.T) {
	t.Parallel()

	// A feature-hash row stored under the chroma prefix must not count as
	// a chroma hit.
	fp := chromaFP(strings.Repeat("C", 32))
	store := &fakeStore{byHash: map[string]datastore.Fingerprint{
		fingerprint.ChromaPrefix(fp.Chroma): {TrackID: 9, Algorithm: fingerprint.AlgorithmFeatureHash},
	}}

	m, err := NewLocalMatcher(store).Find(fp)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLocalMatcherSimilarityScan(t *testing.T) {
	t.Parallel()

	query := strings.Repeat("A", 32)
	near := strings.Repeat("A", 28) + "ZZZZ" // similarity 28/32 = 0.875
	far := strings.Repeat("Z", 32)

	store := &fakeStore{
		byHash: map[string]datastore.Fingerprint{},
		all: []datastore.Fingerprint{
			{TrackID: 2, Algorithm: fingerprint.AlgorithmChromaprint, Raw: []byte(near)},
			{TrackID: 5, Algorithm: fingerprint.AlgorithmChromaprint, Raw: []byte(far)},
		},
	}

	m, err := NewLocalMatcher(store).Find(chromaFP(query))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, uint(2), m.TrackID)
	assert.Equal(t, datastore.MethodLocalFuzzy, m.Method)
	assert.InDelta(t, 0.875, m.Confidence, 1e-9)
}

func TestLocalMatcherSimilarityTieKeepsNewest(t *testing.T) {
	t.Parallel()

	query := strings.Repeat("A", 32)
	candidate := strings.Repeat("A", 30) + "ZZ"

	// Store returns newest first; both rows score identically.
	store := &fakeStore{
		byHash: map[string]datastore.Fingerprint{},
		all: []datastore.Fingerprint{
			{TrackID: 11, Algorithm: fingerprint.AlgorithmChromaprint, Raw: []byte(candidate)},
			{TrackID: 4, Algorithm: fingerprint.AlgorithmChromaprint, Raw: []byte(candidate)},
		},
	}

	m, err := NewLocalMatcher(store).Find(chromaFP(query))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, uint(11), m.TrackID)
}

func TestLocalMatcherBelowFloorIsMiss(t *testing.T) {
	t.Parallel()

	query := strings.Repeat("A", 32)
	weak := strings.Repeat("A", 16) + strings.Repeat("Z", 16) // 0.5

	store := &fakeStore{
		byHash: map[string]datastore.Fingerprint{},
		all: []datastore.Fingerprint{
			{TrackID: 1, Algorithm: fingerprint.AlgorithmChromaprint, Raw: []byte(weak)},
		},
	}

	m, err := NewLocalMatcher(store).Find(chromaFP(query))
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLocalMatcherNilFingerprint(t *testing.T) {
	t.Parallel()

	m, err := NewLocalMatcher(&fakeStore{}).Find(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}
