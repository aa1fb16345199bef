package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sodav/monitor/internal/errors"
)

// newTestStore opens an in-memory SQLite database with the full schema.
func newTestStore(t *testing.T) *DataStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, performAutoMigration(db, false, "SQLite", ":memory:"))
	return &DataStore{DB: db}
}

func seedTrack(t *testing.T, ds *DataStore, title, artistName string) (Station, Artist, Track) {
	t.Helper()

	station := Station{Name: "RTS Radio", StreamURL: "http://stream.test/" + title, Status: StationActive}
	require.NoError(t, ds.SaveStation(&station))

	artist := Artist{Name: artistName}
	require.NoError(t, ds.SaveArtist(&artist))

	track := Track{Title: title, ArtistID: artist.ID}
	require.NoError(t, ds.SaveTrack(&track))
	require.NoError(t, ds.InitTrackStats(track.ID))

	return station, artist, track
}

func makeDetection(stationID, trackID uint, start time.Time, dur time.Duration, confidence float64) *Detection {
	return &Detection{
		StationID:    stationID,
		TrackID:      trackID,
		DetectedAt:   start,
		EndTime:      start.Add(dur),
		PlayDuration: dur,
		Confidence:   confidence,
		Method:       MethodLocalExact,
	}
}

func TestCommitDetectionUpdatesAllStats(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	station, artist, track := seedTrack(t, ds, "Yoolé", "Ismaël Lô")

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ds.CommitDetection(makeDetection(station.ID, track.ID, start, 180*time.Second, 0.9)))
	require.NoError(t, ds.CommitDetection(makeDetection(station.ID, track.ID, start.Add(10*time.Minute), 90*time.Second, 0.7)))

	sts, err := ds.GetStationTrackStats(station.ID, track.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, sts.PlayCount)
	assert.Equal(t, 270*time.Second, sts.TotalPlayTime)
	assert.InDelta(t, 0.8, sts.AverageConfidence, 1e-9)
	assert.WithinDuration(t, start.Add(10*time.Minute).Add(90*time.Second), sts.LastPlayedAt, time.Second)

	trackStats, err := ds.GetTrackStats(track.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, trackStats.PlayCount)
	assert.Equal(t, 270*time.Second, trackStats.TotalPlayTime)

	artistStats, err := ds.GetArtistStats(artist.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, artistStats.PlayCount)
	assert.InDelta(t, 0.8, artistStats.AverageConfidence, 1e-9)

	got, err := ds.GetStation(station.ID)
	require.NoError(t, err)
	assert.Equal(t, 270*time.Second, got.TotalPlayTime)
	require.NotNil(t, got.LastDetectionAt)
}

func TestCommitDetectionTotalsMatchDetectionSum(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	station, _, track := seedTrack(t, ds, "Diarabi", "Baaba Maal")

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	durations := []time.Duration{45 * time.Second, 200 * time.Second, 121 * time.Second}
	var want time.Duration
	for i, d := range durations {
		require.NoError(t, ds.CommitDetection(makeDetection(station.ID, track.ID, start.Add(time.Duration(i)*10*time.Minute), d, 0.85)))
		want += d
	}

	sts, err := ds.GetStationTrackStats(station.ID, track.ID)
	require.NoError(t, err)
	assert.Equal(t, want, sts.TotalPlayTime)

	detections, err := ds.GetDetections(station.ID, 0)
	require.NoError(t, err)
	var sum time.Duration
	for i := range detections {
		sum += detections[i].PlayDuration
	}
	assert.Equal(t, sts.TotalPlayTime, sum)
}

func TestCommitDetectionRejectsInvariantViolations(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	station, _, track := seedTrack(t, ds, "Set", "Youssou N'Dour")

	start := time.Now()

	d := makeDetection(station.ID, track.ID, start, time.Minute, 0.9)
	d.EndTime = start.Add(-time.Second)
	require.Error(t, ds.CommitDetection(d))

	d = makeDetection(station.ID, track.ID, start, time.Minute, 0.9)
	d.PlayDuration = 30 * time.Second // inconsistent with end-start
	require.Error(t, ds.CommitDetection(d))

	detections, err := ds.GetDetections(station.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, detections)
}

func TestCommitDetectionIsAtomic(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	station, _, _ := seedTrack(t, ds, "Tajabone", "Ismaël Lô")

	// Unknown track makes the stats phase fail after the detection insert;
	// the whole transaction must roll back.
	bad := makeDetection(station.ID, 9999, time.Now(), time.Minute, 0.9)
	require.Error(t, ds.CommitDetection(bad))

	detections, err := ds.GetDetections(station.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, detections)
}

func TestUniqueISRCAndFingerprintConstraints(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	_, artist, track := seedTrack(t, ds, "Original", "Orchestra Baobab")

	code := "SNA011500042"
	hash := "deadbeef00112233445566778899aabbccddeeff00112233445566778899aabb"
	track.ISRC = &code
	track.Fingerprint = &hash
	require.NoError(t, ds.UpdateTrack(&track))

	dup := Track{Title: "Duplicate", ArtistID: artist.ID, ISRC: &code}
	err := ds.SaveTrack(&dup)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err), "expected conflict category, got %v", err)

	dupFp := Track{Title: "Duplicate FP", ArtistID: artist.ID, Fingerprint: &hash}
	err = ds.SaveTrack(&dupFp)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// Fingerprint table hash is unique as well.
	require.NoError(t, ds.SaveFingerprint(&Fingerprint{TrackID: track.ID, Hash: hash, Algorithm: "feature-sha256"}))
	err = ds.SaveFingerprint(&Fingerprint{TrackID: track.ID, Hash: hash, Algorithm: "feature-sha256"})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestArtistNameCaseInsensitiveUnique(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)

	a := Artist{Name: "Orchestra Baobab"}
	require.NoError(t, ds.SaveArtist(&a))

	got, err := ds.GetArtistByName("ORCHESTRA BAOBAB")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	dup := Artist{Name: "orchestra baobab"}
	err = ds.SaveArtist(&dup)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestGetTrackByTitleArtistIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	_, artist, track := seedTrack(t, ds, "Utru Horas", "Orchestra Baobab")

	got, err := ds.GetTrackByTitleArtist("UTRU HORAS", artist.ID)
	require.NoError(t, err)
	assert.Equal(t, track.ID, got.ID)

	_, err = ds.GetTrackByTitleArtist("unknown song", artist.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestTrackValidISRCTreatsLegacyValuesAsNull(t *testing.T) {
	t.Parallel()

	bad := "BADISRC"
	good := "FRZ031400123"
	assert.Empty(t, (&Track{ISRC: &bad}).ValidISRC())
	assert.Empty(t, (&Track{}).ValidISRC())
	assert.Equal(t, good, (&Track{ISRC: &good}).ValidISRC())
}

func TestWithTransactionRollsBack(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)

	sentinel := errors.NewStd("abort")
	err := ds.WithTransaction(func(tx Interface) error {
		if err := tx.SaveArtist(&Artist{Name: "Transient"}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = ds.GetArtistByName("Transient")
	assert.True(t, errors.IsNotFound(err))
}

func TestGetAllFingerprintsNewestFirst(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	_, _, track := seedTrack(t, ds, "Ndongo Daara", "Thione Seck")

	for i, h := range []string{"aa01", "aa02", "aa03"} {
		fp := Fingerprint{TrackID: track.ID, Hash: h, Algorithm: "feature-sha256", Offset: float64(i)}
		require.NoError(t, ds.SaveFingerprint(&fp))
	}

	fps, err := ds.GetAllFingerprints()
	require.NoError(t, err)
	require.Len(t, fps, 3)
	assert.Equal(t, "aa03", fps[0].Hash)
}
