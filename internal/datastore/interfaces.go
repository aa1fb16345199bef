// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/sodav/monitor/internal/conf"
	monerrors "github.com/sodav/monitor/internal/errors"
)

// Interface defines the persistence contract consumed by the detection core.
type Interface interface {
	Open() error
	Close() error

	// WithTransaction runs fn against a store bound to a single database
	// transaction. Returning an error rolls everything back.
	WithTransaction(fn func(tx Interface) error) error

	// Stations
	SaveStation(station *Station) error
	GetStation(id uint) (Station, error)
	GetStationByURL(url string) (Station, error)
	GetAllStations() ([]Station, error)
	GetActiveStations() ([]Station, error)
	UpdateStationStatus(id uint, status string, failureCount int) error
	DeleteStation(id uint) error

	// Artists and tracks
	SaveArtist(artist *Artist) error
	GetArtistByName(name string) (Artist, error)
	GetArtist(id uint) (Artist, error)
	SaveTrack(track *Track) error
	UpdateTrack(track *Track) error
	GetTrack(id uint) (Track, error)
	GetTrackByISRC(isrc string) (Track, error)
	GetTrackByFingerprint(hash string) (Track, error)
	GetTrackByTitleArtist(titleLower string, artistID uint) (Track, error)

	// Fingerprints
	SaveFingerprint(fp *Fingerprint) error
	GetFingerprintByHash(hash string) (Fingerprint, error)
	GetAllFingerprints() ([]Fingerprint, error)

	// Detections and statistics
	CommitDetection(detection *Detection) error
	GetDetections(stationID uint, limit int) ([]Detection, error)
	GetStationTrackStats(stationID, trackID uint) (StationTrackStats, error)
	GetTrackStats(trackID uint) (TrackStats, error)
	GetArtistStats(artistID uint) (ArtistStats, error)
	InitTrackStats(trackID uint) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new store instance based on the output configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// WithTransaction runs fn with a DataStore bound to a transaction.
func (ds *DataStore) WithTransaction(fn func(tx Interface) error) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		return fn(&DataStore{DB: tx})
	})
}

// Open is implemented by the concrete SQLite/MySQL stores.
func (ds *DataStore) Open() error {
	return monerrors.Newf("open called on abstract datastore").
		Component("datastore").
		Category(monerrors.CategoryDatabase).
		Build()
}

// Close is implemented by the concrete SQLite/MySQL stores.
func (ds *DataStore) Close() error {
	return nil
}

// translateError maps GORM errors onto the core error taxonomy so callers
// can branch on category instead of driver specifics.
func translateError(err error, operation string) error {
	if err == nil {
		return nil
	}
	category := monerrors.CategoryDatabase
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		category = monerrors.CategoryNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(err.Error(), "UNIQUE constraint failed"),
		strings.Contains(err.Error(), "Duplicate entry"):
		category = monerrors.CategoryConflict
	}
	return monerrors.New(fmt.Errorf("%s: %w", operation, err)).
		Component("datastore").
		Category(category).
		Build()
}

// SaveStation inserts or updates a station.
func (ds *DataStore) SaveStation(station *Station) error {
	return translateError(ds.DB.Save(station).Error, "saving station")
}

// GetStation retrieves a station by id.
func (ds *DataStore) GetStation(id uint) (Station, error) {
	var station Station
	if err := ds.DB.First(&station, id).Error; err != nil {
		return Station{}, translateError(err, "getting station")
	}
	return station, nil
}

// GetStationByURL retrieves a station by its stream URL.
func (ds *DataStore) GetStationByURL(url string) (Station, error) {
	var station Station
	if err := ds.DB.Where("stream_url = ?", url).First(&station).Error; err != nil {
		return Station{}, translateError(err, "getting station by url")
	}
	return station, nil
}

// GetAllStations retrieves every station.
func (ds *DataStore) GetAllStations() ([]Station, error) {
	var stations []Station
	if err := ds.DB.Order("id").Find(&stations).Error; err != nil {
		return nil, translateError(err, "getting stations")
	}
	return stations, nil
}

// GetActiveStations retrieves stations in active status.
func (ds *DataStore) GetActiveStations() ([]Station, error) {
	var stations []Station
	if err := ds.DB.Where("status = ?", StationActive).Order("id").Find(&stations).Error; err != nil {
		return nil, translateError(err, "getting active stations")
	}
	return stations, nil
}

// UpdateStationStatus updates operational status, failure counter and the
// last-check timestamp of a station.
func (ds *DataStore) UpdateStationStatus(id uint, status string, failureCount int) error {
	err := ds.DB.Model(&Station{}).Where("id = ?", id).Updates(map[string]any{
		"status":          status,
		"failure_count":   failureCount,
		"last_checked_at": time.Now(),
	}).Error
	return translateError(err, "updating station status")
}

// DeleteStation removes a station. Detections referencing it are kept for
// reporting; only the supervisor row goes away.
func (ds *DataStore) DeleteStation(id uint) error {
	return translateError(ds.DB.Delete(&Station{}, id).Error, "deleting station")
}

// SaveArtist inserts or updates an artist, maintaining the lowercase name
// used for case-insensitive uniqueness.
func (ds *DataStore) SaveArtist(artist *Artist) error {
	artist.NameLower = strings.ToLower(artist.Name)
	return translateError(ds.DB.Save(artist).Error, "saving artist")
}

// GetArtistByName retrieves an artist by case-insensitive name.
func (ds *DataStore) GetArtistByName(name string) (Artist, error) {
	var artist Artist
	if err := ds.DB.Where("name_lower = ?", strings.ToLower(name)).First(&artist).Error; err != nil {
		return Artist{}, translateError(err, "getting artist by name")
	}
	return artist, nil
}

// GetArtist retrieves an artist by id.
func (ds *DataStore) GetArtist(id uint) (Artist, error) {
	var artist Artist
	if err := ds.DB.First(&artist, id).Error; err != nil {
		return Artist{}, translateError(err, "getting artist")
	}
	return artist, nil
}

// SaveTrack inserts a track, maintaining the lowercase title used for
// (title, artist) deduplication.
func (ds *DataStore) SaveTrack(track *Track) error {
	track.TitleLower = strings.ToLower(track.Title)
	return translateError(ds.DB.Create(track).Error, "saving track")
}

// UpdateTrack updates mutable track metadata. The artist reference is
// immutable after creation and is never touched here.
func (ds *DataStore) UpdateTrack(track *Track) error {
	track.TitleLower = strings.ToLower(track.Title)
	err := ds.DB.Model(&Track{}).Where("id = ?", track.ID).Updates(map[string]any{
		"title":           track.Title,
		"title_lower":     track.TitleLower,
		"isrc":            track.ISRC,
		"label":           track.Label,
		"album":           track.Album,
		"release_date":    track.ReleaseDate,
		"duration":        track.Duration,
		"fingerprint":     track.Fingerprint,
		"fingerprint_raw": track.FingerprintRaw,
		"chromaprint":     track.Chromaprint,
	}).Error
	return translateError(err, "updating track")
}

// GetTrack retrieves a track by id.
func (ds *DataStore) GetTrack(id uint) (Track, error) {
	var track Track
	if err := ds.DB.First(&track, id).Error; err != nil {
		return Track{}, translateError(err, "getting track")
	}
	return track, nil
}

// GetTrackByISRC retrieves a track by its ISRC.
func (ds *DataStore) GetTrackByISRC(isrc string) (Track, error) {
	var track Track
	if err := ds.DB.Where("isrc = ?", isrc).First(&track).Error; err != nil {
		return Track{}, translateError(err, "getting track by isrc")
	}
	return track, nil
}

// GetTrackByFingerprint retrieves a track by the convenience fingerprint
// column on the tracks table.
func (ds *DataStore) GetTrackByFingerprint(hash string) (Track, error) {
	var track Track
	if err := ds.DB.Where("fingerprint = ?", hash).First(&track).Error; err != nil {
		return Track{}, translateError(err, "getting track by fingerprint")
	}
	return track, nil
}

// GetTrackByTitleArtist retrieves a track by lowercase title and artist id.
func (ds *DataStore) GetTrackByTitleArtist(titleLower string, artistID uint) (Track, error) {
	var track Track
	err := ds.DB.Where("title_lower = ? AND artist_id = ?", strings.ToLower(titleLower), artistID).
		First(&track).Error
	if err != nil {
		return Track{}, translateError(err, "getting track by title and artist")
	}
	return track, nil
}

// SaveFingerprint inserts a fingerprint row.
func (ds *DataStore) SaveFingerprint(fp *Fingerprint) error {
	return translateError(ds.DB.Create(fp).Error, "saving fingerprint")
}

// GetFingerprintByHash retrieves a fingerprint by its hash.
func (ds *DataStore) GetFingerprintByHash(hash string) (Fingerprint, error) {
	var fp Fingerprint
	if err := ds.DB.Where("hash = ?", hash).First(&fp).Error; err != nil {
		return Fingerprint{}, translateError(err, "getting fingerprint by hash")
	}
	return fp, nil
}

// GetAllFingerprints retrieves the fingerprint index, most recent first so
// similarity ties resolve to the newest row.
func (ds *DataStore) GetAllFingerprints() ([]Fingerprint, error) {
	var fps []Fingerprint
	if err := ds.DB.Order("created_at DESC, id DESC").Find(&fps).Error; err != nil {
		return nil, translateError(err, "getting fingerprints")
	}
	return fps, nil
}

// GetDetections retrieves the most recent detections for a station.
func (ds *DataStore) GetDetections(stationID uint, limit int) ([]Detection, error) {
	var detections []Detection
	q := ds.DB.Where("station_id = ?", stationID).Order("detected_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&detections).Error; err != nil {
		return nil, translateError(err, "getting detections")
	}
	return detections, nil
}

// GetStationTrackStats retrieves the per-station per-track statistics row.
func (ds *DataStore) GetStationTrackStats(stationID, trackID uint) (StationTrackStats, error) {
	var stats StationTrackStats
	err := ds.DB.Where("station_id = ? AND track_id = ?", stationID, trackID).First(&stats).Error
	if err != nil {
		return StationTrackStats{}, translateError(err, "getting station track stats")
	}
	return stats, nil
}

// GetTrackStats retrieves the aggregate statistics row for a track.
func (ds *DataStore) GetTrackStats(trackID uint) (TrackStats, error) {
	var stats TrackStats
	if err := ds.DB.Where("track_id = ?", trackID).First(&stats).Error; err != nil {
		return TrackStats{}, translateError(err, "getting track stats")
	}
	return stats, nil
}

// GetArtistStats retrieves the aggregate statistics row for an artist.
func (ds *DataStore) GetArtistStats(artistID uint) (ArtistStats, error) {
	var stats ArtistStats
	if err := ds.DB.Where("artist_id = ?", artistID).First(&stats).Error; err != nil {
		return ArtistStats{}, translateError(err, "getting artist stats")
	}
	return stats, nil
}

// InitTrackStats lazily creates the statistics row for a new track.
func (ds *DataStore) InitTrackStats(trackID uint) error {
	stats := TrackStats{TrackID: trackID}
	err := ds.DB.Where("track_id = ?", trackID).FirstOrCreate(&stats).Error
	return translateError(err, "initializing track stats")
}
