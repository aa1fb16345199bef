// model.go this code defines the data model for the detection core
package datastore

import (
	"time"

	"github.com/sodav/monitor/internal/identity/isrc"
)

// Station statuses.
const (
	StationActive   = "active"
	StationInactive = "inactive"
	StationOffline  = "offline"
)

// Detection method tags.
const (
	MethodLocalExact = "local_exact"
	MethodLocalFuzzy = "local_fuzzy"
	MethodAcoustID   = "acoustid"
	MethodAudD       = "audd"
	MethodISRCMatch  = "isrc_match"
	MethodManual     = "manual"
)

// Station represents a monitored radio station.
type Station struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"size:255;not null"`
	StreamURL       string `gorm:"uniqueIndex;size:512;not null"`
	Status          string `gorm:"size:16;not null;default:active;index"`
	FailureCount    int
	LastCheckedAt   time.Time
	LastDetectionAt *time.Time
	TotalPlayTime   time.Duration // cumulative detected play time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Artist identity is immutable once created; statistics live in ArtistStats.
type Artist struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:255;not null"`
	NameLower string `gorm:"uniqueIndex;size:255;not null"`
	Label     string `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Track represents a recorded musical work. ISRC and Fingerprint are
// nullable and globally unique when present. A track never changes artist
// after creation.
type Track struct {
	ID         uint    `gorm:"primaryKey"`
	Title      string  `gorm:"size:255;not null"`
	TitleLower string  `gorm:"size:255;not null;index:idx_tracks_title_artist"`
	ArtistID   uint    `gorm:"not null;index:idx_tracks_title_artist"`
	ISRC       *string `gorm:"uniqueIndex;size:12"`
	Label      string  `gorm:"size:255"`
	Album      string  `gorm:"size:255"`
	ReleaseDate string `gorm:"size:32"`
	Duration   time.Duration

	// Fingerprint is a convenience copy of the first fingerprint hash; the
	// fingerprints table is authoritative for matching.
	Fingerprint    *string `gorm:"uniqueIndex;size:64"`
	FingerprintRaw []byte
	Chromaprint    string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidISRC returns the stored ISRC if it passes validation, and "" for
// rows whose stored value predates the current validation rule.
func (t *Track) ValidISRC() string {
	if t.ISRC == nil {
		return ""
	}
	normalized, err := isrc.Normalize(*t.ISRC)
	if err != nil {
		return ""
	}
	return normalized
}

// Fingerprint is an acoustic fingerprint belonging to a track. One track may
// carry several fingerprints from different algorithms or excerpts.
type Fingerprint struct {
	ID        uint   `gorm:"primaryKey"`
	TrackID   uint   `gorm:"not null;index"`
	Hash      string `gorm:"uniqueIndex;size:64;not null"`
	Algorithm string `gorm:"size:32;not null"`
	Raw       []byte
	Offset    float64 // seconds into the track the excerpt was taken from
	CreatedAt time.Time
}

// Detection is a finalized playback record. Detections are append-only.
type Detection struct {
	ID              uint      `gorm:"primaryKey"`
	StationID       uint      `gorm:"not null;index:idx_detections_station_time"`
	TrackID         uint      `gorm:"not null;index"`
	DetectedAt      time.Time `gorm:"not null;index:idx_detections_station_time"`
	EndTime         time.Time `gorm:"not null"`
	PlayDuration    time.Duration
	Confidence      float64
	Method          string `gorm:"size:16;not null"`
	FingerprintHash string `gorm:"size:64"`
	CreatedAt       time.Time
}

// StationTrackStats aggregates plays of one track on one station.
// ConfidenceSum is kept alongside the average so the rolling average never
// degrades by being re-derived from the stored mean.
type StationTrackStats struct {
	ID                uint `gorm:"primaryKey"`
	StationID         uint `gorm:"not null;uniqueIndex:idx_station_track"`
	TrackID           uint `gorm:"not null;uniqueIndex:idx_station_track"`
	PlayCount         int64
	TotalPlayTime     time.Duration
	LastPlayedAt      time.Time
	ConfidenceSum     float64
	AverageConfidence float64
	UpdatedAt         time.Time
}

// TrackStats aggregates plays of one track across all stations.
type TrackStats struct {
	ID                uint `gorm:"primaryKey"`
	TrackID           uint `gorm:"not null;uniqueIndex"`
	PlayCount         int64
	TotalPlayTime     time.Duration
	LastDetectedAt    time.Time
	ConfidenceSum     float64
	AverageConfidence float64
	UpdatedAt         time.Time
}

// ArtistStats aggregates plays of one artist across all stations.
type ArtistStats struct {
	ID                uint `gorm:"primaryKey"`
	ArtistID          uint `gorm:"not null;uniqueIndex"`
	PlayCount         int64
	TotalPlayTime     time.Duration
	LastDetectedAt    time.Time
	ConfidenceSum     float64
	AverageConfidence float64
	UpdatedAt         time.Time
}
