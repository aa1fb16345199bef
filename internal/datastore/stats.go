// stats.go: transactional statistics aggregation for finalized detections
package datastore

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	monerrors "github.com/sodav/monitor/internal/errors"
)

// CommitDetection appends a finalized detection and updates every dependent
// statistics row within one transaction. Either all of it becomes visible or
// none of it does.
func (ds *DataStore) CommitDetection(detection *Detection) error {
	if err := validateDetection(detection); err != nil {
		return err
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(detection).Error; err != nil {
			return err
		}

		var track Track
		if err := tx.First(&track, detection.TrackID).Error; err != nil {
			return err
		}

		if err := upsertStationTrackStats(tx, detection); err != nil {
			return err
		}
		if err := upsertTrackStats(tx, detection); err != nil {
			return err
		}
		if err := upsertArtistStats(tx, detection, track.ArtistID); err != nil {
			return err
		}

		return tx.Model(&Station{}).Where("id = ?", detection.StationID).Updates(map[string]any{
			"total_play_time":   gorm.Expr("total_play_time + ?", int64(detection.PlayDuration)),
			"last_detection_at": detection.EndTime,
		}).Error
	})
	return translateError(err, "committing detection")
}

// validateDetection enforces the detection invariants before anything is
// written: detected_at <= end_time and play_duration = end_time - detected_at.
func validateDetection(d *Detection) error {
	if d.EndTime.Before(d.DetectedAt) {
		return monerrors.Newf("detection end %v precedes start %v", d.EndTime, d.DetectedAt).
			Component("datastore").
			Category(monerrors.CategoryValidation).
			Build()
	}
	if d.PlayDuration < 0 {
		return monerrors.Newf("negative play duration %v", d.PlayDuration).
			Component("datastore").
			Category(monerrors.CategoryValidation).
			Build()
	}
	if want := d.EndTime.Sub(d.DetectedAt); d.PlayDuration != want {
		return monerrors.Newf("play duration %v does not equal end-start %v", d.PlayDuration, want).
			Component("datastore").
			Category(monerrors.CategoryValidation).
			Build()
	}
	return nil
}

// lockRows adds a FOR UPDATE clause on engines that support row locks.
// SQLite serializes writing transactions on its own.
func lockRows(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func upsertStationTrackStats(tx *gorm.DB, d *Detection) error {
	var stats StationTrackStats
	err := lockRows(tx).Where("station_id = ? AND track_id = ?", d.StationID, d.TrackID).
		First(&stats).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		stats = StationTrackStats{StationID: d.StationID, TrackID: d.TrackID}
	case err != nil:
		return err
	}

	applyPlay(&stats.PlayCount, &stats.TotalPlayTime, &stats.ConfidenceSum, &stats.AverageConfidence, d)
	stats.LastPlayedAt = d.EndTime
	stats.UpdatedAt = time.Now()
	return tx.Save(&stats).Error
}

func upsertTrackStats(tx *gorm.DB, d *Detection) error {
	var stats TrackStats
	err := lockRows(tx).Where("track_id = ?", d.TrackID).First(&stats).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		stats = TrackStats{TrackID: d.TrackID}
	case err != nil:
		return err
	}

	applyPlay(&stats.PlayCount, &stats.TotalPlayTime, &stats.ConfidenceSum, &stats.AverageConfidence, d)
	stats.LastDetectedAt = d.EndTime
	stats.UpdatedAt = time.Now()
	return tx.Save(&stats).Error
}

func upsertArtistStats(tx *gorm.DB, d *Detection, artistID uint) error {
	var stats ArtistStats
	err := lockRows(tx).Where("artist_id = ?", artistID).First(&stats).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		stats = ArtistStats{ArtistID: artistID}
	case err != nil:
		return err
	}

	applyPlay(&stats.PlayCount, &stats.TotalPlayTime, &stats.ConfidenceSum, &stats.AverageConfidence, d)
	stats.LastDetectedAt = d.EndTime
	stats.UpdatedAt = time.Now()
	return tx.Save(&stats).Error
}

// applyPlay folds one detection into a stats row. The confidence sum is
// stored next to the average so the mean is always exact.
func applyPlay(count *int64, total *time.Duration, sum, avg *float64, d *Detection) {
	*count++
	*total += d.PlayDuration
	*sum += d.Confidence
	*avg = *sum / float64(*count)
}
