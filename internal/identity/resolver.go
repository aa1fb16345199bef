// Package identity resolves recognition matches to canonical Artist and
// Track rows. Deduplication is hierarchical: ISRC first, then fingerprint,
// then (title, artist); only when all three miss is a new track created.
package identity

import (
	"log/slog"
	"strings"

	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/fingerprint"
	"github.com/sodav/monitor/internal/identity/isrc"
	"github.com/sodav/monitor/internal/logging"
	"github.com/sodav/monitor/internal/recognition"
)

// Resolver deduplicates track identity against the store.
type Resolver struct {
	store datastore.Interface
	log   *slog.Logger
}

// New creates a resolver over the given store.
func New(store datastore.Interface) *Resolver {
	return &Resolver{store: store, log: logging.ForService("identity")}
}

// Resolve maps a match to its Track, creating artist and track rows as
// needed. The whole lookup-or-create runs in one transaction. Losing a
// uniqueness race to a concurrent resolve retries the lookup path once;
// the database constraint, not the application, is the dedupe authority.
func (r *Resolver) Resolve(match *recognition.Match) (datastore.Track, error) {
	if match == nil {
		return datastore.Track{}, errors.Newf("nil match").
			Component("identity").
			Category(errors.CategoryValidation).
			Build()
	}
	if match.TrackID != 0 {
		return r.store.GetTrack(match.TrackID)
	}
	if strings.TrimSpace(match.Title) == "" || strings.TrimSpace(match.Artist) == "" {
		return datastore.Track{}, errors.Newf("match missing title or artist").
			Component("identity").
			Category(errors.CategoryValidation).
			Context("title", match.Title).
			Context("artist", match.Artist).
			Build()
	}

	track, err := r.resolveOnce(match)
	if errors.IsConflict(err) {
		r.log.Debug("resolve lost uniqueness race, retrying lookup",
			"title", match.Title, "artist", match.Artist)
		track, err = r.resolveOnce(match)
	}
	return track, err
}

func (r *Resolver) resolveOnce(match *recognition.Match) (datastore.Track, error) {
	var out datastore.Track
	err := r.store.WithTransaction(func(tx datastore.Interface) error {
		track, err := r.resolveInTx(tx, match)
		if err != nil {
			return err
		}
		out = track
		return nil
	})
	return out, err
}

func (r *Resolver) resolveInTx(tx datastore.Interface, match *recognition.Match) (datastore.Track, error) {
	code := r.validISRC(match)
	hash := hexHash(match)

	// 1. ISRC.
	if code != "" {
		track, err := tx.GetTrackByISRC(code)
		switch {
		case err == nil:
			return r.backfill(tx, track, match, code, hash)
		case !errors.IsNotFound(err):
			return datastore.Track{}, err
		}
	}

	// 2. Fingerprint hash: the fingerprints table, then the convenience
	// column on tracks.
	if hash != "" {
		if row, err := tx.GetFingerprintByHash(hash); err == nil {
			track, err := tx.GetTrack(row.TrackID)
			if err != nil {
				return datastore.Track{}, err
			}
			return r.backfill(tx, track, match, code, hash)
		} else if !errors.IsNotFound(err) {
			return datastore.Track{}, err
		}

		if track, err := tx.GetTrackByFingerprint(hash); err == nil {
			return r.backfill(tx, track, match, code, hash)
		} else if !errors.IsNotFound(err) {
			return datastore.Track{}, err
		}
	}

	// 3. (title, artist), case-insensitive.
	artist, artistFound, err := r.lookupArtist(tx, match.Artist)
	if err != nil {
		return datastore.Track{}, err
	}
	if artistFound {
		track, err := tx.GetTrackByTitleArtist(match.Title, artist.ID)
		switch {
		case err == nil:
			return r.backfill(tx, track, match, code, hash)
		case !errors.IsNotFound(err):
			return datastore.Track{}, err
		}
	}

	// 4. Create.
	return r.create(tx, match, artist, artistFound, code, hash)
}

// validISRC normalizes the match ISRC, dropping invalid codes with a log
// line. Invalid codes never reach a track row.
func (r *Resolver) validISRC(match *recognition.Match) string {
	if match.ISRC == "" {
		return ""
	}
	code, err := isrc.Normalize(match.ISRC)
	if err != nil {
		r.log.Warn("dropping invalid isrc", "isrc", match.ISRC, "source", match.Source, "error", err)
		return ""
	}
	return code
}

func hexHash(match *recognition.Match) string {
	if match.Fingerprint == nil {
		return ""
	}
	return match.Fingerprint.HexHash()
}

// backfill fills previously unknown fields on an existing track. The
// artist reference and populated fields are never overwritten.
func (r *Resolver) backfill(tx datastore.Interface, track datastore.Track, match *recognition.Match, code, hash string) (datastore.Track, error) {
	changed := false

	if track.ISRC == nil && code != "" {
		track.ISRC = &code
		changed = true
	}
	if track.Fingerprint == nil && hash != "" {
		track.Fingerprint = &hash
		track.FingerprintRaw = match.Fingerprint.Raw
		changed = true
		if err := r.saveFingerprintRows(tx, track.ID, match.Fingerprint); err != nil {
			return datastore.Track{}, err
		}
	}
	if track.Chromaprint == "" && match.Fingerprint != nil && match.Fingerprint.Chroma != "" {
		track.Chromaprint = match.Fingerprint.Chroma
		changed = true
	}
	if track.Label == "" && match.Label != "" {
		track.Label = match.Label
		changed = true
	}
	if track.Album == "" && match.Album != "" {
		track.Album = match.Album
		changed = true
	}
	if track.ReleaseDate == "" && match.ReleaseDate != "" {
		track.ReleaseDate = match.ReleaseDate
		changed = true
	}

	if !changed {
		return track, nil
	}
	if err := tx.UpdateTrack(&track); err != nil {
		return datastore.Track{}, err
	}
	return track, nil
}

func (r *Resolver) lookupArtist(tx datastore.Interface, name string) (datastore.Artist, bool, error) {
	artist, err := tx.GetArtistByName(name)
	switch {
	case err == nil:
		return artist, true, nil
	case errors.IsNotFound(err):
		return datastore.Artist{}, false, nil
	default:
		return datastore.Artist{}, false, err
	}
}

func (r *Resolver) create(tx datastore.Interface, match *recognition.Match, artist datastore.Artist, artistFound bool, code, hash string) (datastore.Track, error) {
	if !artistFound {
		artist = datastore.Artist{Name: match.Artist, Label: match.Label}
		if err := tx.SaveArtist(&artist); err != nil {
			return datastore.Track{}, err
		}
	}

	track := datastore.Track{
		Title:       match.Title,
		ArtistID:    artist.ID,
		Label:       match.Label,
		Album:       match.Album,
		ReleaseDate: match.ReleaseDate,
	}
	if code != "" {
		track.ISRC = &code
	}
	if hash != "" {
		track.Fingerprint = &hash
		track.FingerprintRaw = match.Fingerprint.Raw
		track.Chromaprint = match.Fingerprint.Chroma
	}

	if err := tx.SaveTrack(&track); err != nil {
		return datastore.Track{}, err
	}
	if match.Fingerprint != nil {
		if err := r.saveFingerprintRows(tx, track.ID, match.Fingerprint); err != nil {
			return datastore.Track{}, err
		}
	}
	if err := tx.InitTrackStats(track.ID); err != nil {
		return datastore.Track{}, err
	}

	r.log.Info("created track",
		"track", track.ID, "title", track.Title, "artist", match.Artist, "isrc", code)
	return track, nil
}

// saveFingerprintRows indexes a fingerprint under both algorithms: the
// feature hash for exact lookups and the chroma prefix for the local
// matcher's chroma search.
func (r *Resolver) saveFingerprintRows(tx datastore.Interface, trackID uint, fp *fingerprint.Fingerprint) error {
	if fp == nil {
		return nil
	}

	err := tx.SaveFingerprint(&datastore.Fingerprint{
		TrackID:   trackID,
		Hash:      fp.HexHash(),
		Algorithm: fingerprint.AlgorithmFeatureHash,
		Raw:       fp.Raw,
	})
	if err != nil && !errors.IsConflict(err) {
		return err
	}

	if fp.Chroma == "" {
		return nil
	}
	err = tx.SaveFingerprint(&datastore.Fingerprint{
		TrackID:   trackID,
		Hash:      fingerprint.ChromaPrefix(fp.Chroma),
		Algorithm: fingerprint.AlgorithmChromaprint,
		Raw:       []byte(fp.Chroma),
	})
	if err != nil && !errors.IsConflict(err) {
		return err
	}
	return nil
}
