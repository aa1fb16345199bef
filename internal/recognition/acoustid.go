package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/identity/isrc"
	"github.com/sodav/monitor/internal/logging"
	"github.com/sodav/monitor/internal/observability"
)

const (
	acoustidLookupURL = "https://api.acoustid.org/v2/lookup"
	musicbrainzURL    = "https://musicbrainz.org/ws/2/recording"
)

// AcoustIDProvider looks windows up at AcoustID and enriches hits with
// MusicBrainz recording metadata (ISRC, label, release date).
type AcoustIDProvider struct {
	cfg        conf.ProviderConfig
	maxRetries int
	backoff    time.Duration
	client     *http.Client
	limiter    *rate.Limiter
	lookupURL  string
	mbURL      string
	metrics    *observability.Metrics
	log        *slog.Logger
}

// NewAcoustID builds the provider from settings. metrics may be nil.
func NewAcoustID(settings *conf.Settings, metrics *observability.Metrics) *AcoustIDProvider {
	p := &settings.Providers
	return &AcoustIDProvider{
		cfg:        p.AcoustID,
		maxRetries: p.MaxRetries,
		backoff:    time.Second,
		client:     &http.Client{Timeout: p.GetRequestTimeout()},
		limiter:    newProviderLimiter(p.AcoustID),
		lookupURL:  acoustidLookupURL,
		mbURL:      musicbrainzURL,
		metrics:    metrics,
		log:        logging.ForService("acoustid"),
	}
}

func (p *AcoustIDProvider) onRetry() {
	if p.metrics != nil {
		p.metrics.ProviderRetries.WithLabelValues(p.Name()).Inc()
	}
}

func (p *AcoustIDProvider) Name() string { return "acoustid" }

// Enabled reports whether the provider can be used at all: it needs both
// the config switch and an API key.
func (p *AcoustIDProvider) Enabled() bool {
	return p.cfg.Enabled && p.cfg.APIKey != ""
}

type acoustidResponse struct {
	Status string `json:"status"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
	Results []struct {
		ID         string  `json:"id"`
		Score      float64 `json:"score"`
		Recordings []struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"recordings"`
	} `json:"results"`
}

type mbRecording struct {
	Title        string `json:"title"`
	ArtistCredit []struct {
		Name string `json:"name"`
	} `json:"artist-credit"`
	ISRCs    []string `json:"isrcs"`
	Releases []struct {
		Title     string `json:"title"`
		Date      string `json:"date"`
		LabelInfo []struct {
			Label struct {
				Name string `json:"name"`
			} `json:"label"`
		} `json:"label-info"`
	} `json:"releases"`
}

// Recognize posts the chroma fingerprint to the AcoustID lookup endpoint
// and, on a confident recording hit, resolves MusicBrainz metadata.
func (p *AcoustIDProvider) Recognize(ctx context.Context, sample *Sample) (*Match, error) {
	if sample.Fingerprint == nil || sample.Fingerprint.Chroma == "" {
		return nil, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{
		"client":      {p.cfg.APIKey},
		"duration":    {fmt.Sprintf("%d", int(sample.Duration.Seconds()))},
		"fingerprint": {sample.Fingerprint.Chroma},
		"meta":        {"recordings releases"},
	}
	body := form.Encode()

	resp, err := doWithRetry(ctx, p.client, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, p.lookupURL, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, p.maxRetries, p.backoff, p.onRetry, p.log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.New(fmt.Errorf("%w: acoustid rejected credentials (%d)", ErrProviderPermanent, resp.StatusCode)).
			Component("recognition").
			Category(errors.CategoryProvider).
			Build()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("acoustid lookup status %d", resp.StatusCode).
			Component("recognition").
			Category(errors.CategoryProvider).
			Build()
	}

	var parsed acoustidResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, errors.New(fmt.Errorf("%w: decoding acoustid response: %w", ErrProviderPermanent, err)).
			Component("recognition").
			Category(errors.CategoryProvider).
			Build()
	}
	if parsed.Status != "ok" {
		return nil, errors.Newf("acoustid error: %s", parsed.Error.Message).
			Component("recognition").
			Category(errors.CategoryProvider).
			Build()
	}

	match := p.bestResult(&parsed, sample)
	if match == nil {
		return nil, nil
	}
	return match, nil
}

// bestResult picks the highest-scoring result at or above the threshold
// and fills the match, enriching from MusicBrainz when possible.
func (p *AcoustIDProvider) bestResult(parsed *acoustidResponse, sample *Sample) *Match {
	bestScore := 0.0
	var recordingID, title, artist string
	for _, result := range parsed.Results {
		if result.Score <= bestScore || len(result.Recordings) == 0 {
			continue
		}
		rec := result.Recordings[0]
		bestScore = result.Score
		recordingID = rec.ID
		title = rec.Title
		if len(rec.Artists) > 0 {
			artist = rec.Artists[0].Name
		}
	}
	if recordingID == "" || bestScore < p.cfg.Threshold {
		return nil
	}

	match := &Match{
		Title:       title,
		Artist:      artist,
		Fingerprint: sample.Fingerprint,
		Confidence:  bestScore,
		Source:      "acoustid",
		Method:      datastore.MethodAcoustID,
	}

	// MusicBrainz enrichment is best effort; the AcoustID hit stands on
	// its own if the lookup fails.
	if rec, err := p.lookupRecording(recordingID); err != nil {
		p.log.Warn("musicbrainz lookup failed", "recording", recordingID, "error", err)
	} else {
		p.enrich(match, rec)
	}
	return match
}

func (p *AcoustIDProvider) lookupRecording(id string) (*mbRecording, error) {
	u := fmt.Sprintf("%s/%s?inc=isrcs+releases+artist-credits&fmt=json", p.mbURL, id)
	req, err := http.NewRequest(http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "SODAV-Monitor/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("musicbrainz status %d", resp.StatusCode).
			Category(errors.CategoryProvider).
			Build()
	}

	var rec mbRecording
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *AcoustIDProvider) enrich(match *Match, rec *mbRecording) {
	if rec.Title != "" {
		match.Title = rec.Title
	}
	if len(rec.ArtistCredit) > 0 && rec.ArtistCredit[0].Name != "" {
		match.Artist = rec.ArtistCredit[0].Name
	}
	for _, candidate := range rec.ISRCs {
		if normalized, err := isrc.Normalize(candidate); err == nil {
			match.ISRC = normalized
			break
		}
	}
	if len(rec.Releases) > 0 {
		release := rec.Releases[0]
		match.Album = release.Title
		match.ReleaseDate = release.Date
		if len(release.LabelInfo) > 0 {
			match.Label = release.LabelInfo[0].Label.Name
		}
	}
}

// newProviderLimiter builds the per-provider token bucket.
func newProviderLimiter(cfg conf.ProviderConfig) *rate.Limiter {
	limit := rate.Limit(cfg.RateLimit)
	if limit <= 0 {
		limit = rate.Limit(3)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}
