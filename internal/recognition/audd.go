package recognition

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/datastore"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/identity/isrc"
	"github.com/sodav/monitor/internal/logging"
	"github.com/sodav/monitor/internal/observability"
)

const auddAPIURL = "https://api.audd.io/"

// auddConfidence is reported for AudD hits. The API returns no score, and
// its matches are effectively exact.
const auddConfidence = 0.9

// AudDProvider posts the raw window audio to the AudD recognition API.
type AudDProvider struct {
	cfg        conf.ProviderConfig
	maxRetries int
	backoff    time.Duration
	client     *http.Client
	limiter    *rate.Limiter
	apiURL     string
	metrics    *observability.Metrics
	log        *slog.Logger
}

// NewAudD builds the provider from settings. metrics may be nil.
func NewAudD(settings *conf.Settings, metrics *observability.Metrics) *AudDProvider {
	p := &settings.Providers
	return &AudDProvider{
		cfg:        p.AudD,
		maxRetries: p.MaxRetries,
		backoff:    time.Second,
		client:     &http.Client{Timeout: p.GetRequestTimeout()},
		limiter:    newProviderLimiter(p.AudD),
		apiURL:     auddAPIURL,
		metrics:    metrics,
		log:        logging.ForService("audd"),
	}
}

func (p *AudDProvider) onRetry() {
	if p.metrics != nil {
		p.metrics.ProviderRetries.WithLabelValues(p.Name()).Inc()
	}
}

func (p *AudDProvider) Name() string { return "audd" }

// Enabled reports whether the provider has a key and is switched on.
func (p *AudDProvider) Enabled() bool {
	return p.cfg.Enabled && p.cfg.APIKey != ""
}

type auddResponse struct {
	Status string `json:"status"`
	Error  struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"error"`
	Result *struct {
		Title       string `json:"title"`
		Artist      string `json:"artist"`
		Album       string `json:"album"`
		Label       string `json:"label"`
		ReleaseDate string `json:"release_date"`
		ISRC        string `json:"isrc"`
		AppleMusic  struct {
			ISRC string `json:"isrc"`
		} `json:"apple_music"`
		Spotify struct {
			ExternalIDs struct {
				ISRC string `json:"isrc"`
			} `json:"external_ids"`
		} `json:"spotify"`
		Deezer struct {
			ISRC string `json:"isrc"`
		} `json:"deezer"`
	} `json:"result"`
}

// auddBadAPIToken is the AudD error code for a rejected api_token.
const auddBadAPIToken = 900

// Recognize posts the window as a WAV file and parses the result
// envelope. A success status with a null result means no match.
func (p *AudDProvider) Recognize(ctx context.Context, sample *Sample) (*Match, error) {
	if len(sample.PCM) == 0 {
		return nil, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	audio := wavBytes(sample.PCM, sample.SampleRate)

	resp, err := doWithRetry(ctx, p.client, func() (*http.Request, error) {
		return p.newRequest(audio)
	}, p.maxRetries, p.backoff, p.onRetry, p.log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.New(fmt.Errorf("%w: audd rejected credentials (%d)", ErrProviderPermanent, resp.StatusCode)).
			Component("recognition").
			Category(errors.CategoryProvider).
			Build()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("audd status %d", resp.StatusCode).
			Component("recognition").
			Category(errors.CategoryProvider).
			Build()
	}

	var parsed auddResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, errors.New(fmt.Errorf("%w: decoding audd response: %w", ErrProviderPermanent, err)).
			Component("recognition").
			Category(errors.CategoryProvider).
			Build()
	}

	if parsed.Status != "success" {
		if parsed.Error.ErrorCode == auddBadAPIToken {
			return nil, errors.New(fmt.Errorf("%w: audd: %s", ErrProviderPermanent, parsed.Error.ErrorMessage)).
				Component("recognition").
				Category(errors.CategoryProvider).
				Build()
		}
		return nil, errors.Newf("audd error %d: %s", parsed.Error.ErrorCode, parsed.Error.ErrorMessage).
			Component("recognition").
			Category(errors.CategoryProvider).
			Build()
	}
	if parsed.Result == nil || parsed.Result.Title == "" {
		return nil, nil
	}

	r := parsed.Result
	return &Match{
		Title:       r.Title,
		Artist:      r.Artist,
		Album:       r.Album,
		Label:       r.Label,
		ReleaseDate: r.ReleaseDate,
		ISRC:        firstValidISRC(r.ISRC, r.AppleMusic.ISRC, r.Spotify.ExternalIDs.ISRC, r.Deezer.ISRC),
		Fingerprint: sample.Fingerprint,
		Confidence:  auddConfidence,
		Source:      "audd",
		Method:      datastore.MethodAudD,
	}, nil
}

func (p *AudDProvider) newRequest(audio []byte) (*http.Request, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("api_token", p.cfg.APIKey); err != nil {
		return nil, err
	}
	if err := w.WriteField("return", "apple_music,spotify,deezer"); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("file", "window.wav")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, p.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

// firstValidISRC returns the first candidate that normalizes to a valid
// ISRC, or "".
func firstValidISRC(candidates ...string) string {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if normalized, err := isrc.Normalize(c); err == nil {
			return normalized
		}
	}
	return ""
}

// wavBytes wraps mono float64 PCM in a 16-bit little-endian WAV container.
// Written by hand because the go-audio encoder needs a WriteSeeker.
func wavBytes(pcm []float64, sampleRate int) []byte {
	dataLen := len(pcm) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range pcm {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		_ = binary.Write(buf, binary.LittleEndian, int16(s*32767))
	}
	return buf.Bytes()
}
