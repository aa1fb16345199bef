package supervisor

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Probe classifications.
const (
	// StatusAudio means the stream answered with an audio content type.
	StatusAudio = "audio"
	// StatusAvailable means the endpoint answered but did not identify
	// itself as audio, typically a playlist or landing page.
	StatusAvailable = "available"
	// StatusUnavailable means the endpoint did not answer usefully.
	StatusUnavailable = "unavailable"
)

const probeTimeout = 10 * time.Second

type prober struct {
	client *http.Client
}

func newProber() *prober {
	return &prober{client: &http.Client{Timeout: probeTimeout}}
}

// probe classifies a stream endpoint. HEAD first; servers that reject
// HEAD get a one-byte ranged GET instead, since Icecast mounts commonly
// answer 405 or 400 to HEAD.
func (p *prober) probe(ctx context.Context, url string) (string, time.Duration) {
	start := time.Now()

	resp, err := p.request(ctx, http.MethodHead, url)
	if err == nil && headRejected(resp.StatusCode) {
		_ = resp.Body.Close()
		resp, err = p.request(ctx, http.MethodGet, url)
	}
	latency := time.Since(start)

	if err != nil {
		return StatusUnavailable, latency
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusUnavailable, latency
	}
	if isAudioContent(resp.Header.Get("Content-Type")) {
		return StatusAudio, latency
	}
	return StatusAvailable, latency
}

func (p *prober) request(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	return p.client.Do(req)
}

func headRejected(status int) bool {
	return status == http.StatusMethodNotAllowed ||
		status == http.StatusNotImplemented ||
		status == http.StatusBadRequest
}

// isAudioContent mirrors the stream fetcher's MIME acceptance.
func isAudioContent(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.HasPrefix(ct, "audio/") || ct == "application/ogg"
}
