// Package myaudio acquires live station streams and turns them into fixed
// size PCM analysis windows.
package myaudio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/logging"
)

// Sentinel errors surfaced to the supervisor.
var (
	// ErrStreamUnavailable means the endpoint could not be opened: network
	// failure, non-2xx response or a non-audio content type.
	ErrStreamUnavailable = errors.NewStd("stream unavailable")

	// ErrStreamDropped means an open stream stopped delivering data. The
	// fetcher performs no retries; reopening is the supervisor's call.
	ErrStreamDropped = errors.NewStd("stream dropped")
)

const (
	// bytesPerSample is the width of one s16le sample.
	bytesPerSample = 2

	// readPollInterval is how often ReadWindow polls the ring buffer when
	// it runs dry.
	readPollInterval = 50 * time.Millisecond

	// bufferSeconds sizes the PCM ring buffer; enough to absorb one full
	// analysis window of decoder jitter on top of the window being read.
	bufferSeconds = 60
)

var serviceLogger *slog.Logger
var loggerOnce sync.Once

func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logging.ForService("myaudio")
	})
	return serviceLogger
}

// StreamConfig carries the decode parameters for one station stream.
type StreamConfig struct {
	StationName string
	URL         string
	SampleRate  int
	Window      time.Duration
	FfmpegPath  string
}

// Window is one fixed-size analysis window of mono PCM in [-1, 1] together
// with the wall-clock time its first sample was captured.
type Window struct {
	PCM      []float64
	Captured time.Time
}

// AudioStream yields analysis windows from a single open station stream.
type AudioStream struct {
	cfg           StreamConfig
	rb            *ringbuffer.RingBuffer
	windowSamples int

	cancel  context.CancelFunc
	done    chan struct{}
	termErr atomic.Value // error that terminated the decode loop

	closeOnce sync.Once
	closers   []io.Closer
}

// Open connects to the station stream, verifies it serves audio, and starts
// the decode pipeline. The fetcher itself never retries.
func Open(ctx context.Context, cfg StreamConfig) (*AudioStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, http.NoBody)
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrStreamUnavailable, err)).
			Component("myaudio").
			Category(errors.CategoryStream).
			Context("station", cfg.StationName).
			Build()
	}
	req.Header.Set("User-Agent", "SODAV-Monitor/1.0")
	req.Header.Set("Icy-MetaData", "0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrStreamUnavailable, err)).
			Component("myaudio").
			Category(errors.CategoryStream).
			Context("station", cfg.StationName).
			Build()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, errors.New(fmt.Errorf("%w: status %d", ErrStreamUnavailable, resp.StatusCode)).
			Component("myaudio").
			Category(errors.CategoryStream).
			Context("station", cfg.StationName).
			Context("status", resp.StatusCode).
			Build()
	}
	if ct := resp.Header.Get("Content-Type"); !isAudioMIME(ct) {
		_ = resp.Body.Close()
		return nil, errors.New(fmt.Errorf("%w: content type %q", ErrStreamUnavailable, ct)).
			Component("myaudio").
			Category(errors.CategoryStream).
			Context("station", cfg.StationName).
			Context("content_type", ct).
			Build()
	}

	decodeCtx, cancel := context.WithCancel(context.Background())
	decoded, cmdCloser, err := startFFmpegDecoder(decodeCtx, cfg, resp.Body)
	if err != nil {
		cancel()
		_ = resp.Body.Close()
		return nil, err
	}

	s := newStream(cfg, decoded)
	s.cancel = cancel
	s.closers = append(s.closers, resp.Body, cmdCloser)
	return s, nil
}

// newStream wires a raw s16le PCM reader into the window machinery. Tests
// use it directly with synthetic PCM.
func newStream(cfg StreamConfig, pcm io.Reader) *AudioStream {
	s := &AudioStream{
		cfg:           cfg,
		rb:            ringbuffer.New(cfg.SampleRate * bytesPerSample * bufferSeconds),
		windowSamples: int(cfg.Window.Seconds() * float64(cfg.SampleRate)),
		done:          make(chan struct{}),
	}
	if s.cancel == nil {
		s.cancel = func() {}
	}
	go s.fill(pcm)
	return s
}

// fill copies decoded PCM into the ring buffer until the source ends.
func (s *AudioStream) fill(pcm io.Reader) {
	defer close(s.done)

	buf := make([]byte, 8192)
	scratch := make([]byte, 8192)
	for {
		n, err := pcm.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for len(chunk) > 0 {
				written, werr := s.rb.Write(chunk)
				chunk = chunk[written:]
				if werr != nil {
					// Buffer full: the consumer fell behind, drop the
					// oldest PCM to keep capture timestamps honest.
					if _, rerr := s.rb.Read(scratch); rerr != nil {
						time.Sleep(readPollInterval)
					}
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				getLogger().Warn("stream decode ended",
					"station", s.cfg.StationName, "error", err)
			}
			s.termErr.Store(fmt.Errorf("%w: %v", ErrStreamDropped, err))
			return
		}
	}
}

// ReadWindow blocks until one full analysis window is available, the stream
// drops, or ctx is done.
func (s *AudioStream) ReadWindow(ctx context.Context) (*Window, error) {
	wanted := s.windowSamples * bytesPerSample
	raw := make([]byte, wanted)
	filled := 0
	var captured time.Time

	for filled < wanted {
		n, err := s.rb.Read(raw[filled:])
		if n > 0 {
			if filled == 0 {
				captured = time.Now()
			}
			filled += n
		}
		if filled >= wanted {
			break
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return nil, s.dropError(err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			// Drain whatever the decoder left behind before reporting the
			// drop, so a final partial window is not silently lost.
			if n, _ := s.rb.Read(raw[filled:]); n > 0 {
				filled += n
				continue
			}
			if filled == wanted {
				break
			}
			return nil, s.dropError(nil)
		case <-time.After(readPollInterval):
		}
	}

	return &Window{PCM: s16leToFloat64(raw[:filled]), Captured: captured}, nil
}

func (s *AudioStream) dropError(cause error) error {
	if stored, ok := s.termErr.Load().(error); ok && stored != nil {
		cause = stored
	} else if cause == nil {
		cause = ErrStreamDropped
	}
	return errors.New(cause).
		Component("myaudio").
		Category(errors.CategoryStream).
		Context("station", s.cfg.StationName).
		Build()
}

// Close tears the stream down. Safe to call more than once.
func (s *AudioStream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		for _, c := range s.closers {
			_ = c.Close()
		}
	})
}

// isAudioMIME reports whether the content type is an audio stream the
// decoder accepts. Icecast commonly serves audio/mpeg, audio/aac and
// audio/aacp; some stations serve Ogg under application/ogg.
func isAudioMIME(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.HasPrefix(ct, "audio/") || ct == "application/ogg"
}
