package myaudio

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sodav/monitor/internal/errors"
)

func TestS16LERoundTrip(t *testing.T) {
	t.Parallel()

	in := []float64{0, 0.5, -0.5, 0.999, -1}
	out := s16leToFloat64(float64ToS16LE(in))
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1.0/32768.0*2)
	}
}

func TestFloat64ToS16LEClipsOutOfRange(t *testing.T) {
	t.Parallel()

	out := s16leToFloat64(float64ToS16LE([]float64{2.0, -2.0}))
	assert.InDelta(t, 1.0, out[0], 0.001)
	assert.InDelta(t, -1.0, out[1], 0.001)
}

func TestIsAudioMIME(t *testing.T) {
	t.Parallel()

	assert.True(t, isAudioMIME("audio/mpeg"))
	assert.True(t, isAudioMIME("audio/aacp"))
	assert.True(t, isAudioMIME("Audio/WAV; charset=binary"))
	assert.True(t, isAudioMIME("application/ogg"))
	assert.False(t, isAudioMIME("text/html"))
	assert.False(t, isAudioMIME("application/json"))
	assert.False(t, isAudioMIME(""))
}

func TestOpenRejectsNonAudioContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not a stream</html>"))
	}))
	defer srv.Close()

	_, err := Open(context.Background(), StreamConfig{StationName: "test", URL: srv.URL, SampleRate: 44100, Window: time.Second})
	require.ErrorIs(t, err, ErrStreamUnavailable)
}

func TestOpenRejectsNon2xxStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), StreamConfig{StationName: "test", URL: srv.URL, SampleRate: 44100, Window: time.Second})
	require.ErrorIs(t, err, ErrStreamUnavailable)
}

func TestOpenRejectsUnreachableEndpoint(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), StreamConfig{StationName: "test", URL: "http://127.0.0.1:1/stream", SampleRate: 44100, Window: time.Second})
	require.ErrorIs(t, err, ErrStreamUnavailable)
}

// sineReader produces an endless s16le sine tone.
type sineReader struct {
	freq  float64
	rate  int
	phase int
}

func (sr *sineReader) Read(p []byte) (int, error) {
	n := len(p) / bytesPerSample
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*sr.freq*float64(sr.phase+i)/float64(sr.rate))
	}
	sr.phase += n
	copy(p, float64ToS16LE(samples))
	return n * bytesPerSample, nil
}

func TestReadWindowDeliversFullWindow(t *testing.T) {
	t.Parallel()

	const rate = 8000
	s := newStream(StreamConfig{StationName: "test", SampleRate: rate, Window: time.Second},
		io.NopCloser(&sineReader{freq: 440, rate: rate}))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := s.ReadWindow(ctx)
	require.NoError(t, err)
	assert.Len(t, w.PCM, rate)
	assert.False(t, w.Captured.IsZero())

	// Samples stay within [-1, 1] and are not silence.
	var peak float64
	for _, v := range w.PCM {
		require.LessOrEqual(t, math.Abs(v), 1.0)
		if math.Abs(v) > peak {
			peak = math.Abs(v)
		}
	}
	assert.Greater(t, peak, 0.4)
}

func TestReadWindowReportsDropOnEOF(t *testing.T) {
	t.Parallel()

	const rate = 8000
	// Half a window of PCM, then EOF.
	short := float64ToS16LE(make([]float64, rate/2))
	s := newStream(StreamConfig{StationName: "test", SampleRate: rate, Window: time.Second},
		&limitedReader{data: short})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.ReadWindow(ctx)
	require.ErrorIs(t, err, ErrStreamDropped)
	assert.True(t, errors.IsCategory(err, errors.CategoryStream))
}

func TestReadWindowHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	const rate = 8000
	// A reader that never delivers anything.
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	s := newStream(StreamConfig{StationName: "test", SampleRate: rate, Window: time.Second}, pr)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.ReadWindow(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type limitedReader struct {
	data []byte
	pos  int
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if lr.pos >= len(lr.data) {
		return 0, io.EOF
	}
	n := copy(p, lr.data[lr.pos:])
	lr.pos += n
	return n, nil
}
