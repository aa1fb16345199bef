package myaudio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, path string, samples []float64, sampleRate, channels int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	data := make([]int, len(samples)*channels)
	for i, s := range samples {
		v := int(s * 32767)
		for c := 0; c < channels; c++ {
			data[i*channels+c] = v
		}
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestDecodeWAVFileRoundTrip(t *testing.T) {
	t.Parallel()

	const rate = 22050
	in := make([]float64, rate)
	for i := range in {
		in[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/rate)
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTestWAV(t, path, in, rate, 1)

	out, gotRate, err := DecodeWAVFile(path)
	require.NoError(t, err)
	assert.Equal(t, rate, gotRate)
	require.Len(t, out, len(in))
	for i := 0; i < len(in); i += 1000 {
		assert.InDelta(t, in[i], out[i], 0.001)
	}
}

func TestDecodeWAVFileDownmixesStereo(t *testing.T) {
	t.Parallel()

	const rate = 8000
	in := make([]float64, rate/2)
	for i := range in {
		in[i] = 0.25
	}

	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeTestWAV(t, path, in, rate, 2)

	out, _, err := DecodeWAVFile(path)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	assert.InDelta(t, 0.25, out[100], 0.001)
}

func TestDecodeWAVFileRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.wav")
	require.NoError(t, os.WriteFile(path, []byte("this is not audio"), 0o600))

	_, _, err := DecodeWAVFile(path)
	require.Error(t, err)
}

func TestDecodeWAVFileMissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := DecodeWAVFile(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
}
