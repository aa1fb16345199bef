package myaudio

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"

	"github.com/sodav/monitor/internal/errors"
)

// DecodeWAVFile reads a PCM WAV file into mono float64 samples in [-1, 1].
// Multi-channel input is downmixed by averaging. Used by the one-shot file
// analysis command and by tests.
func DecodeWAVFile(path string) (samples []float64, sampleRate int, err error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, 0, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, errors.Newf("not a valid WAV file: %s", path).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, errors.New(fmt.Errorf("decoding WAV: %w", err)).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("path", path).
			Build()
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := decoder.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples = make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / scale
	}

	return samples, int(decoder.SampleRate), nil
}
