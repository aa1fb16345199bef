package myaudio

import "encoding/binary"

// s16leToFloat64 converts little-endian signed 16-bit PCM to float64
// samples in [-1, 1]. A trailing odd byte is ignored.
func s16leToFloat64(raw []byte) []float64 {
	n := len(raw) / bytesPerSample
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*bytesPerSample:]))
		samples[i] = float64(v) / 32768.0
	}
	return samples
}

// float64ToS16LE converts float64 samples in [-1, 1] to little-endian
// signed 16-bit PCM, clipping out-of-range values.
func float64ToS16LE(samples []float64) []byte {
	raw := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		v := int16(s * 32767.0)
		binary.LittleEndian.PutUint16(raw[i*bytesPerSample:], uint16(v))
	}
	return raw
}
