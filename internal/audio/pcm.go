package audio

import (
	"fmt"
	"time"
)

// FloatToPCM16 converts floating-point samples in [-1, 1] to signed 16-bit
// PCM with saturation. Values outside the representable range clamp to the
// nearest bound, never wrap.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		scaled := float64(s) * 32767.0
		switch {
		case scaled > 32767:
			out[i] = 32767
		case scaled < -32768:
			out[i] = -32768
		default:
			out[i] = int16(scaled)
		}
	}
	return out
}

// PCM16ToBytes encodes samples as little-endian 16-bit PCM, the layout the
// speech provider expects for linear16 audio.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToPCM16 decodes little-endian 16-bit PCM bytes into samples
func BytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm data length must be even, got %d bytes", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// PCM16BytesToFloat decodes little-endian 16-bit PCM bytes into
// floating-point samples in [-1, 1]
func PCM16BytesToFloat(data []byte) ([]float32, error) {
	samples, err := BytesToPCM16(data)
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}

// SamplesDuration returns the wall-clock duration of a sample count at the
// given rate
func SamplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}
