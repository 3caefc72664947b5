package pcm

import "encoding/binary"

// Int16ToFloat64 converts int16 samples to normalized float64 in [-1, 1).
func Int16ToFloat64(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}

// Float64ToInt16 converts normalized float64 samples to int16, clamping to
// the representable range.
func Float64ToInt16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		scaled := v * 32767.0
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		out[i] = int16(scaled)
	}
	return out
}

// BytesToFloat64 decodes little-endian L16 bytes into normalized float64
// samples. A trailing odd byte is ignored.
func BytesToFloat64(b []byte) []float64 {
	n := len(b) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(b[i*2:]))
		out[i] = float64(s) / 32768.0
	}
	return out
}

// Float64ToBytes encodes normalized float64 samples as little-endian L16
// bytes, clamping to the representable range.
func Float64ToBytes(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		scaled := v * 32767.0
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(scaled)))
	}
	return out
}

// Float32ToFloat64 widens float32 samples to float64.
func Float32ToFloat64(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}

// Float64ToFloat32 narrows float64 samples to float32.
func Float64ToFloat32(samples []float64) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s)
	}
	return out
}

// DownmixToMono averages interleaved multi-channel samples into mono.
// For channels <= 1 the input is returned unchanged.
func DownmixToMono(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}
