// Package audio provides audio processing utilities.
//
// This package serves as an umbrella for audio-related sub-packages:
//
//   - pcm: PCM (Pulse Code Modulation) sample format handling
//   - wav: RIFF/WAVE encoding and decoding of 16-bit PCM
//   - resample: sample rate conversion
//
// Example usage:
//
//	import (
//	    "github.com/hearsay-ai/hearsay/pkg/audio/pcm"
//	    "github.com/hearsay-ai/hearsay/pkg/audio/wav"
//	)
//
//	format := pcm.L16Mono16K
//	data, err := wav.Marshal(format, samples)
package audio
