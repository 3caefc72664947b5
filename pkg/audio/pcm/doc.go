// Package pcm provides types and utilities for working with PCM (Pulse Code Modulation) audio data.
//
// The package defines audio formats (16-bit linear at arbitrary sample rates)
// and conversions between the sample representations used across the engine:
// little-endian L16 bytes, int16 samples, and normalized float samples.
//
// Key types:
//   - Format: Represents audio format (sample rate, channels, 16-bit depth)
//
// Example usage:
//
//	// A 16kHz mono format
//	format := pcm.L16Mono16K
//
//	// Calculate bytes needed for 20ms of audio
//	bytes := format.BytesInDuration(20 * time.Millisecond)
//
//	// Decode raw L16 bytes into normalized samples
//	samples := pcm.BytesToFloat64(raw)
package pcm
