// Package wav encodes and decodes PCM16 WAV files.
//
// The engine uploads diarization batches as 16-bit mono WAV and reads
// recorded WAV files for pitch analysis. Only linear PCM at 16 bits per
// sample is supported; stereo input is downmixed to mono on decode.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hearsay-ai/hearsay/pkg/audio/pcm"
)

// ErrFormat is returned when a stream is not a PCM16 WAV file.
var ErrFormat = errors.New("wav: unsupported format")

const headerLen = 44

// Encode writes a PCM16 WAV file containing the given normalized samples.
// Multi-channel formats expect interleaved samples.
func Encode(w io.Writer, format pcm.Format, samples []float64) error {
	if !format.Valid() {
		return fmt.Errorf("wav: invalid format %v", format)
	}
	data := pcm.Float64ToBytes(samples)
	if len(data) > math.MaxUint32-headerLen {
		return fmt.Errorf("wav: data too large (%d bytes)", len(data))
	}

	var hdr [headerLen]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(data)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)  // linear PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(format.BytesRate()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(format.BlockAlign()))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(format.Depth()))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(data)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// Marshal returns a PCM16 WAV file as a byte slice.
func Marshal(format pcm.Format, samples []float64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(samples)*2)
	if err := Encode(&buf, format, samples); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a PCM16 WAV stream and returns its samples downmixed to
// mono, along with the source format (which retains the original channel
// count). Chunks other than "fmt " and "data" are skipped.
func Decode(r io.Reader) ([]float64, pcm.Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, pcm.Format{}, fmt.Errorf("wav: read header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, pcm.Format{}, ErrFormat
	}

	var (
		format  pcm.Format
		haveFmt bool
		data    []byte
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, pcm.Format{}, fmt.Errorf("wav: read chunk: %w", err)
		}
		id := string(ch[0:4])
		size := binary.LittleEndian.Uint32(ch[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, pcm.Format{}, ErrFormat
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, pcm.Format{}, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			rate := binary.LittleEndian.Uint32(body[4:8])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != 1 || bits != 16 || channels == 0 || rate == 0 {
				return nil, pcm.Format{}, ErrFormat
			}
			format = pcm.Format{SampleRate: int(rate), Channels: int(channels)}
			haveFmt = true
		case "data":
			body := make([]byte, size)
			n, err := io.ReadFull(r, body)
			if err != nil && err != io.ErrUnexpectedEOF {
				return nil, pcm.Format{}, fmt.Errorf("wav: read data chunk: %w", err)
			}
			// Tolerate a short final chunk: some recorders write the
			// header before the stream is finished.
			data = body[:n]
		default:
			// Chunks are word-aligned; skip the pad byte on odd sizes.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				if err == io.EOF {
					break
				}
				return nil, pcm.Format{}, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
		}
		if haveFmt && data != nil {
			break
		}
	}

	if !haveFmt || data == nil {
		return nil, pcm.Format{}, ErrFormat
	}
	samples := pcm.DownmixToMono(pcm.BytesToFloat64(data), format.Channels)
	return samples, format, nil
}

// Unmarshal decodes a PCM16 WAV file from a byte slice.
func Unmarshal(b []byte) ([]float64, pcm.Format, error) {
	return Decode(bytes.NewReader(b))
}
