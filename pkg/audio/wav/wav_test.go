package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/hearsay-ai/hearsay/pkg/audio/pcm"
)

func sine(freq float64, rate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.8 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	format := pcm.L16Mono16K
	samples := sine(440, format.SampleRate, 1600)

	data, err := Marshal(format, samples)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if len(data) != 44+len(samples)*2 {
		t.Fatalf("encoded %d bytes, want %d", len(data), 44+len(samples)*2)
	}

	got, gotFormat, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if gotFormat != format {
		t.Errorf("format = %v, want %v", gotFormat, format)
	}
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}
	// Quantization plus the 32767/32768 scale mismatch bounds the
	// round-trip error by (|v|+1)/32768 per sample.
	for i := range samples {
		if math.Abs(got[i]-samples[i]) > 2.0/32768 {
			t.Fatalf("sample %d: got %f, want %f", i, got[i], samples[i])
		}
	}
}

func TestDecode_StereoDownmix(t *testing.T) {
	format := pcm.Format{SampleRate: 44100, Channels: 2}
	// Interleaved L/R frames: (1, 0), (0.5, -0.5), (0, 0).
	samples := []float64{1, 0, 0.5, -0.5, 0, 0}

	data, err := Marshal(format, samples)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	got, gotFormat, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if gotFormat.Channels != 2 || gotFormat.SampleRate != 44100 {
		t.Errorf("format = %v", gotFormat)
	}
	want := []float64{0.5, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1.0/16384 {
			t.Errorf("frame %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestDecode_SkipsExtraChunks(t *testing.T) {
	format := pcm.L16Mono16K
	samples := []float64{0.1, -0.1, 0.2}
	body := pcm.Float64ToBytes(samples)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	sizeAt := buf.Len()
	buf.Write(make([]byte, 4))
	buf.WriteString("WAVE")

	// LIST chunk with odd size to exercise word alignment.
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{'I', 'N', 'F', 0}) // 3 bytes + pad

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(format.BytesRate()))
	binary.Write(&buf, binary.LittleEndian, uint16(format.BlockAlign()))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(body)))
	buf.Write(body)

	raw := buf.Bytes()
	binary.LittleEndian.PutUint32(raw[sizeAt:], uint32(len(raw)-8))

	got, gotFormat, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if gotFormat != format {
		t.Errorf("format = %v, want %v", gotFormat, format)
	}
	if len(got) != len(samples) {
		t.Errorf("decoded %d samples, want %d", len(got), len(samples))
	}
}

func TestDecode_BadMagic(t *testing.T) {
	_, _, err := Unmarshal([]byte("OggS\x00\x00\x00\x00vorbis__"))
	if !errors.Is(err, ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestDecode_Truncated(t *testing.T) {
	_, _, err := Unmarshal([]byte("RIFF"))
	if err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestDecode_RejectsNonPCM16(t *testing.T) {
	format := pcm.L16Mono16K
	data, err := Marshal(format, []float64{0, 0})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	// Rewrite BitsPerSample to 8.
	binary.LittleEndian.PutUint16(data[34:36], 8)

	_, _, err = Unmarshal(data)
	if !errors.Is(err, ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestDecode_ShortDataChunk(t *testing.T) {
	format := pcm.L16Mono16K
	data, err := Marshal(format, sine(200, format.SampleRate, 100))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	// Drop the last 20 bytes without fixing the declared size.
	got, _, err := Unmarshal(data[:len(data)-20])
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if len(got) != 90 {
		t.Errorf("decoded %d samples, want 90", len(got))
	}
}

func TestEncode_InvalidFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, pcm.Format{}, nil); err == nil {
		t.Error("expected error for invalid format")
	}
}
