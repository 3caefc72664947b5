package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearsay-ai/hearsay/pkg/audio/pcm"
	"github.com/hearsay-ai/hearsay/pkg/audio/wav"
	"github.com/hearsay-ai/hearsay/pkg/diarize"
	"github.com/hearsay-ai/hearsay/pkg/jsontime"
	"github.com/hearsay-ai/hearsay/pkg/profile"
	"github.com/hearsay-ai/hearsay/pkg/session"
	"github.com/hearsay-ai/hearsay/pkg/storage"
)

// fakeProvider scripts diarization responses and records requests.
type fakeProvider struct {
	mu    sync.Mutex
	reqs  []diarize.Request
	utts  []diarize.Utterance
	err   error
	delay time.Duration
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Diarize(ctx context.Context, req diarize.Request) ([]diarize.Utterance, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	utts, err, delay := f.utts, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return utts, nil
}

func (f *fakeProvider) set(utts []diarize.Utterance, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utts, f.err = utts, err
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeProvider) request(i int) diarize.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[i]
}

// sinePCM renders a voiced test tone as PCM16 bytes.
func sinePCM(freq float64, rate int, d time.Duration) []byte {
	n := int(float64(rate) * d.Seconds())
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.6 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return pcm.Float64ToBytes(samples)
}

// silencePCM renders audio no pitch can be extracted from.
func silencePCM(rate int, d time.Duration) []byte {
	return make([]byte, int(float64(rate)*d.Seconds())*2)
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func waitEvent(t *testing.T, eng *Engine) Event {
	t.Helper()
	select {
	case ev, ok := <-eng.Events():
		if !ok {
			t.Fatal("event channel closed while waiting")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch event")
	}
	return nil
}

func assertNoEvent(t *testing.T, eng *Engine, d time.Duration) {
	t.Helper()
	select {
	case ev := <-eng.Events():
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(d):
	}
}

func countProfiles(t *testing.T, store profile.Store) int {
	t.Helper()
	n := 0
	for _, err := range store.List(context.Background()) {
		if err != nil {
			t.Fatalf("list profiles: %v", err)
		}
		n++
	}
	return n
}

func TestEngineResolvesSpeakers(t *testing.T) {
	// Timestamps near the present keep the batch window from firing on
	// its own; every flush in these tests is explicit.
	t0 := time.Now()
	transcript := session.NewMemoryTranscript()
	transcript.Append(session.Entry{
		Timestamp: jsontime.FromUnixMilli(t0.UnixMilli()),
		Text:      "hello there everyone",
		Source:    session.SourceSystem,
	})
	transcript.Append(session.Entry{
		Timestamp: jsontime.FromUnixMilli(t0.Add(time.Second).UnixMilli()),
		Text:      "glad to be here",
		Source:    session.SourceSystem,
	})

	provider := &fakeProvider{utts: []diarize.Utterance{
		{Speaker: "A", Text: "hello there everyone", StartMS: 10, EndMS: 450, Confidence: 0.9},
		{Speaker: "B", Text: "glad to be here", StartMS: 520, EndMS: 970, Confidence: 0.9},
	}}
	profiles := profile.NewMemoryStore()
	eng := newTestEngine(t, Config{Provider: provider, Profiles: profiles, Transcript: transcript})

	eng.AddSegment(sinePCM(150, 16000, 500*time.Millisecond), 16000, t0, "e1")
	eng.AddSegment(sinePCM(300, 16000, 500*time.Millisecond), 16000, t0.Add(time.Second), "e2")
	eng.Flush()

	ev := waitEvent(t, eng)
	done, ok := ev.(BatchCompleted)
	if !ok {
		t.Fatalf("event = %#v, want BatchCompleted", ev)
	}
	if done.SpeakerCount != 2 || done.Utterances != 2 {
		t.Fatalf("BatchCompleted = %+v, want 2 speakers, 2 utterances", done)
	}

	entries := transcript.Entries()
	for i, e := range entries {
		if e.Speaker.State != session.StateResolved {
			t.Fatalf("entry %d state = %v, want resolved", i, e.Speaker.State)
		}
		if e.Speaker.Confirmed {
			t.Fatalf("entry %d should not be confirmed", i)
		}
		if e.Speaker.Confidence <= 0 {
			t.Fatalf("entry %d confidence = %v, want > 0", i, e.Speaker.Confidence)
		}
	}
	if entries[0].Speaker.SpeakerID == entries[1].Speaker.SpeakerID {
		t.Fatal("distinct voices resolved to the same speaker")
	}
	if got := entries[0].Speaker.Label; got != "Speaker 1 (Unnamed)" {
		t.Fatalf("entry 0 label = %q", got)
	}
	if got := entries[1].Speaker.Label; got != "Speaker 2 (Unnamed)" {
		t.Fatalf("entry 1 label = %q", got)
	}

	if n := countProfiles(t, profiles); n != 2 {
		t.Fatalf("profile count = %d, want 2", n)
	}
	p, err := profiles.Get(context.Background(), entries[0].Speaker.SpeakerID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.Name != "Speaker 1 (Unnamed)" || p.Color != profile.Palette[0] {
		t.Fatalf("profile = %q/%q", p.Name, p.Color)
	}
	if p.BatchID != done.BatchID {
		t.Fatalf("profile batch = %q, want %q", p.BatchID, done.BatchID)
	}
	if p.SampleText != "hello there everyone" {
		t.Fatalf("sample text = %q", p.SampleText)
	}
	if p.Pitch == nil || p.Pitch.SampleCount != 1 {
		t.Fatalf("profile pitch = %+v, want one sample", p.Pitch)
	}

	if n := eng.Registry().Count(); n != 2 {
		t.Fatalf("registry identities = %d, want 2", n)
	}
}

func TestEngineReusesProfileAcrossBatches(t *testing.T) {
	t0 := time.Now()
	t1 := t0.Add(time.Minute)
	voice := sinePCM(150, 16000, 500*time.Millisecond)

	transcript := session.NewMemoryTranscript()
	transcript.Append(session.Entry{
		Timestamp: jsontime.FromUnixMilli(t0.UnixMilli()),
		Text:      "the first point",
		Source:    session.SourceSystem,
	})
	transcript.Append(session.Entry{
		Timestamp: jsontime.FromUnixMilli(t1.UnixMilli()),
		Text:      "the second point",
		Source:    session.SourceSystem,
	})

	provider := &fakeProvider{utts: []diarize.Utterance{
		{Speaker: "A", Text: "the first point", StartMS: 10, EndMS: 450},
	}}
	profiles := profile.NewMemoryStore()
	eng := newTestEngine(t, Config{Provider: provider, Profiles: profiles, Transcript: transcript})

	eng.AddSegment(voice, 16000, t0, "")
	eng.Flush()
	waitEvent(t, eng)

	// Same voice a minute later, fresh batch-local label.
	provider.set([]diarize.Utterance{
		{Speaker: "A", Text: "the second point", StartMS: 10, EndMS: 450},
	}, nil)
	eng.AddSegment(voice, 16000, t1, "")
	eng.Flush()
	waitEvent(t, eng)

	if n := countProfiles(t, profiles); n != 1 {
		t.Fatalf("profile count = %d, want 1 reused profile", n)
	}
	entries := transcript.Entries()
	if entries[0].Speaker.SpeakerID != entries[1].Speaker.SpeakerID {
		t.Fatal("same voice resolved to different speakers across batches")
	}
	if entries[1].Speaker.Confidence < 0.99 {
		t.Fatalf("rematch confidence = %v, want ~1", entries[1].Speaker.Confidence)
	}

	p, err := profiles.Get(context.Background(), entries[0].Speaker.SpeakerID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.Pitch.SampleCount != 2 {
		t.Fatalf("pitch samples = %d, want 2 after merge", p.Pitch.SampleCount)
	}
	if n := eng.Registry().Count(); n != 1 {
		t.Fatalf("registry identities = %d, want 1", n)
	}
}

func TestEngineFallsBackOnPitchFailure(t *testing.T) {
	t0 := time.Now()
	transcript := session.NewMemoryTranscript()
	transcript.Append(session.Entry{
		Timestamp: jsontime.FromUnixMilli(t0.UnixMilli()),
		Text:      "we should start",
		Source:    session.SourceSystem,
	})
	transcript.Append(session.Entry{
		Timestamp: jsontime.FromUnixMilli(t0.Add(500 * time.Millisecond).UnixMilli()),
		Text:      "agreed, go ahead",
		Source:    session.SourceSystem,
	})

	provider := &fakeProvider{utts: []diarize.Utterance{
		{Speaker: "A", Text: "we should start", StartMS: 10, EndMS: 150},
		{Speaker: "B", Text: "agreed, go ahead", StartMS: 210, EndMS: 350},
	}}
	profiles := profile.NewMemoryStore()
	eng := newTestEngine(t, Config{Provider: provider, Profiles: profiles, Transcript: transcript})

	eng.AddSegment(silencePCM(16000, 200*time.Millisecond), 16000, t0, "")
	eng.AddSegment(silencePCM(16000, 200*time.Millisecond), 16000, t0.Add(500*time.Millisecond), "")
	eng.Flush()

	ev := waitEvent(t, eng)
	done, ok := ev.(BatchCompleted)
	if !ok {
		t.Fatalf("event = %#v, want BatchCompleted despite pitch failures", ev)
	}
	if done.SpeakerCount != 2 {
		t.Fatalf("speaker count = %d, want 2", done.SpeakerCount)
	}

	entries := transcript.Entries()
	if got := entries[0].Speaker.SpeakerID; got != "speaker_1" {
		t.Fatalf("entry 0 speaker = %q, want speaker_1", got)
	}
	if got := entries[1].Speaker.SpeakerID; got != "speaker_2" {
		t.Fatalf("entry 1 speaker = %q, want speaker_2", got)
	}
	if entries[0].Speaker.State != session.StateResolved {
		t.Fatalf("fallback assignment state = %v", entries[0].Speaker.State)
	}

	// No profile is persisted for a voice that could not be fingerprinted.
	if n := countProfiles(t, profiles); n != 0 {
		t.Fatalf("profile count = %d, want 0", n)
	}
	if _, ok := eng.Registry().Identity("speaker_1"); !ok {
		t.Fatal("fallback identity missing from registry")
	}
}

func TestEngineFingerprintsLongestUtterance(t *testing.T) {
	t0 := time.Now()
	provider := &fakeProvider{utts: []diarize.Utterance{
		// The short aside lands on the silent segment; the long one on
		// the voiced segment. Only the long one should be fingerprinted.
		{Speaker: "A", Text: "a quick aside", StartMS: 510, EndMS: 690},
		{Speaker: "A", Text: "the main explanation of the plan", StartMS: 20, EndMS: 480},
	}}
	profiles := profile.NewMemoryStore()
	eng := newTestEngine(t, Config{
		Provider:   provider,
		Profiles:   profiles,
		Transcript: session.NewMemoryTranscript(),
	})

	eng.AddSegment(sinePCM(150, 16000, 500*time.Millisecond), 16000, t0, "")
	eng.AddSegment(silencePCM(16000, 200*time.Millisecond), 16000, t0.Add(600*time.Millisecond), "")
	eng.Flush()

	ev := waitEvent(t, eng)
	done, ok := ev.(BatchCompleted)
	if !ok {
		t.Fatalf("event = %#v, want BatchCompleted", ev)
	}
	if done.SpeakerCount != 1 {
		t.Fatalf("speaker count = %d, want 1", done.SpeakerCount)
	}
	if n := countProfiles(t, profiles); n != 1 {
		t.Fatalf("profile count = %d, want 1 from the voiced segment", n)
	}
}

func TestEngineDropsBatchWhileBusy(t *testing.T) {
	t0 := time.Now()
	provider := &fakeProvider{
		delay: 200 * time.Millisecond,
		utts:  []diarize.Utterance{{Speaker: "A", Text: "hi", StartMS: 10, EndMS: 290}},
	}
	eng := newTestEngine(t, Config{
		Provider:   provider,
		Profiles:   profile.NewMemoryStore(),
		Transcript: session.NewMemoryTranscript(),
	})

	eng.AddSegment(sinePCM(150, 16000, 300*time.Millisecond), 16000, t0, "")
	eng.Flush()

	// Due while the first batch is still at the provider: dropped.
	eng.AddSegment(sinePCM(150, 16000, 300*time.Millisecond), 16000, t0.Add(time.Second), "")
	eng.Flush()

	if _, ok := waitEvent(t, eng).(BatchCompleted); !ok {
		t.Fatal("first batch should complete")
	}
	assertNoEvent(t, eng, 300*time.Millisecond)
	if n := provider.calls(); n != 1 {
		t.Fatalf("provider calls = %d, want 1 after drop", n)
	}
	if n := eng.Buffered(); n != 0 {
		t.Fatalf("buffered segments = %d, want 0", n)
	}
}

func TestEngineQueuesLatestBatch(t *testing.T) {
	t0 := time.Now()
	provider := &fakeProvider{
		delay: 150 * time.Millisecond,
		utts:  []diarize.Utterance{{Speaker: "A", Text: "hi", StartMS: 10, EndMS: 290}},
	}
	eng := newTestEngine(t, Config{
		Provider:   provider,
		Profiles:   profile.NewMemoryStore(),
		Transcript: session.NewMemoryTranscript(),
		Params:     Params{Overflow: OverflowQueueLatest},
	})

	eng.AddSegment(sinePCM(150, 16000, 500*time.Millisecond), 16000, t0, "")
	eng.Flush()

	// Queued behind the in-flight batch, then replaced by the next one.
	eng.AddSegment(sinePCM(150, 16000, 300*time.Millisecond), 16000, t0.Add(time.Second), "")
	eng.Flush()
	eng.AddSegment(sinePCM(150, 16000, 600*time.Millisecond), 16000, t0.Add(2*time.Second), "")
	eng.Flush()

	waitEvent(t, eng)
	waitEvent(t, eng)
	assertNoEvent(t, eng, 300*time.Millisecond)

	if n := provider.calls(); n != 2 {
		t.Fatalf("provider calls = %d, want 2", n)
	}
	// 0.6s at 16kHz mono PCM16 plus the 44-byte WAV header: the queued
	// 0.3s batch was replaced by the newer 0.6s one.
	if got := len(provider.request(1).Audio); got != 44+19200 {
		t.Fatalf("second batch audio = %d bytes, want the replacing batch", got)
	}
}

func TestEngineRecoversAfterProviderFailure(t *testing.T) {
	t0 := time.Now()
	provider := &fakeProvider{err: errors.New("boom")}
	eng := newTestEngine(t, Config{
		Provider:   provider,
		Profiles:   profile.NewMemoryStore(),
		Transcript: session.NewMemoryTranscript(),
	})

	eng.AddSegment(sinePCM(150, 16000, 300*time.Millisecond), 16000, t0, "")
	eng.Flush()

	ev := waitEvent(t, eng)
	failed, ok := ev.(BatchFailed)
	if !ok {
		t.Fatalf("event = %#v, want BatchFailed", ev)
	}
	if failed.Err == nil || !strings.Contains(failed.Err.Error(), "boom") {
		t.Fatalf("failure error = %v", failed.Err)
	}

	provider.set([]diarize.Utterance{{Speaker: "A", Text: "hi", StartMS: 10, EndMS: 290}}, nil)
	eng.AddSegment(sinePCM(150, 16000, 300*time.Millisecond), 16000, t0.Add(time.Minute), "")
	eng.Flush()
	if _, ok := waitEvent(t, eng).(BatchCompleted); !ok {
		t.Fatal("engine should recover after a failed batch")
	}
}

func TestEngineArchivesBatchAudio(t *testing.T) {
	t0 := time.Now()
	arch, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	provider := &fakeProvider{utts: []diarize.Utterance{
		{Speaker: "A", Text: "hi", StartMS: 10, EndMS: 450},
	}}
	eng := newTestEngine(t, Config{
		Provider:   provider,
		Profiles:   profile.NewMemoryStore(),
		Transcript: session.NewMemoryTranscript(),
		Archive:    arch,
		SessionID:  "meet-1",
	})

	eng.AddSegment(sinePCM(150, 16000, 500*time.Millisecond), 16000, t0, "")
	eng.Flush()
	done, ok := waitEvent(t, eng).(BatchCompleted)
	if !ok {
		t.Fatal("expected BatchCompleted")
	}

	ctx := context.Background()
	path := fmt.Sprintf("sessions/meet-1/batches/%s.wav", done.BatchID)
	r, err := arch.Read(ctx, path)
	if err != nil {
		t.Fatalf("read archive %s: %v", path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	samples, format, err := wav.Unmarshal(data)
	if err != nil {
		t.Fatalf("decode archived wav: %v", err)
	}
	if format.SampleRate != 16000 {
		t.Fatalf("archived rate = %d, want 16000", format.SampleRate)
	}
	if len(samples) != 8000 {
		t.Fatalf("archived samples = %d, want 8000", len(samples))
	}
}

func TestEngineCloseStopsEvents(t *testing.T) {
	eng := newTestEngine(t, Config{
		Provider:   &fakeProvider{},
		Profiles:   profile.NewMemoryStore(),
		Transcript: session.NewMemoryTranscript(),
	})

	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-eng.Events(); ok {
		t.Fatal("event channel should be closed")
	}
	// Idempotent, and late segments are ignored.
	if err := eng.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	eng.AddSegment(sinePCM(150, 16000, 300*time.Millisecond), 16000, time.Now(), "")
	if n := eng.Buffered(); n != 0 {
		t.Fatalf("buffered after close = %d, want 0", n)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	base := Config{
		Provider:   &fakeProvider{},
		Profiles:   profile.NewMemoryStore(),
		Transcript: session.NewMemoryTranscript(),
	}

	for name, mutate := range map[string]func(*Config){
		"provider":   func(c *Config) { c.Provider = nil },
		"profiles":   func(c *Config) { c.Profiles = nil },
		"transcript": func(c *Config) { c.Transcript = nil },
	} {
		cfg := base
		mutate(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("New with nil %s: expected error", name)
		}
	}

	cfg := base
	cfg.Params.Overflow = OverflowPolicy("bogus")
	if _, err := New(cfg); err == nil {
		t.Error("New with bogus overflow policy: expected error")
	}
}
