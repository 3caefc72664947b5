// Package segbuf accumulates short speech segments into timed batches.
//
// Hosts capture speech in small clips as entries are transcribed. The
// buffer collects them and hands the whole batch to a flush callback once
// the oldest unflushed segment has aged past the batch window, so the
// diarization provider sees enough context per request without the host
// tracking timing itself.
package segbuf

import (
	"sync"
	"time"
)

// Segment is one short speech clip awaiting diarization.
type Segment struct {
	// Audio is PCM16 mono little-endian sample data.
	Audio []byte

	// SampleRate is the capture rate of Audio in Hz.
	SampleRate int

	// Timestamp is the absolute capture time of the segment start.
	Timestamp time.Time

	// EntryID is an opaque host correlation id for the transcript entry
	// recorded alongside this segment. May be empty.
	EntryID string
}

// Duration returns the play time of the segment's audio.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	samples := len(s.Audio) / 2
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}

// Config controls batching.
type Config struct {
	// BatchWindow is how old the oldest buffered segment may grow before
	// a flush fires. Default 30s.
	BatchWindow time.Duration

	// Flush receives each flushed batch. The slice is owned by the
	// callback; the buffer never touches it again. Optional; callers may
	// instead consume the return value of ForceFlush.
	Flush func(segments []Segment)
}

// Buffer accumulates segments and flushes them in timed batches. A flush
// snapshots-and-clears the segment list in one critical section, so no
// segment is lost or double-processed when Add races a flush; the
// callback itself runs outside the lock. Safe for concurrent use.
type Buffer struct {
	cfg Config

	mu   sync.Mutex
	segs []Segment
}

// New creates a Buffer. A zero BatchWindow defaults to 30 seconds.
func New(cfg Config) *Buffer {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 30 * time.Second
	}
	return &Buffer{cfg: cfg}
}

// Add appends a segment and flushes the whole buffer, newest segment
// included, if the oldest segment has aged past the batch window.
func (b *Buffer) Add(seg Segment) {
	b.mu.Lock()
	b.segs = append(b.segs, seg)
	batch := b.takeDueLocked(time.Now())
	b.mu.Unlock()

	b.deliver(batch)
}

// FlushIfDue flushes when the oldest segment has aged past the batch
// window and reports whether a flush happened. Intended for periodic
// ticks so an idle buffer still drains without new Adds.
func (b *Buffer) FlushIfDue() bool {
	b.mu.Lock()
	batch := b.takeDueLocked(time.Now())
	b.mu.Unlock()

	b.deliver(batch)
	return batch != nil
}

// ForceFlush flushes whatever is buffered immediately, regardless of age,
// and returns the batch. Used at session end. Returns nil when empty.
func (b *Buffer) ForceFlush() []Segment {
	b.mu.Lock()
	batch := b.segs
	b.segs = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	b.deliver(batch)
	return batch
}

// Clear discards all buffered segments without processing them.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.segs = nil
	b.mu.Unlock()
}

// Len returns the number of buffered segments.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segs)
}

// takeDueLocked snapshots-and-clears the buffer when its oldest segment
// is older than the batch window. Segments may arrive out of capture
// order, so age is judged on the earliest timestamp, not the first
// arrival. Caller must hold mu.
func (b *Buffer) takeDueLocked(now time.Time) []Segment {
	if len(b.segs) == 0 {
		return nil
	}
	oldest := b.segs[0].Timestamp
	for _, s := range b.segs[1:] {
		if s.Timestamp.Before(oldest) {
			oldest = s.Timestamp
		}
	}
	if now.Sub(oldest) < b.cfg.BatchWindow {
		return nil
	}
	batch := b.segs
	b.segs = nil
	return batch
}

func (b *Buffer) deliver(batch []Segment) {
	if len(batch) == 0 || b.cfg.Flush == nil {
		return
	}
	b.cfg.Flush(batch)
}
