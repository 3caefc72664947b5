package session

import (
	"errors"
	"sync"
)

// ErrNoEntry is returned when no transcript entry exists at a timestamp.
var ErrNoEntry = errors.New("session: no entry at timestamp")

// Transcript is the engine's view of the host transcript. Entries returns
// a chronological snapshot; UpdateSpeaker, keyed by the entry's
// epoch-millisecond timestamp, is the only mutation the engine performs.
type Transcript interface {
	Entries() []Entry
	UpdateSpeaker(timestamp int64, a Assignment) error
}

// MemoryTranscript is an in-memory Transcript for tests and the offline
// CLI. Safe for concurrent use.
type MemoryTranscript struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[int64]int
}

// NewMemoryTranscript creates an empty transcript.
func NewMemoryTranscript() *MemoryTranscript {
	return &MemoryTranscript{index: make(map[int64]int)}
}

// Append adds an entry. Entries are expected in chronological order; the
// first entry at a given timestamp wins lookups.
func (t *MemoryTranscript) Append(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := e.Timestamp.UnixMilli()
	if _, ok := t.index[ts]; !ok {
		t.index[ts] = len(t.entries)
	}
	t.entries = append(t.entries, e)
}

// Entries returns a copy of the transcript in append order.
func (t *MemoryTranscript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// UpdateSpeaker replaces the speaker assignment of the entry at the given
// epoch-millisecond timestamp.
func (t *MemoryTranscript) UpdateSpeaker(timestamp int64, a Assignment) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[timestamp]
	if !ok {
		return ErrNoEntry
	}
	t.entries[i].Speaker = a
	return nil
}

// Len returns the number of entries.
func (t *MemoryTranscript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
