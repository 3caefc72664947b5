package session

import (
	"fmt"
	"iter"
	"sync"

	"github.com/hearsay-ai/hearsay/pkg/pitch"
)

// Identity is one resolved speaker inside a session.
type Identity struct {
	// ID is the session-scoped speaker id: a persistent profile id when
	// pitch matching succeeded, or a fallback "speaker_<N>" name.
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`

	// ProfileID is the persistent profile behind this identity, empty for
	// fallback identities.
	ProfileID string `json:"profile_id,omitempty"`

	// Pitch is the fingerprint observed in the batch that resolved this
	// identity, when analysis succeeded.
	Pitch *pitch.Result `json:"pitch,omitempty"`
}

// Registry tracks speaker identities for one meeting session. It holds no
// audio, only labels and identifiers, and must be Reset between meetings.
//
// Batch mappings are scoped to a single batch because diarization labels
// are not stable across batches; global identities persist for the whole
// session. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	nextN   int
	batches map[string]map[string]Identity
	global  map[string]Identity
	order   []string
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.init()
	return r
}

// init must be called with mu held (or before the registry is shared).
func (r *Registry) init() {
	r.nextN = 0
	r.batches = make(map[string]map[string]Identity)
	r.global = make(map[string]Identity)
	r.order = nil
}

// NextIdentity returns the next fallback speaker name, "speaker_1",
// "speaker_2", ... The counter is monotonic until Reset.
func (r *Registry) NextIdentity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextN++
	return fmt.Sprintf("speaker_%d", r.nextN)
}

// RecordBatchMapping associates a batch-local diarization label with an
// identity for the duration of one batch.
func (r *Registry) RecordBatchMapping(batchID, label string, id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.batches[batchID]
	if m == nil {
		m = make(map[string]Identity)
		r.batches[batchID] = m
	}
	m[label] = id
}

// BatchMapping looks up the identity recorded for a label in one batch.
func (r *Registry) BatchMapping(batchID, label string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.batches[batchID][label]
	return id, ok
}

// DropBatch discards the label map of a finished batch.
func (r *Registry) DropBatch(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.batches, batchID)
}

// RegisterGlobalIdentity records a session-wide identity keyed by its ID.
// Re-registering an ID overwrites its display name and color, keeping the
// registry the source of truth for consistent naming across batches.
func (r *Registry) RegisterGlobalIdentity(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.global[id.ID]; !ok {
		r.order = append(r.order, id.ID)
	}
	r.global[id.ID] = id
}

// Identity looks up a session-wide identity by ID.
func (r *Registry) Identity(id string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.global[id]
	return ident, ok
}

// Identities iterates session-wide identities in registration order.
func (r *Registry) Identities() iter.Seq2[string, Identity] {
	r.mu.Lock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	snapshot := make(map[string]Identity, len(r.global))
	for k, v := range r.global {
		snapshot[k] = v
	}
	r.mu.Unlock()

	return func(yield func(string, Identity) bool) {
		for _, id := range ids {
			if !yield(id, snapshot[id]) {
				return
			}
		}
	}
}

// Count returns the number of session-wide identities.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.global)
}

// Reset wipes all state for a new meeting.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
}
