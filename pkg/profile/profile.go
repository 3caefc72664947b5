// Package profile persists named and unnamed voice profiles and supports
// pitch-similarity search.
//
// A profile is the durable identity behind a voice: auto-created and
// unconfirmed when a new pitch fingerprint first appears, promoted to
// confirmed once a human assigns a real name, and deleted only
// explicitly. Two implementations are provided: an in-memory store for
// tests and ephemeral sessions, and a Badger-backed store for
// persistence across meetings.
package profile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/hearsay-ai/hearsay/pkg/pitch"
)

// ErrNotFound is returned when no profile exists with the given id.
var ErrNotFound = errors.New("profile: not found")

// Kind classifies who a profile belongs to.
type Kind string

const (
	KindUser      Kind = "user"
	KindColleague Kind = "colleague"
	KindClient    Kind = "client"
	KindOther     Kind = "other"
)

// Profile is one persistent voice identity.
type Profile struct {
	ID        string `json:"id" msgpack:"id"`
	Name      string `json:"name" msgpack:"name"`
	Kind      Kind   `json:"kind" msgpack:"kind"`
	Color     string `json:"color" msgpack:"color"`
	Confirmed bool   `json:"confirmed" msgpack:"confirmed"`

	// Pitch is the running voice fingerprint, nil until first analysis.
	Pitch *pitch.Profile `json:"pitch,omitempty" msgpack:"pitch"`

	// SampleText is a snippet of transcript captured when the profile was
	// auto-created, as a human hint for later naming.
	SampleText string `json:"sample_text,omitempty" msgpack:"sample_text"`

	// BatchID records the diarization batch that auto-created the
	// profile. Empty for user-created profiles.
	BatchID string `json:"batch_id,omitempty" msgpack:"batch_id"`

	CreatedAt  time.Time `json:"created_at" msgpack:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at" msgpack:"last_seen_at"`
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	if p.Pitch != nil {
		pc := *p.Pitch
		c.Pitch = &pc
	}
	return &c
}

// Store is the profile persistence contract. Implementations are safe
// for concurrent readers; writers are sequenced by the engine's batch
// guard.
type Store interface {
	// Get returns the profile with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Profile, error)

	// List iterates all stored profiles. Order is implementation
	// defined.
	List(ctx context.Context) iter.Seq2[*Profile, error]

	// Create stores a new profile, filling ID, Color and timestamps when
	// unset.
	Create(ctx context.Context, p *Profile) error

	// Update replaces an existing profile, or returns ErrNotFound.
	Update(ctx context.Context, p *Profile) error

	// Delete removes a profile, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Confirm promotes a profile to a confirmed, human-named identity.
	Confirm(ctx context.Context, id, name string, kind Kind) (*Profile, error)

	// CreateAuto creates an unconfirmed profile around a fresh
	// fingerprint, named "Speaker N (Unnamed)" with a palette color.
	CreateAuto(ctx context.Context, p pitch.Profile, batchID, sampleText string) (*Profile, error)

	// FindBySimilarity returns the stored profile whose fingerprint
	// scores highest against r, provided it reaches thresholdPercent on
	// the [0,100] compare scale. No qualifying profile is (nil, 0, nil).
	FindBySimilarity(ctx context.Context, r pitch.Result, thresholdPercent float64) (*Profile, float64, error)

	// UpdatePitch folds a new fingerprint into a profile's running pitch
	// profile and refreshes LastSeenAt.
	UpdatePitch(ctx context.Context, id string, r pitch.Result) error
}

// Palette is the color cycle assigned to auto-created profiles.
var Palette = []string{
	"#ef4444", // red
	"#f97316", // orange
	"#eab308", // yellow
	"#22c55e", // green
	"#06b6d4", // cyan
	"#3b82f6", // blue
	"#8b5cf6", // violet
	"#ec4899", // pink
}

// ColorFor returns the palette color for the n-th speaker (1-based).
func ColorFor(n int) string {
	if n < 1 {
		n = 1
	}
	return Palette[(n-1)%len(Palette)]
}

// autoName formats the display name of the n-th auto-created profile.
func autoName(n int) string {
	return fmt.Sprintf("Speaker %d (Unnamed)", n)
}

// parseAutoName extracts N from an auto-generated name.
func parseAutoName(name string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(name, "Speaker %d (Unnamed)", &n); err != nil {
		return 0, false
	}
	return n, true
}

// nextAutoNumber returns one past the highest auto-profile number among
// existing names, so deleted speakers never cause a name collision.
func nextAutoNumber(names []string) int {
	maxN := 0
	for _, name := range names {
		if n, ok := parseAutoName(name); ok && n > maxN {
			maxN = n
		}
	}
	return maxN + 1
}
