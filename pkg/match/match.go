// Package match correlates diarization utterances with transcript entries.
//
// A diarization batch returns utterances with batch-relative times and
// provider-transcribed text, while the host transcript already holds
// entries recorded as the audio was captured. The matcher resolves which
// existing entry an utterance refers to by blending time proximity with
// fuzzy text similarity, with a bounded candidate pool so cost stays
// independent of meeting length.
package match

import (
	"time"

	"github.com/hearsay-ai/hearsay/pkg/session"
)

// Config controls matching parameters.
type Config struct {
	// Window is the time distance at which proximity credit reaches zero.
	// Default 1500ms.
	Window time.Duration

	// EarlyExitFactor scales Window into the hard cutoff beyond which a
	// candidate is skipped without computing edit distance. Default 3.
	EarlyExitFactor float64

	// RescueSimilarity is the text similarity above which a candidate
	// outside Window is still accepted. Default 0.7.
	RescueSimilarity float64

	// MaxCandidates bounds the scored pool to the most recent entries.
	// Default 100.
	MaxCandidates int
}

// DefaultConfig returns the standard matching parameters.
func DefaultConfig() Config {
	return Config{
		Window:           1500 * time.Millisecond,
		EarlyExitFactor:  3,
		RescueSimilarity: 0.7,
		MaxCandidates:    100,
	}
}

// Matcher scores transcript entries against utterances.
type Matcher struct {
	cfg Config
}

// New creates a Matcher. Zero-valued config fields are replaced with
// defaults.
func New(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.EarlyExitFactor <= 0 {
		cfg.EarlyExitFactor = def.EarlyExitFactor
	}
	if cfg.RescueSimilarity <= 0 {
		cfg.RescueSimilarity = def.RescueSimilarity
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	return &Matcher{cfg: cfg}
}

// Match finds the transcript entry an utterance most plausibly refers to.
// text is the utterance transcript and at its absolute start time in epoch
// milliseconds. entries must be in chronological order; the returned
// pointer aliases the entries slice.
//
// Candidates are entries from non-microphone sources without a confirmed
// speaker, capped at the most recent MaxCandidates. Candidates further
// than EarlyExitFactor×Window from the utterance are skipped outright;
// the rest score 0.5*timeProximity + 0.5*textSimilarity. The best
// candidate is accepted only if it lies within Window or its text
// similarity exceeds RescueSimilarity.
func (m *Matcher) Match(entries []session.Entry, text string, at int64) (*session.Entry, bool) {
	pool := make([]*session.Entry, 0, min(len(entries), m.cfg.MaxCandidates))
	for i := range entries {
		e := &entries[i]
		if e.Source == session.SourceMic || e.SpeakerConfirmed() {
			continue
		}
		pool = append(pool, e)
	}
	if len(pool) > m.cfg.MaxCandidates {
		pool = pool[len(pool)-m.cfg.MaxCandidates:]
	}

	window := m.cfg.Window.Milliseconds()
	cutoff := int64(m.cfg.EarlyExitFactor * float64(window))

	var (
		best      *session.Entry
		bestScore float64
		bestDiff  int64
		bestSim   float64
	)
	for _, e := range pool {
		diff := e.Timestamp.UnixMilli() - at
		if diff < 0 {
			diff = -diff
		}
		if diff > cutoff {
			// Too far to plausibly match; skip the edit distance.
			continue
		}

		sim := Similarity(text, e.Text)
		timeScore := 1 - float64(diff)/float64(window)
		if timeScore < 0 {
			timeScore = 0
		}
		score := 0.5*timeScore + 0.5*sim
		if score > bestScore {
			best, bestScore, bestDiff, bestSim = e, score, diff, sim
		}
	}

	if best == nil {
		return nil, false
	}
	if bestDiff <= window || bestSim > m.cfg.RescueSimilarity {
		return best, true
	}
	return nil, false
}
