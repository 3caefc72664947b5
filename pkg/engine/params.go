package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hearsay-ai/hearsay/pkg/jsontime"
)

// OverflowPolicy says what happens to a batch that becomes due while an
// earlier one is still in flight.
type OverflowPolicy string

const (
	// OverflowDrop discards the late batch. This is the default: when
	// provider latency exceeds the batch window the session is already
	// behind, and stale audio is worth less than catching up.
	OverflowDrop OverflowPolicy = "drop"

	// OverflowQueueLatest holds the newest due batch and runs it when the
	// in-flight one finishes. At most one batch is queued; a newer one
	// replaces it.
	OverflowQueueLatest OverflowPolicy = "queue_latest"
)

// Params are the engine tunables. All fields are optional; zero values
// take the defaults below. Hosts may load them from a YAML file with
// LoadParams.
type Params struct {
	// BatchWindow is how long segments accumulate before a diarization
	// batch fires. Default 30s.
	BatchWindow jsontime.Duration `json:"batch_window" yaml:"batch_window"`

	// MatchWindow is the time proximity window for matching utterances
	// to transcript entries. Default 1500ms.
	MatchWindow jsontime.Duration `json:"match_window" yaml:"match_window"`

	// SimilarityPercent is the minimum pitch similarity for reusing a
	// stored profile, on the [0,100] compare scale. Default 80.
	SimilarityPercent float64 `json:"similarity_percent" yaml:"similarity_percent"`

	// UploadRate is the sample rate batch audio is resampled to before
	// upload. Default 16000.
	UploadRate int `json:"upload_rate" yaml:"upload_rate"`

	// Overflow is the reentrancy policy. Default OverflowDrop.
	Overflow OverflowPolicy `json:"overflow" yaml:"overflow"`

	// MaxPolls bounds provider job polling. The engine itself never
	// polls; hosts building an HTTP provider from this file forward it.
	MaxPolls int `json:"max_polls" yaml:"max_polls"`

	// ExpectedSpeakers hints the provider at the speaker count. Zero
	// lets it estimate.
	ExpectedSpeakers int `json:"expected_speakers" yaml:"expected_speakers"`

	// Language is an optional provider language code, e.g. "en".
	Language string `json:"language" yaml:"language"`
}

// DefaultParams returns the standard tunables.
func DefaultParams() Params {
	return Params{
		BatchWindow:       jsontime.Duration(30 * time.Second),
		MatchWindow:       jsontime.Duration(1500 * time.Millisecond),
		SimilarityPercent: 80,
		UploadRate:        16000,
		Overflow:          OverflowDrop,
		MaxPolls:          60,
	}
}

// withDefaults fills zero-valued fields from DefaultParams.
func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.BatchWindow <= 0 {
		p.BatchWindow = def.BatchWindow
	}
	if p.MatchWindow <= 0 {
		p.MatchWindow = def.MatchWindow
	}
	if p.SimilarityPercent <= 0 {
		p.SimilarityPercent = def.SimilarityPercent
	}
	if p.UploadRate <= 0 {
		p.UploadRate = def.UploadRate
	}
	if p.Overflow == "" {
		p.Overflow = def.Overflow
	}
	if p.MaxPolls <= 0 {
		p.MaxPolls = def.MaxPolls
	}
	return p
}

// Validate rejects parameter combinations the engine cannot run with.
func (p Params) Validate() error {
	switch p.Overflow {
	case OverflowDrop, OverflowQueueLatest:
	default:
		return fmt.Errorf("engine: unknown overflow policy %q", p.Overflow)
	}
	if p.SimilarityPercent > 100 {
		return fmt.Errorf("engine: similarity percent %v out of range", p.SimilarityPercent)
	}
	return nil
}

// LoadParams reads tunables from a YAML file. Unset fields take their
// defaults; durations accept strings like "30s" or integer nanoseconds.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, err
	}
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("engine: parse %s: %w", path, err)
	}
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
