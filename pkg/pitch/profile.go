package pitch

import (
	"math"
	"time"
)

// Profile is a running statistical identity for one speaker's voice,
// built by merging successive fingerprints.
type Profile struct {
	Result      `msgpack:",inline"`
	SampleCount int       `json:"sample_count" msgpack:"sample_count"`
	LastUpdated time.Time `json:"last_updated" msgpack:"last_updated"`
}

// NewProfile starts a profile from a single fingerprint.
func NewProfile(r Result) Profile {
	return Profile{
		Result:      r,
		SampleCount: 1,
		LastUpdated: time.Now(),
	}
}

// Merge folds a new fingerprint into an existing profile. The existing
// data keeps weight n/(n+1) so an established identity drifts slowly;
// min/max extend to cover both inputs and the sample count increments.
func Merge(p Profile, r Result) Profile {
	w := float64(p.SampleCount) / float64(p.SampleCount+1)
	nw := 1 - w

	merged := Profile{
		Result: Result{
			MinHz:      math.Min(p.MinHz, r.MinHz),
			MaxHz:      math.Max(p.MaxHz, r.MaxHz),
			AvgHz:      p.AvgHz*w + r.AvgHz*nw,
			DominantHz: p.DominantHz*w + r.DominantHz*nw,
			Variance:   p.Variance*w + r.Variance*nw,
			Confidence: math.Min(1, (p.Confidence+r.Confidence)/2),
		},
		SampleCount: p.SampleCount + 1,
		LastUpdated: time.Now(),
	}
	return merged
}

// Compare scores how alike two fingerprints sound on a [0, 100] scale.
// Range overlap carries 60% of the score and average-pitch proximity the
// remaining 40%, with proximity credit falling to zero at a 50 Hz gap.
// Compare is symmetric and deterministic.
func Compare(a, b Result) float64 {
	overlap := math.Min(a.MaxHz, b.MaxHz) - math.Max(a.MinHz, b.MinHz)
	if overlap < 0 {
		overlap = 0
	}
	avgWidth := ((a.MaxHz - a.MinHz) + (b.MaxHz - b.MinHz)) / 2

	var rangeScore float64
	if avgWidth > 0 {
		rangeScore = overlap / avgWidth
	} else if a.MinHz == b.MinHz && a.MaxHz == b.MaxHz {
		// Two degenerate single-frequency ranges only match exactly.
		rangeScore = 1
	}

	avgScore := 1 - math.Abs(a.AvgHz-b.AvgHz)/50
	if avgScore < 0 {
		avgScore = 0
	}

	return (0.6*rangeScore + 0.4*avgScore) * 100
}
