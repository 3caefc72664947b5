// Package resample converts audio between sample rates with a pure Go
// windowed-sinc resampler. The engine uses it to bring every buffered
// segment to the provider upload rate before batching.
package resample

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// To converts normalized mono samples from srcRate to dstRate.
// Same-rate input is returned as-is. A streaming filter has inherent
// delay, so the tail of the output may be a few hundred samples short
// of the exact rate ratio.
func To(samples []float64, srcRate, dstRate int) ([]float64, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("resample: invalid rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	out, err := rs.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return out, nil
}
