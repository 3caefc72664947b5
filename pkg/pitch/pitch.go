// Package pitch extracts fundamental-frequency fingerprints from PCM audio.
//
// A fingerprint summarizes the statistical distribution of a speaker's
// pitch and is the lightweight identity signal used to recognize the same
// voice across diarization batches. Extraction runs normalized
// autocorrelation over sliding windows and keeps estimates inside the
// human-voice band.
//
// Default parameters:
//
//	WindowSize:     2048
//	HopSize:        512
//	MinFreq:        50
//	MaxFreq:        500
//	HistogramBinHz: 5
package pitch

import (
	"math"
)

// Config controls fingerprint extraction parameters.
type Config struct {
	SampleRate     int     // audio sample rate in Hz (required)
	WindowSize     int     // window length in samples (default 2048)
	HopSize        int     // hop length in samples (default 512)
	MinFreq        float64 // lowest voice frequency in Hz (default 50)
	MaxFreq        float64 // highest voice frequency in Hz (default 500)
	HistogramBinHz float64 // histogram bin width for the dominant frequency (default 5)
}

// DefaultConfig returns the standard config for the given sample rate.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:     sampleRate,
		WindowSize:     2048,
		HopSize:        512,
		MinFreq:        50,
		MaxFreq:        500,
		HistogramBinHz: 5,
	}
}

// minEstimates is the minimum number of in-band window estimates required
// to call a sample voiced.
const minEstimates = 3

// Result is the one-shot fingerprint of a single audio sample.
type Result struct {
	MinHz      float64 `json:"min_hz" msgpack:"min_hz"`
	MaxHz      float64 `json:"max_hz" msgpack:"max_hz"`
	AvgHz      float64 `json:"avg_hz" msgpack:"avg_hz"`
	DominantHz float64 `json:"dominant_hz" msgpack:"dominant_hz"`
	Variance   float64 `json:"variance" msgpack:"variance"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
}

// Analyzer extracts pitch fingerprints from PCM samples. An Analyzer is
// stateless after construction and safe to reuse across batches.
type Analyzer struct {
	cfg Config
}

// New creates a new Analyzer with the given config. Zero-valued fields
// other than SampleRate are replaced with defaults.
func New(cfg Config) *Analyzer {
	def := DefaultConfig(cfg.SampleRate)
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.HopSize <= 0 {
		cfg.HopSize = def.HopSize
	}
	if cfg.MinFreq <= 0 {
		cfg.MinFreq = def.MinFreq
	}
	if cfg.MaxFreq <= 0 {
		cfg.MaxFreq = def.MaxFreq
	}
	if cfg.HistogramBinHz <= 0 {
		cfg.HistogramBinHz = def.HistogramBinHz
	}
	return &Analyzer{cfg: cfg}
}

// Config returns the analyzer's effective configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze computes the pitch fingerprint of a mono sample sequence at the
// analyzer's sample rate.
//
// It returns an *InsufficientDataError when the sample is shorter than one
// window and an *InsufficientSignalError when fewer than three windows
// produce an estimate inside the voice band.
func (a *Analyzer) Analyze(samples []float64) (*Result, error) {
	cfg := a.cfg
	if len(samples) < cfg.WindowSize {
		return nil, &InsufficientDataError{Samples: len(samples), Min: cfg.WindowSize}
	}

	// Lag bounds for the voice band: short lags are high frequencies.
	minLag := int(float64(cfg.SampleRate) / cfg.MaxFreq)
	maxLag := int(float64(cfg.SampleRate) / cfg.MinFreq)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= cfg.WindowSize {
		maxLag = cfg.WindowSize - 1
	}

	var estimates []float64
	for start := 0; start+cfg.WindowSize <= len(samples); start += cfg.HopSize {
		window := samples[start : start+cfg.WindowSize]
		if freq, ok := a.estimateWindow(window, minLag, maxLag); ok {
			estimates = append(estimates, freq)
		}
	}

	if len(estimates) < minEstimates {
		return nil, &InsufficientSignalError{Estimates: len(estimates), Min: minEstimates}
	}

	res := &Result{MinHz: estimates[0], MaxHz: estimates[0]}
	var sum float64
	for _, f := range estimates {
		if f < res.MinHz {
			res.MinHz = f
		}
		if f > res.MaxHz {
			res.MaxHz = f
		}
		sum += f
	}
	n := float64(len(estimates))
	res.AvgHz = sum / n

	var varSum float64
	for _, f := range estimates {
		d := f - res.AvgHz
		varSum += d * d
	}
	res.Variance = varSum / n
	res.DominantHz = dominantFrequency(estimates, cfg.HistogramBinHz)

	// More estimates and lower spread both raise confidence.
	countTerm := math.Min(1, n/50)
	spreadTerm := math.Max(0, 1-res.Variance/1000)
	res.Confidence = 0.7*countTerm + 0.3*spreadTerm

	return res, nil
}

// estimateWindow returns the strongest periodicity in one window as a
// frequency, or ok=false when the window is silent or the estimate falls
// outside the voice band.
func (a *Analyzer) estimateWindow(window []float64, minLag, maxLag int) (float64, bool) {
	var energy float64
	for _, s := range window {
		energy += s * s
	}
	if energy < 1e-10 {
		return 0, false
	}

	bestLag := 0
	bestCorr := math.Inf(-1)
	for lag := minLag; lag <= maxLag; lag++ {
		var sum float64
		for i := 0; i+lag < len(window); i++ {
			sum += window[i] * window[i+lag]
		}
		if corr := sum / energy; corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0, false
	}

	freq := float64(a.cfg.SampleRate) / float64(bestLag)
	if freq < a.cfg.MinFreq || freq > a.cfg.MaxFreq {
		return 0, false
	}
	return freq, true
}

// dominantFrequency returns the mode of the estimates under fixed-width
// histogram binning. Ties resolve to the lower bin so the result is
// deterministic.
func dominantFrequency(estimates []float64, binWidth float64) float64 {
	counts := make(map[int]int)
	for _, f := range estimates {
		counts[int(math.Round(f/binWidth))]++
	}
	bestBin, bestCount := 0, 0
	for bin, c := range counts {
		if c > bestCount || (c == bestCount && bin < bestBin) {
			bestBin, bestCount = bin, c
		}
	}
	return float64(bestBin) * binWidth
}
