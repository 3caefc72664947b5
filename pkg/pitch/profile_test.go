package pitch

import (
	"math"
	"testing"
)

func fingerprint(minHz, maxHz, avgHz float64) Result {
	return Result{
		MinHz:      minHz,
		MaxHz:      maxHz,
		AvgHz:      avgHz,
		DominantHz: avgHz,
		Variance:   100,
		Confidence: 0.8,
	}
}

func TestNewProfile(t *testing.T) {
	p := NewProfile(fingerprint(120, 180, 150))

	if p.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", p.SampleCount)
	}
	if p.LastUpdated.IsZero() {
		t.Error("LastUpdated should be set")
	}
	if p.AvgHz != 150 {
		t.Errorf("AvgHz = %v, want 150", p.AvgHz)
	}
}

func TestMerge_WeightedAverage(t *testing.T) {
	p := NewProfile(fingerprint(90, 110, 100))
	merged := Merge(p, fingerprint(190, 210, 200))

	// With one prior sample both inputs weigh 1/2.
	if merged.AvgHz != 150 {
		t.Errorf("AvgHz = %v, want 150", merged.AvgHz)
	}
	if merged.SampleCount != 2 {
		t.Errorf("SampleCount = %d, want 2", merged.SampleCount)
	}

	// A third fingerprint now weighs 1/3 against the established 2/3.
	again := Merge(merged, fingerprint(140, 160, 300))
	want := 150*2.0/3 + 300*1.0/3
	if math.Abs(again.AvgHz-want) > 1e-9 {
		t.Errorf("AvgHz = %v, want %v", again.AvgHz, want)
	}
	if again.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", again.SampleCount)
	}
}

func TestMerge_WidensRange(t *testing.T) {
	p := NewProfile(fingerprint(120, 180, 150))
	inputs := []Result{
		fingerprint(100, 170, 140),
		fingerprint(130, 200, 160),
		fingerprint(125, 175, 150),
	}

	for _, r := range inputs {
		before := p
		p = Merge(p, r)
		if p.MinHz > before.MinHz || p.MinHz > r.MinHz {
			t.Errorf("merged MinHz %v exceeds an input (%v, %v)", p.MinHz, before.MinHz, r.MinHz)
		}
		if p.MaxHz < before.MaxHz || p.MaxHz < r.MaxHz {
			t.Errorf("merged MaxHz %v below an input (%v, %v)", p.MaxHz, before.MaxHz, r.MaxHz)
		}
	}

	if p.MinHz != 100 || p.MaxHz != 200 {
		t.Errorf("final range = [%v, %v], want [100, 200]", p.MinHz, p.MaxHz)
	}
}

func TestMerge_ConfidenceCapped(t *testing.T) {
	p := NewProfile(Result{MinHz: 100, MaxHz: 200, AvgHz: 150, Confidence: 1})
	merged := Merge(p, Result{MinHz: 100, MaxHz: 200, AvgHz: 150, Confidence: 1.5})

	if merged.Confidence > 1 {
		t.Errorf("Confidence = %v, want <= 1", merged.Confidence)
	}
}

func TestCompare_Reflexive(t *testing.T) {
	for _, r := range []Result{
		fingerprint(120, 180, 150),
		fingerprint(80, 90, 85),
		{MinHz: 150, MaxHz: 150, AvgHz: 150}, // degenerate single-frequency range
	} {
		if got := Compare(r, r); got != 100 {
			t.Errorf("Compare(p, p) = %v, want 100", got)
		}
	}
}

func TestCompare_Symmetric(t *testing.T) {
	a := fingerprint(100, 180, 140)
	b := fingerprint(150, 250, 200)

	if Compare(a, b) != Compare(b, a) {
		t.Errorf("Compare(a,b) = %v, Compare(b,a) = %v", Compare(a, b), Compare(b, a))
	}
}

func TestCompare_Bounded(t *testing.T) {
	cases := [][2]Result{
		{fingerprint(100, 180, 140), fingerprint(150, 250, 200)},
		{fingerprint(60, 80, 70), fingerprint(400, 480, 440)},
		{fingerprint(100, 300, 200), fingerprint(150, 250, 200)},
	}
	for _, c := range cases {
		got := Compare(c[0], c[1])
		if got < 0 || got > 100 {
			t.Errorf("Compare = %v, want within [0, 100]", got)
		}
	}
}

func TestCompare_DisjointRangesScoreLow(t *testing.T) {
	// No range overlap and a 370 Hz average gap: both components zero.
	got := Compare(fingerprint(60, 80, 70), fingerprint(400, 480, 440))
	if got != 0 {
		t.Errorf("Compare = %v, want 0 for fully disjoint voices", got)
	}
}

func TestCompare_AverageProximity(t *testing.T) {
	// Identical ranges, averages 50 Hz apart: full range credit (60) and
	// no proximity credit.
	a := Result{MinHz: 100, MaxHz: 200, AvgHz: 125}
	b := Result{MinHz: 100, MaxHz: 200, AvgHz: 175}
	if got := Compare(a, b); math.Abs(got-60) > 1e-9 {
		t.Errorf("Compare = %v, want 60", got)
	}

	// Averages 25 Hz apart earn half the proximity credit.
	b.AvgHz = 150
	if got := Compare(a, b); math.Abs(got-80) > 1e-9 {
		t.Errorf("Compare = %v, want 80", got)
	}
}
