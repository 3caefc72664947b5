package match

import (
	"fmt"
	"testing"
	"time"

	"github.com/hearsay-ai/hearsay/pkg/jsontime"
	"github.com/hearsay-ai/hearsay/pkg/session"
)

func sysEntry(ts int64, text string) session.Entry {
	return session.Entry{
		Timestamp: jsontime.FromUnixMilli(ts),
		Text:      text,
		Source:    session.SourceSystem,
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"same", "same", 0},
		{"héllo", "hello", 1},
	}
	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if Levenshtein(tt.a, tt.b) != Levenshtein(tt.b, tt.a) {
			t.Errorf("Levenshtein(%q, %q) not symmetric", tt.a, tt.b)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("Hello there", "hello THERE"); got != 1 {
		t.Errorf("case-insensitive identity = %v, want 1", got)
	}
	if got := Similarity("", ""); got != 1 {
		t.Errorf("empty-empty = %v, want 1", got)
	}
	if got := Similarity("abcd", "wxyz"); got != 0 {
		t.Errorf("fully different = %v, want 0", got)
	}
	got := Similarity("hello world", "hello word")
	if got <= 0.8 || got >= 1 {
		t.Errorf("near match = %v, want in (0.8, 1)", got)
	}
}

func TestMatch_WithinWindow(t *testing.T) {
	m := New(Config{})
	entries := []session.Entry{
		sysEntry(10_000, "let's review the quarterly numbers"),
		sysEntry(14_000, "sounds good to me"),
	}

	e, ok := m.Match(entries, "lets review the quarterly numbers", 10_800)
	if !ok {
		t.Fatal("expected a match")
	}
	if e.Timestamp.UnixMilli() != 10_000 {
		t.Errorf("matched entry at %d, want 10000", e.Timestamp.UnixMilli())
	}
}

func TestMatch_EarlyExitNeverAcceptsBeyondCutoff(t *testing.T) {
	m := New(Config{})
	// Identical text, but 5s away: past the 4.5s cutoff, so the text is
	// never even compared.
	entries := []session.Entry{sysEntry(20_000, "exactly the same words")}

	if _, ok := m.Match(entries, "exactly the same words", 15_000); ok {
		t.Error("candidate beyond the early-exit cutoff must not match")
	}
}

func TestMatch_TextRescueInsideCutoff(t *testing.T) {
	m := New(Config{})
	// 3s away: outside the 1.5s window but inside the 4.5s cutoff. Strong
	// text similarity rescues it.
	entries := []session.Entry{sysEntry(20_000, "the deployment finished without errors")}

	e, ok := m.Match(entries, "the deployment finished without error", 17_000)
	if !ok {
		t.Fatal("expected text-similarity rescue to accept the candidate")
	}
	if e.Timestamp.UnixMilli() != 20_000 {
		t.Errorf("matched entry at %d, want 20000", e.Timestamp.UnixMilli())
	}

	// Same distance with unrelated text: no rescue.
	entries = []session.Entry{sysEntry(20_000, "completely unrelated sentence here")}
	if _, ok := m.Match(entries, "the deployment finished without error", 17_000); ok {
		t.Error("dissimilar text outside the window must not match")
	}
}

func TestMatch_PrefersBestComposite(t *testing.T) {
	m := New(Config{})
	entries := []session.Entry{
		sysEntry(10_200, "we need more coffee and snacks"), // close in time, unrelated text
		sysEntry(10_900, "lets ship it on friday"),         // further, text nearly exact
	}

	e, ok := m.Match(entries, "let's ship it on friday", 10_000)
	if !ok {
		t.Fatal("expected a match")
	}
	// 0.5*timeScore + 0.5*similarity favors the near-exact text despite
	// the larger time gap.
	if e.Timestamp.UnixMilli() != 10_900 {
		t.Errorf("matched entry at %d, want 10900", e.Timestamp.UnixMilli())
	}
}

func TestMatch_PoolBoundedToMostRecent(t *testing.T) {
	m := New(Config{})

	// 1000 entries, one per second. A perfect candidate sits at index 850,
	// but only the most recent 100 (900..999) are eligible.
	entries := make([]session.Entry, 1000)
	for i := range entries {
		entries[i] = sysEntry(int64(i)*1000, fmt.Sprintf("filler line number %d", i))
	}
	entries[850] = sysEntry(850_000, "the target phrase we are hunting")
	entries[950] = sysEntry(950_000, "the target phrase we are hunting today")

	e, ok := m.Match(entries, "the target phrase we are hunting", 950_200)
	if !ok {
		t.Fatal("expected a match inside the recent pool")
	}
	if e.Timestamp.UnixMilli() != 950_000 {
		t.Errorf("matched entry at %d, want 950000 (recent pool only)", e.Timestamp.UnixMilli())
	}

	// The perfect-but-ancient candidate alone cannot match: outside both
	// the pool and any time window.
	if _, ok := m.Match(entries[:900], "the target phrase we are hunting", 950_200); ok {
		t.Error("entry outside the recent pool and window must not match")
	}
}

func TestMatch_FiltersMicAndConfirmed(t *testing.T) {
	m := New(Config{})

	mic := session.Entry{
		Timestamp: jsontime.FromUnixMilli(10_000),
		Text:      "a perfect match",
		Source:    session.SourceMic,
	}
	confirmed := sysEntry(10_100, "a perfect match")
	confirmed.Speaker = session.ResolvedAssignment("p9", "A", 1, true)

	if _, ok := m.Match([]session.Entry{mic, confirmed}, "a perfect match", 10_000); ok {
		t.Error("mic-source and confirmed entries must be excluded")
	}

	// An unconfirmed resolved assignment stays eligible.
	unconfirmed := sysEntry(10_100, "a perfect match")
	unconfirmed.Speaker = session.ResolvedAssignment("p9", "A", 1, false)
	if _, ok := m.Match([]session.Entry{unconfirmed}, "a perfect match", 10_000); !ok {
		t.Error("unconfirmed entries should remain candidates")
	}
}

func TestMatch_ZeroScoreIsNoMatch(t *testing.T) {
	m := New(Config{Window: 1500 * time.Millisecond})
	// Exactly at the window edge with zero similarity: composite score 0.
	entries := []session.Entry{sysEntry(10_000, "abcd")}

	if _, ok := m.Match(entries, "wxyz", 11_500); ok {
		t.Error("a zero-score candidate must not be selected")
	}
}

func TestMatch_NoCandidates(t *testing.T) {
	m := New(Config{})
	if _, ok := m.Match(nil, "anything", 0); ok {
		t.Error("no entries should mean no match")
	}
}
