package speaker_test

import (
	"testing"

	"github.com/meetmate/meetmate/internal/speaker"
)

func TestRank_ExactMatchScoresHighest(t *testing.T) {
	m := speaker.New()
	got := m.Rank("Alice", []string{"Alice", "Bob", "Charlie"})
	if len(got) == 0 {
		t.Fatal("expected at least one suggestion")
	}
	if got[0].Name != "Alice" {
		t.Errorf("top suggestion: got %q, want %q", got[0].Name, "Alice")
	}
	if got[0].Score != 1.0 {
		t.Errorf("exact match score: got %.3f, want 1.0", got[0].Score)
	}
}

func TestRank_PhoneticMisspelling(t *testing.T) {
	m := speaker.New()

	// "alys hartman" sounds like "Alice Hartmann": the phonetic overlap lets
	// it qualify at the lower threshold.
	got := m.Rank("alys hartman", []string{"Alice Hartmann", "Bob Smith"})
	if len(got) != 1 {
		t.Fatalf("suggestions: got %d (%v), want 1", len(got), got)
	}
	if got[0].Name != "Alice Hartmann" {
		t.Errorf("got %q, want %q", got[0].Name, "Alice Hartmann")
	}
}

func TestRank_CaseInsensitive(t *testing.T) {
	m := speaker.New()
	got := m.Rank("ALICE", []string{"alice"})
	if len(got) != 1 || got[0].Score != 1.0 {
		t.Errorf("got %v, want a single perfect match", got)
	}
}

func TestRank_NoPlausibleMatch(t *testing.T) {
	m := speaker.New()
	if got := m.Rank("Xiomara", []string{"Bob", "Charlie", "Dmitri"}); len(got) != 0 {
		t.Errorf("got %v, want no suggestions", got)
	}
}

func TestRank_EmptyInputs(t *testing.T) {
	m := speaker.New()
	if got := m.Rank("", []string{"Alice"}); got != nil {
		t.Errorf("empty query: got %v, want nil", got)
	}
	if got := m.Rank("   ", []string{"Alice"}); got != nil {
		t.Errorf("whitespace query: got %v, want nil", got)
	}
	if got := m.Rank("Alice", nil); got != nil {
		t.Errorf("no candidates: got %v, want nil", got)
	}
	if got := m.Rank("Alice", []string{"", "  "}); got != nil {
		t.Errorf("blank candidates: got %v, want nil", got)
	}
}

func TestRank_SortedBestFirst(t *testing.T) {
	m := speaker.New()
	got := m.Rank("Jon", []string{"Jonah", "Jon", "John"})
	if len(got) < 2 {
		t.Fatalf("suggestions: got %d, want at least 2", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("suggestions not sorted: %v", got)
		}
	}
	if got[0].Name != "Jon" {
		t.Errorf("top suggestion: got %q, want the exact match", got[0].Name)
	}
}

func TestRank_TiesPreserveCandidateOrder(t *testing.T) {
	m := speaker.New()

	// Identical names score identically; the earlier candidate (most recent
	// in the ledger ordering) must stay first.
	got := m.Rank("Alice", []string{"alice", "Alice"})
	if len(got) != 2 {
		t.Fatalf("suggestions: got %d, want 2", len(got))
	}
	if got[0].Name != "alice" {
		t.Errorf("tie order: got %q first, want %q", got[0].Name, "alice")
	}
}

func TestRank_ThresholdOptions(t *testing.T) {
	// With the fuzzy threshold raised to 1.0, only exact strings qualify on
	// the fuzzy path.
	strict := speaker.New(speaker.WithFuzzyThreshold(1.0), speaker.WithPhoneticThreshold(1.0))
	if got := strict.Rank("Aliice", []string{"Alice"}); len(got) != 0 {
		t.Errorf("strict matcher: got %v, want no suggestions", got)
	}

	loose := speaker.New(speaker.WithFuzzyThreshold(0.5), speaker.WithPhoneticThreshold(0.5))
	if got := loose.Rank("Aliice", []string{"Alice"}); len(got) != 1 {
		t.Errorf("loose matcher: got %v, want one suggestion", got)
	}
}

func TestRank_MultiWordTokenMatch(t *testing.T) {
	m := speaker.New()

	// A single typed token should still surface a multi-word name when it
	// matches one of the tokens strongly.
	got := m.Rank("hartmann", []string{"Alice Hartmann"})
	if len(got) != 1 {
		t.Fatalf("suggestions: got %v, want 1", got)
	}
}
