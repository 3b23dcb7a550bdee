package transcript_test

import (
	"testing"
	"time"

	"github.com/interviewd/interviewd/internal/transcript"
)

func TestDeduper_NoPriorFinalIsNeverDuplicate(t *testing.T) {
	d := transcript.NewDeduper(2 * time.Second)
	if d.IsDuplicate("hello there", time.Now()) {
		t.Error("expected no duplicate before any accepted final")
	}
}

func TestDeduper_ExactRepeatWithinWindowIsDuplicate(t *testing.T) {
	d := transcript.NewDeduper(2 * time.Second)
	t0 := time.Now()
	d.Accept("I think that's a strong approach", t0)

	if !d.IsDuplicate("I think that's a strong approach", t0.Add(500*time.Millisecond)) {
		t.Error("expected exact repeat within window to be flagged as duplicate")
	}
}

func TestDeduper_ExactRepeatOutsideWindowIsNotDuplicate(t *testing.T) {
	d := transcript.NewDeduper(2 * time.Second)
	t0 := time.Now()
	d.Accept("I think that's a strong approach", t0)

	if d.IsDuplicate("I think that's a strong approach", t0.Add(3*time.Second)) {
		t.Error("expected repeat outside window to not be flagged as duplicate")
	}
}

func TestDeduper_ContainmentWithHighLengthRatioIsDuplicate(t *testing.T) {
	d := transcript.NewDeduper(2 * time.Second)
	t0 := time.Now()
	d.Accept("that is correct", t0)

	if !d.IsDuplicate("that is correct yes", t0.Add(time.Second)) {
		t.Error("expected high-ratio containment to be flagged as duplicate")
	}
}

func TestDeduper_UnrelatedTextIsNotDuplicate(t *testing.T) {
	d := transcript.NewDeduper(2 * time.Second)
	t0 := time.Now()
	d.Accept("let's talk about the project timeline", t0)

	if d.IsDuplicate("what is your greatest weakness", t0.Add(time.Second)) {
		t.Error("expected unrelated text to not be flagged as duplicate")
	}
}

// TestDeduper_SimilarButNotSuppressed locks in the exact two-criteria
// suppression rule: strings that merely "sound" similar (but are neither an
// exact match after normalization nor a high-length-ratio containment) must
// never be suppressed, even when they're lexically close.
func TestDeduper_SimilarButNotSuppressed(t *testing.T) {
	d := transcript.NewDeduper(2 * time.Second)
	t0 := time.Now()
	d.Accept("I worked on the checkout pipeline", t0)

	if d.IsDuplicate("I worked on the checkin pipeline", t0.Add(time.Second)) {
		t.Error("expected a lexically close but non-matching, non-containing pair to not be flagged as duplicate")
	}
}

func TestDeduper_ResetClearsState(t *testing.T) {
	d := transcript.NewDeduper(2 * time.Second)
	t0 := time.Now()
	d.Accept("some prior final", t0)
	d.Reset()

	if d.IsDuplicate("some prior final", t0.Add(time.Millisecond)) {
		t.Error("expected Reset to clear dedup state")
	}
}
