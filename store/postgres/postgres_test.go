package postgres

import (
	"testing"

	"github.com/sleepymole/vjudge-dispatcher/store"
)

func TestMergeNonEmptyKeepsExistingWhenFreshIsBlank(t *testing.T) {
	existing := &store.Problem{
		Title:       "A+B Problem",
		Description: "compute a+b",
		TimeLimitMS: 1000,
		MemLimitKB:  32768,
	}
	fresh := &store.Problem{Title: "", Description: "", TimeLimitMS: 0, MemLimitKB: 0}

	mergeNonEmpty(existing, fresh)

	if fresh.Title != existing.Title {
		t.Errorf("Title = %q, want %q", fresh.Title, existing.Title)
	}
	if fresh.Description != existing.Description {
		t.Errorf("Description = %q, want %q", fresh.Description, existing.Description)
	}
	if fresh.TimeLimitMS != existing.TimeLimitMS {
		t.Errorf("TimeLimitMS = %d, want %d", fresh.TimeLimitMS, existing.TimeLimitMS)
	}
	if fresh.MemLimitKB != existing.MemLimitKB {
		t.Errorf("MemLimitKB = %d, want %d", fresh.MemLimitKB, existing.MemLimitKB)
	}
}

func TestMergeNonEmptyPrefersFreshWhenNonBlank(t *testing.T) {
	existing := &store.Problem{Title: "Old Title", TimeLimitMS: 1000}
	fresh := &store.Problem{Title: "New Title", TimeLimitMS: 2000}

	mergeNonEmpty(existing, fresh)

	if fresh.Title != "New Title" {
		t.Errorf("Title = %q, want %q (fresh should win when non-empty)", fresh.Title, "New Title")
	}
	if fresh.TimeLimitMS != 2000 {
		t.Errorf("TimeLimitMS = %d, want 2000", fresh.TimeLimitMS)
	}
}

func TestMergeNonEmptyKeepsExistingContestID(t *testing.T) {
	id := int64(1001)
	existing := &store.Problem{ContestID: &id}
	fresh := &store.Problem{ContestID: nil}

	mergeNonEmpty(existing, fresh)

	if fresh.ContestID == nil || *fresh.ContestID != id {
		t.Errorf("ContestID = %v, want %d", fresh.ContestID, id)
	}
}

func TestEncodeDecodeProblemRefsRoundTrip(t *testing.T) {
	refs := []store.ContestProblemRef{
		{DisplayLabel: "A", Site: "hdu", ProblemID: "1000"},
		{DisplayLabel: "B", Site: "hdu", ProblemID: "1001"},
	}
	data, err := encodeProblemRefs(refs)
	if err != nil {
		t.Fatalf("encodeProblemRefs: %v", err)
	}
	got, err := decodeProblemRefs(data)
	if err != nil {
		t.Fatalf("decodeProblemRefs: %v", err)
	}
	if len(got) != len(refs) {
		t.Fatalf("decoded %d refs, want %d", len(got), len(refs))
	}
	for i := range refs {
		if got[i] != refs[i] {
			t.Errorf("ref[%d] = %+v, want %+v", i, got[i], refs[i])
		}
	}
}

func TestEncodeProblemRefsNilBecomesEmptyArray(t *testing.T) {
	data, err := encodeProblemRefs(nil)
	if err != nil {
		t.Fatalf("encodeProblemRefs: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("encodeProblemRefs(nil) = %q, want []", data)
	}
}

func TestDecodeProblemRefsEmptyInputYieldsNil(t *testing.T) {
	got, err := decodeProblemRefs(nil)
	if err != nil {
		t.Fatalf("decodeProblemRefs: %v", err)
	}
	if got != nil {
		t.Errorf("decodeProblemRefs(nil) = %v, want nil", got)
	}
}
