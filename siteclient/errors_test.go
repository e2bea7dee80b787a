package siteclient

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewConnectionError("request timed out", errors.New("dial tcp: timeout"))
	if !errors.Is(err, ConnectionError) {
		t.Fatalf("expected errors.Is(err, ConnectionError) to be true")
	}
	if errors.Is(err, LoginRequired) {
		t.Fatalf("expected errors.Is(err, LoginRequired) to be false")
	}
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewSubmitError("rejected", cause)
	if errors.Unwrap(err) != cause {
		t.Fatalf("expected Unwrap to return the wrapped cause")
	}
}

func TestParseOJName(t *testing.T) {
	tests := []struct {
		ojName        string
		wantSite      string
		wantContestID string
		wantIsContest bool
	}{
		{"hdu", "hdu", "", false},
		{"scu", "scu", "", false},
		{"hdu_ct_1234", "hdu", "1234", true},
	}
	for _, tt := range tests {
		site, contestID, isContest := ParseOJName(tt.ojName)
		if site != tt.wantSite || contestID != tt.wantContestID || isContest != tt.wantIsContest {
			t.Errorf("ParseOJName(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.ojName, site, contestID, isContest, tt.wantSite, tt.wantContestID, tt.wantIsContest)
		}
	}
}
