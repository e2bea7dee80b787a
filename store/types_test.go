package store

import "testing"

func TestIsTerminal(t *testing.T) {
	cases := map[string]bool{
		VerdictQueuing:     false,
		VerdictBeingJudged: false,
		VerdictCompiling:   false,
		VerdictRunning:     false,
		"Accepted":         true,
		"Wrong Answer":     true,
		VerdictSubmitFailed: true,
		VerdictJudgeFailed:  true,
	}
	for verdict, want := range cases {
		if got := IsTerminal(verdict); got != want {
			t.Errorf("IsTerminal(%q) = %v, want %v", verdict, got, want)
		}
	}
}
