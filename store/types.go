package store

import "time"

// Verdicts the dispatcher names. The first four are non-terminal: a
// submission in one of them is still owned by either the Submitter
// (Queuing, Being Judged) or the Status Poller (Being Judged, Compiling,
// Running, Queuing as reported upstream). Submit Failed and Judge Failed
// are terminal verdicts the dispatcher writes itself.
const (
	VerdictQueuing     = "Queuing"
	VerdictBeingJudged = "Being Judged"
	VerdictCompiling   = "Compiling"
	VerdictRunning     = "Running"

	VerdictSubmitFailed = "Submit Failed"
	VerdictJudgeFailed  = "Judge Failed"
)

// nonTerminalVerdicts mirrors the glossary's non-terminal set. Anything
// else returned by a site (Accepted, Wrong Answer, Compilation Error, ...)
// is terminal and opaque to the dispatcher.
var nonTerminalVerdicts = map[string]bool{
	VerdictBeingJudged: true,
	VerdictQueuing:     true,
	VerdictCompiling:   true,
	VerdictRunning:     true,
}

// IsTerminal reports whether verdict is a terminal state.
func IsTerminal(verdict string) bool {
	return !nonTerminalVerdicts[verdict]
}

// Submission is one row per user submit (spec.md §3).
type Submission struct {
	ID         int64
	UserID     int64
	OJName     string
	ProblemID  string
	Language   string
	SourceCode string
	Share      bool

	RunID     string // empty until phase 1 (Being Judged)
	BotUserID string // the bot account that owns the upstream run

	Verdict string
	ExeTime int // ms
	ExeMem  int // kB

	CreatedAt time.Time
}

// ContestSubmission is a Submission scoped to a contest, with a
// per-contest monotonic sequence number assigned by the front-end.
type ContestSubmission struct {
	Submission
	ContestID int64
	Seq       int64
}

// Problem is keyed by (OJName, ProblemID). Upserts must preserve existing
// non-empty fields when the crawled value is empty (spec.md §3 invariant).
type Problem struct {
	OJName    string
	ProblemID string
	ContestID *int64 // set for contest-scoped problem mirrors

	Title        string
	Description  string
	Input        string
	Output       string
	SampleInput  string
	SampleOutput string

	TimeLimitMS  int
	MemLimitKB   int

	Source     string // judge/contest name metadata was scraped from
	LastUpdate time.Time
}

// Contest status enumeration.
const (
	ContestPending = "Pending"
	ContestRunning = "Running"
	ContestEnded   = "Ended"
)

// ContestProblemRef is one entry of a Contest's serialized problem list.
type ContestProblemRef struct {
	DisplayLabel string `json:"display_label"`
	Site         string `json:"site"`
	ProblemID    string `json:"problem_id"`
}

// Contest mirrors an upstream contest's metadata.
type Contest struct {
	ID          int64
	IsClone     bool
	CloneName   string // "<site>_ct_<id>" when IsClone
	Title       string
	Public      bool
	Status      string
	StartTime   time.Time
	EndTime     time.Time
	Problems    []ContestProblemRef

	ProblemCount int // derived, recomputed on every upsert
}
