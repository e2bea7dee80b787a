// Package siteclient defines the contract every upstream adapter
// implements (spec.md §4.1). The dispatcher only ever talks to sites
// through this interface; it never touches site-specific HTML. Concrete
// adapters live in sibling packages (siteclient/hdu, siteclient/scu).
package siteclient

import "context"

// ClientType distinguishes practice clients from contest-scoped ones.
type ClientType string

const (
	TypePractice ClientType = "practice"
	TypeContest  ClientType = "contest"
)

// StatusHints narrows status-lookup listing pages that would otherwise
// require scanning every row on a page (spec.md §4.1).
type StatusHints struct {
	UserID    string
	ProblemID string
}

// ProblemRecord is what GetProblem returns for a problem that exists.
type ProblemRecord struct {
	Title        string
	Description  string
	Input        string
	Output       string
	SampleInput  string
	SampleOutput string
	TimeLimitMS  int
	MemLimitKB   int
}

// ContestInfo is what GetContestInfo/hdu.ListRecentContests returns.
type ContestInfo struct {
	Site      string
	ContestID string
	Title     string
	Public    bool
	Status    string // "Pending", "Running", "Ended"
	StartTime int64  // unix seconds
	EndTime   int64  // unix seconds
	Problems  []ContestProblemRef
}

// ContestProblemRef is one entry of a contest's problem list.
type ContestProblemRef struct {
	DisplayLabel string
	ProblemID    string
}

// Client is the practice-site contract (spec.md §4.1). All methods may
// return a *siteclient.Error; callers branch on its Kind.
type Client interface {
	// Name returns a stable identifier ("hdu", "scu", "hdu_ct_1234").
	Name() string

	// UserID returns the bot account id, or a KindLoginRequired Error if
	// the client has never successfully logged in.
	UserID() (string, error)

	// ClientType reports whether this is a practice or contest client.
	ClientType() ClientType

	// Login establishes a session for (username, password). May fail with
	// KindUserNotExist, KindPasswordError, or KindConnection.
	Login(ctx context.Context, username, password string) error

	// UpdateCookies re-authenticates using the credentials passed to the
	// last successful Login. May only fail with KindConnection. The hdu
	// and scu adapters keep no password after Login and do not
	// re-authenticate: their UpdateCookies always returns a KindConnection
	// Error.
	UpdateCookies(ctx context.Context) error

	// GetProblem returns nil (not an error) when the site reports no such
	// problem.
	GetProblem(ctx context.Context, problemID string) (*ProblemRecord, error)

	// GetProblemList returns every known problem id, sorted, deduplicated.
	GetProblemList(ctx context.Context) ([]string, error)

	// SubmitProblem submits source under language and returns the
	// upstream-assigned run id. May fail with KindSubmit, KindLoginRequired,
	// or KindConnection.
	SubmitProblem(ctx context.Context, problemID, language, source string) (runID string, err error)

	// GetSubmitStatus returns nil (not an error) when the run is not yet
	// visible on the status page (retryable).
	GetSubmitStatus(ctx context.Context, runID string, hints StatusHints) (*StatusResult, error)
}

// StatusResult is a non-nil GetSubmitStatus outcome.
type StatusResult struct {
	Verdict string
	ExeTime int // ms
	ExeMem  int // kB
}

// ContestClient extends Client with contest-scoped operations.
type ContestClient interface {
	Client

	// ContestID returns the upstream contest id this client is bound to.
	ContestID() string

	// GetContestInfo returns the last-refreshed contest metadata.
	GetContestInfo(ctx context.Context) (*ContestInfo, error)

	// RefreshContestInfo re-fetches contest metadata from upstream.
	RefreshContestInfo(ctx context.Context) error
}

// RecentContestLister is implemented by a site package's constructor
// namespace (not by a Client instance) to fetch contests the site is
// currently advertising, standing in for the source's static
// get_recent_contest classmethod.
type RecentContestLister func(ctx context.Context) ([]ContestInfo, error)
