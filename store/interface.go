package store

import "context"

// Store abstracts the relational backend the dispatcher reads and writes
// submissions, problems and contests through. The only implementation
// shipped here is Postgres (see store/postgres), but components depend on
// this interface so tests can supply a fake.
type Store interface {
	// Submission operations
	GetSubmission(ctx context.Context, id int64) (*Submission, error)
	SetSubmissionRunID(ctx context.Context, id int64, runID, botUserID string) error
	SetSubmissionVerdict(ctx context.Context, id int64, verdict string, exeTimeMS, exeMemKB int) error
	ListSubmissionsByVerdict(ctx context.Context, verdicts ...string) ([]*Submission, error)

	// Problem operations
	GetProblem(ctx context.Context, ojName, problemID string) (*Problem, error)
	UpsertProblem(ctx context.Context, p *Problem, cooldown bool) (bool, error)

	// Contest operations
	GetContest(ctx context.Context, id int64) (*Contest, error)
	UpsertContest(ctx context.Context, c *Contest) error
}
