// Package postgres implements store.Store on top of PostgreSQL, following
// the connection-pool and explicit-SQL conventions of the teacher's
// store/postgres.go (every query hand-written, pgxpool for concurrency,
// ON CONFLICT upserts rather than read-then-write transactions).
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sleepymole/vjudge-dispatcher/store"
)

// Store implements store.Store using a PostgreSQL connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New initializes a connection pool and verifies connectivity.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// --- Submission operations ---

func (s *Store) GetSubmission(ctx context.Context, id int64) (*store.Submission, error) {
	query := `
		SELECT id, user_id, oj_name, problem_id, language, source_code, share,
		       run_id, bot_user_id, verdict, exe_time, exe_mem, created_at
		FROM submissions WHERE id = $1
	`
	var sub store.Submission
	var runID, botUserID *string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.UserID, &sub.OJName, &sub.ProblemID, &sub.Language, &sub.SourceCode, &sub.Share,
		&runID, &botUserID, &sub.Verdict, &sub.ExeTime, &sub.ExeMem, &sub.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if runID != nil {
		sub.RunID = *runID
	}
	if botUserID != nil {
		sub.BotUserID = *botUserID
	}
	return &sub, nil
}

func (s *Store) SetSubmissionRunID(ctx context.Context, id int64, runID, botUserID string) error {
	query := `UPDATE submissions SET run_id = $2, bot_user_id = $3, verdict = $4 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, runID, botUserID, store.VerdictBeingJudged)
	return err
}

func (s *Store) SetSubmissionVerdict(ctx context.Context, id int64, verdict string, exeTimeMS, exeMemKB int) error {
	query := `UPDATE submissions SET verdict = $2, exe_time = $3, exe_mem = $4 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, verdict, exeTimeMS, exeMemKB)
	return err
}

func (s *Store) ListSubmissionsByVerdict(ctx context.Context, verdicts ...string) ([]*store.Submission, error) {
	query := `
		SELECT id, user_id, oj_name, problem_id, language, source_code, share,
		       run_id, bot_user_id, verdict, exe_time, exe_mem, created_at
		FROM submissions WHERE verdict = ANY($1)
	`
	rows, err := s.pool.Query(ctx, query, verdicts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Submission
	for rows.Next() {
		var sub store.Submission
		var runID, botUserID *string
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.OJName, &sub.ProblemID, &sub.Language, &sub.SourceCode, &sub.Share,
			&runID, &botUserID, &sub.Verdict, &sub.ExeTime, &sub.ExeMem, &sub.CreatedAt,
		); err != nil {
			return nil, err
		}
		if runID != nil {
			sub.RunID = *runID
		}
		if botUserID != nil {
			sub.BotUserID = *botUserID
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

// --- Problem operations ---

func (s *Store) GetProblem(ctx context.Context, ojName, problemID string) (*store.Problem, error) {
	query := `
		SELECT oj_name, problem_id, contest_id, title, description, input, output,
		       sample_input, sample_output, time_limit_ms, mem_limit_kb, source, last_update
		FROM problems WHERE oj_name = $1 AND problem_id = $2
	`
	var p store.Problem
	err := s.pool.QueryRow(ctx, query, ojName, problemID).Scan(
		&p.OJName, &p.ProblemID, &p.ContestID, &p.Title, &p.Description, &p.Input, &p.Output,
		&p.SampleInput, &p.SampleOutput, &p.TimeLimitMS, &p.MemLimitKB, &p.Source, &p.LastUpdate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProblem merges a freshly crawled record into the stored row,
// keeping existing non-empty fields when the new value is empty
// (spec.md §3 invariant). When cooldown is true, an update within 10
// minutes of the stored last_update is skipped (spec.md §4.7) and the
// function returns (false, nil).
func (s *Store) UpsertProblem(ctx context.Context, p *store.Problem, cooldown bool) (bool, error) {
	existing, err := s.GetProblem(ctx, p.OJName, p.ProblemID)
	if err != nil {
		return false, err
	}

	if existing != nil {
		if cooldown && time.Since(existing.LastUpdate) < 10*time.Minute {
			return false, nil
		}
		mergeNonEmpty(existing, p)
	}
	p.LastUpdate = time.Now().UTC()

	query := `
		INSERT INTO problems (oj_name, problem_id, contest_id, title, description, input, output,
		                       sample_input, sample_output, time_limit_ms, mem_limit_kb, source, last_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (oj_name, problem_id) DO UPDATE SET
			contest_id = EXCLUDED.contest_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			sample_input = EXCLUDED.sample_input,
			sample_output = EXCLUDED.sample_output,
			time_limit_ms = EXCLUDED.time_limit_ms,
			mem_limit_kb = EXCLUDED.mem_limit_kb,
			source = EXCLUDED.source,
			last_update = EXCLUDED.last_update
	`
	_, err = s.pool.Exec(ctx, query,
		p.OJName, p.ProblemID, p.ContestID, p.Title, p.Description, p.Input, p.Output,
		p.SampleInput, p.SampleOutput, p.TimeLimitMS, p.MemLimitKB, p.Source, p.LastUpdate,
	)
	return err == nil, err
}

// mergeNonEmpty fills zero-valued fields of fresh from existing. This
// replaces the source's field-at-a-time dynamic attribute copy
// (`problem.title = result.get('title')`, unconditionally) with an
// explicit list, per REDESIGN FLAGS §9.
func mergeNonEmpty(existing, fresh *store.Problem) {
	if fresh.Title == "" {
		fresh.Title = existing.Title
	}
	if fresh.Description == "" {
		fresh.Description = existing.Description
	}
	if fresh.Input == "" {
		fresh.Input = existing.Input
	}
	if fresh.Output == "" {
		fresh.Output = existing.Output
	}
	if fresh.SampleInput == "" {
		fresh.SampleInput = existing.SampleInput
	}
	if fresh.SampleOutput == "" {
		fresh.SampleOutput = existing.SampleOutput
	}
	if fresh.TimeLimitMS == 0 {
		fresh.TimeLimitMS = existing.TimeLimitMS
	}
	if fresh.MemLimitKB == 0 {
		fresh.MemLimitKB = existing.MemLimitKB
	}
	if fresh.Source == "" {
		fresh.Source = existing.Source
	}
	if fresh.ContestID == nil {
		fresh.ContestID = existing.ContestID
	}
}

// --- Contest operations ---

func (s *Store) GetContest(ctx context.Context, id int64) (*store.Contest, error) {
	query := `
		SELECT id, is_clone, clone_name, title, public, status, start_time, end_time, problems, problem_count
		FROM contests WHERE id = $1
	`
	var c store.Contest
	var problemsJSON []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.IsClone, &c.CloneName, &c.Title, &c.Public, &c.Status,
		&c.StartTime, &c.EndTime, &problemsJSON, &c.ProblemCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Problems, err = decodeProblemRefs(problemsJSON)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpsertContest(ctx context.Context, c *store.Contest) error {
	c.ProblemCount = len(c.Problems)
	problemsJSON, err := encodeProblemRefs(c.Problems)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO contests (id, is_clone, clone_name, title, public, status, start_time, end_time, problems, problem_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			is_clone = EXCLUDED.is_clone,
			clone_name = EXCLUDED.clone_name,
			title = EXCLUDED.title,
			public = EXCLUDED.public,
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			problems = EXCLUDED.problems,
			problem_count = EXCLUDED.problem_count
	`
	_, err = s.pool.Exec(ctx, query,
		c.ID, c.IsClone, c.CloneName, c.Title, c.Public, c.Status,
		c.StartTime, c.EndTime, problemsJSON, c.ProblemCount,
	)
	return err
}
