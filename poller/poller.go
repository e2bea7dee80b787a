// Package poller implements the status-polling half of a submitter
// pool (C2), grounded on core/vjudge/main.py's StatusCrawler. The
// original runs one asyncio event loop per OS thread and schedules one
// coroutine per submission; we replace that with one goroutine per
// polled submission, coordinated by a WaitGroup instead of asyncio's
// run_until_complete(gather(pending)) drain — the Go-native shape
// called for by REDESIGN FLAGS §9 ("express the per-account event loop
// as ... a channel of (submission_id, next_due_time) consumed by a
// single goroutine, or a bounded worker pool").
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sleepymole/vjudge-dispatcher/observability"
	"github.com/sleepymole/vjudge-dispatcher/siteclient"
	"github.com/sleepymole/vjudge-dispatcher/store"
)

// maxAttempts matches the original's `for delay in range(120)`.
const maxAttempts = 120

// Task identifies one submission whose status needs polling.
type Task struct {
	SubmissionID int64
	RunID        string
	ProblemID    string
	UserID       string
}

// Poller polls upstream status pages for one account's in-flight
// submissions. It is owned by exactly one submitter.Submitter.
type Poller struct {
	client siteclient.Client
	store  store.Store
	log    *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	accept bool
}

// New builds a Poller bound to client. AddTask may be called as soon as
// New returns, matching the original's wait_start/add_task pairing
// collapsed into a single constructor since there is no separate event
// loop to wait for.
func New(client siteclient.Client, st store.Store, log *zap.Logger) *Poller {
	return &Poller{client: client, store: st, log: log, accept: true}
}

// AddTask spawns a goroutine that polls t until a terminal verdict, a
// hard failure, or maxAttempts is exhausted. It returns false if the
// poller is stopping and the task was rejected, mirroring the
// original's "Cannot add task when crawler is stopping" guard (but
// returning a bool instead of raising, since rejection here is a normal
// race during shutdown, not a programming error).
func (p *Poller) AddTask(ctx context.Context, t Task) bool {
	p.mu.Lock()
	if !p.accept {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	observability.PollerQueueDepth.WithLabelValues(p.client.Name(), t.UserID).Inc()
	go func() {
		defer p.wg.Done()
		defer observability.PollerQueueDepth.WithLabelValues(p.client.Name(), t.UserID).Dec()
		p.run(ctx, t)
	}()
	return true
}

func (p *Poller) run(ctx context.Context, t Task) {
	traceID := uuid.New().String()
	log := p.log.With(zap.String("trace_id", traceID))
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * time.Second):
		}

		result, err := p.client.GetSubmitStatus(ctx, t.RunID, siteclient.StatusHints{
			UserID:    t.UserID,
			ProblemID: t.ProblemID,
		})
		if err != nil {
			if se, ok := err.(*siteclient.Error); ok && se.Kind == siteclient.KindLoginRequired {
				if updateErr := p.client.UpdateCookies(ctx); updateErr == nil {
					observability.PollAttempts.WithLabelValues(p.client.Name(), "login_required").Inc()
					continue
				}
			}
			observability.PollAttempts.WithLabelValues(p.client.Name(), "connection_error").Inc()
			p.finalize(ctx, t, store.VerdictJudgeFailed, 0, 0)
			log.Error("crawled status failed",
				zap.Int64("submission_id", t.SubmissionID), zap.Error(err))
			return
		}
		if result == nil {
			observability.PollAttempts.WithLabelValues(p.client.Name(), "pending").Inc()
			continue
		}
		if store.IsTerminal(result.Verdict) {
			observability.PollAttempts.WithLabelValues(p.client.Name(), "terminal").Inc()
			p.finalize(ctx, t, result.Verdict, result.ExeTime, result.ExeMem)
			log.Info("crawled status successfully",
				zap.Int64("submission_id", t.SubmissionID), zap.String("verdict", result.Verdict))
			return
		}
	}
	p.finalize(ctx, t, store.VerdictJudgeFailed, 0, 0)
	log.Error("crawled status failed: timeout", zap.Int64("submission_id", t.SubmissionID))
}

func (p *Poller) finalize(ctx context.Context, t Task, verdict string, exeTime, exeMem int) {
	if err := p.store.SetSubmissionVerdict(ctx, t.SubmissionID, verdict, exeTime, exeMem); err != nil {
		p.log.Error("persist verdict failed", zap.Int64("submission_id", t.SubmissionID), zap.Error(err))
		return
	}
	if store.IsTerminal(verdict) {
		observability.VerdictsFinalized.WithLabelValues(p.client.Name(), verdict).Inc()
	}
}

// Stop rejects further AddTask calls and blocks until every in-flight
// poll goroutine returns, or ctx is cancelled first.
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	p.accept = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
