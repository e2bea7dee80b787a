// Package dispatcher implements the submitter and crawler supervisors
// (C5, C6), grounded on core/vjudge/main.py's SubmitterHandler and
// CrawlerHandler. Both supervisors share the same pool-lifecycle shape
// (lazy construction on first task for a site, hourly idle reap, a
// startup bootstrap scan for the submit side only); each supervisor
// implements that shape with its own pool type (submitPool, crawlPool).
package dispatcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sleepymole/vjudge-dispatcher/accounts"
	"github.com/sleepymole/vjudge-dispatcher/observability"
	"github.com/sleepymole/vjudge-dispatcher/poller"
	"github.com/sleepymole/vjudge-dispatcher/queue"
	"github.com/sleepymole/vjudge-dispatcher/siteclient"
	"github.com/sleepymole/vjudge-dispatcher/store"
	"github.com/sleepymole/vjudge-dispatcher/submitter"
)

// reapInterval and idleThreshold both match the original's
// `timedelta(hours=1)` used for _clean_free_submitters/_clean_free_crawlers.
const (
	reapInterval  = time.Hour
	idleThreshold = time.Hour
)

// submitPool is one site's live submitter.Submitter accounts, keyed by
// bot username — analogous to SubmitterHandler._running_submitters[oj_name].
type submitPool struct {
	submitters map[string]*submitter.Submitter
	startedAt  time.Time
}

// SubmitterSupervisor is C5: it owns the submit queue consumer loop and
// the lazily-constructed per-site submitPools.
type SubmitterSupervisor struct {
	queue    *queue.Queue
	store    store.Store
	accounts *accounts.Registry
	log      *zap.Logger

	mu    sync.Mutex
	pools map[string]*submitPool
}

// NewSubmitterSupervisor builds a SubmitterSupervisor. Run must be
// called to start the dispatch loop.
func NewSubmitterSupervisor(q *queue.Queue, st store.Store, reg *accounts.Registry, log *zap.Logger) *SubmitterSupervisor {
	return &SubmitterSupervisor{
		queue:    q,
		store:    st,
		accounts: reg,
		log:      log,
		pools:    map[string]*submitPool{},
	}
}

// Run drains the submit queue until ctx is cancelled, matching the
// original's `while True: data = brpop(...)` loop with an hourly reap
// check on every iteration (timeout=600s vs. the original's own 600s
// brpop timeout).
func (sup *SubmitterSupervisor) Run(ctx context.Context) {
	sup.bootstrap(ctx)
	lastReap := time.Now()
	for {
		select {
		case <-ctx.Done():
			sup.stopAll()
			return
		default:
		}

		if time.Since(lastReap) > reapInterval {
			sup.reapIdlePools()
			lastReap = time.Now()
		}

		id, ok, err := sup.queue.DequeueSubmission(ctx, 10*time.Minute)
		if err != nil {
			if ctx.Err() != nil {
				sup.stopAll()
				return
			}
			sup.log.Error("dequeue submission failed", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		sup.dispatch(ctx, id)
	}
}

// bootstrap re-enqueues every submission left in Queuing or Being
// Judged, matching _scan_unfinished_tasks. It must run exactly once,
// before the dispatch loop starts reading from the queue, so a crash-
// restart picks back up every submission the previous process owned.
func (sup *SubmitterSupervisor) bootstrap(ctx context.Context) {
	subs, err := sup.store.ListSubmissionsByVerdict(ctx, store.VerdictQueuing, store.VerdictBeingJudged)
	if err != nil {
		sup.log.Error("bootstrap scan failed", zap.Error(err))
		return
	}
	for _, s := range subs {
		if err := sup.queue.EnqueueSubmission(ctx, s.ID); err != nil {
			sup.log.Error("bootstrap requeue failed", zap.Int64("submission_id", s.ID), zap.Error(err))
		}
	}
	sup.log.Info("bootstrap scan complete", zap.Int("requeued", len(subs)))
}

func (sup *SubmitterSupervisor) dispatch(ctx context.Context, submissionID int64) {
	sub, err := sup.store.GetSubmission(ctx, submissionID)
	if err != nil || sub == nil {
		sup.log.Error("submission not found", zap.Int64("submission_id", submissionID))
		observability.SubmissionsEnqueued.WithLabelValues("unknown", "missing").Inc()
		return
	}
	if !sup.accounts.HasAccounts(baseOJName(sub.OJName)) {
		sup.log.Error("unsupported oj_name", zap.String("oj_name", sub.OJName))
		observability.SubmissionsEnqueued.WithLabelValues(sub.OJName, "no_account").Inc()
		return
	}

	pool, err := sup.poolFor(ctx, sub.OJName)
	if err != nil {
		if setErr := sup.store.SetSubmissionVerdict(ctx, submissionID, store.VerdictSubmitFailed, 0, 0); setErr != nil {
			sup.log.Error("persist submit-failed verdict failed", zap.Int64("submission_id", submissionID), zap.Error(setErr))
		}
		sup.log.Error("cannot start client", zap.String("oj_name", sub.OJName), zap.Error(err))
		observability.SubmissionsEnqueued.WithLabelValues(sub.OJName, "pool_failed").Inc()
		return
	}

	// Round-robin across the pool's accounts by submission id, spreading
	// load the way the original's per-oj_name single shared Queue does
	// implicitly (every account pulls from the same work queue).
	accountsList := pool.sortedAccounts()
	target := accountsList[int(submissionID)%len(accountsList)]
	if !target.Enqueue(submissionID) {
		sup.log.Error("submit queue full for account", zap.String("oj_name", sub.OJName))
		observability.SubmissionsEnqueued.WithLabelValues(sub.OJName, "pool_failed").Inc()
		return
	}
	observability.SubmissionsEnqueued.WithLabelValues(sub.OJName, "dispatched").Inc()
}

func (p *submitPool) sortedAccounts() []*submitter.Submitter {
	names := make([]string, 0, len(p.submitters))
	for name := range p.submitters {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*submitter.Submitter, 0, len(names))
	for _, name := range names {
		out = append(out, p.submitters[name])
	}
	return out
}

// poolFor returns the existing pool for ojName or constructs one,
// logging in every configured account for that site, matching
// _start_new_submitters.
func (sup *SubmitterSupervisor) poolFor(ctx context.Context, ojName string) (*submitPool, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if pool, ok := sup.pools[ojName]; ok {
		return pool, nil
	}

	creds := sup.accounts.CredentialsFor(ojName)
	pool := &submitPool{submitters: map[string]*submitter.Submitter{}, startedAt: time.Now()}
	for _, cred := range creds {
		client, err := sup.accounts.NewAuthenticatedClient(ctx, ojName, cred)
		if err != nil {
			sup.log.Error("create submitter failed", zap.String("oj_name", ojName), zap.String("user_id", cred.Username), zap.Error(err))
			continue
		}
		pl := poller.New(client, sup.store, sup.log)
		pool.submitters[cred.Username] = submitter.New(client, sup.store, pl, sup.log)
	}
	if len(pool.submitters) == 0 {
		return nil, errNoAccountsAvailable(ojName)
	}
	sup.pools[ojName] = pool
	observability.ActivePools.WithLabelValues(ojName, "submit").Set(float64(len(pool.submitters)))
	return pool, nil
}

// reapIdlePools stops every pool whose startedAt is older than
// idleThreshold, matching _clean_free_submitters (measured from pool
// start, not last use — see DESIGN.md for why this is kept as spec'd).
func (sup *SubmitterSupervisor) reapIdlePools() {
	sup.mu.Lock()
	var stale []string
	for ojName, pool := range sup.pools {
		if time.Since(pool.startedAt) > idleThreshold {
			stale = append(stale, ojName)
		}
	}
	for _, ojName := range stale {
		pool := sup.pools[ojName]
		delete(sup.pools, ojName)
		observability.ActivePools.WithLabelValues(ojName, "submit").Set(0)
		sup.log.Info("no more task, stopping submitters", zap.String("oj_name", ojName))
		go func(p *submitPool, name string) {
			for _, s := range p.submitters {
				s.Stop()
			}
			sup.log.Info("stopped submitters", zap.String("oj_name", name))
		}(pool, ojName)
	}
	sup.mu.Unlock()
}

func (sup *SubmitterSupervisor) stopAll() {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for ojName, pool := range sup.pools {
		for _, s := range pool.submitters {
			s.Stop()
		}
		delete(sup.pools, ojName)
	}
}

func baseOJName(ojName string) string {
	base, _, _ := siteclient.ParseOJName(ojName)
	return base
}

type errNoAccountsAvailable string

func (e errNoAccountsAvailable) Error() string {
	return "no account could log in for " + string(e)
}
