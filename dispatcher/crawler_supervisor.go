package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sleepymole/vjudge-dispatcher/accounts"
	"github.com/sleepymole/vjudge-dispatcher/crawler"
	"github.com/sleepymole/vjudge-dispatcher/observability"
	"github.com/sleepymole/vjudge-dispatcher/queue"
	"github.com/sleepymole/vjudge-dispatcher/store"
)

// crawlPool is one site's live crawler.Crawler accounts, analogous to
// CrawlerHandler._running_crawlers[oj_name].
type crawlPool struct {
	crawlers  map[string]*crawler.Crawler
	startedAt time.Time
}

// CrawlerSupervisor is C6: the crawl-queue consumer loop and its
// lazily-constructed per-site crawlPools. Unlike the submit side, it
// has no bootstrap step — the original's CrawlerHandler.run never
// scans for unfinished crawl work on startup, only the submit side
// does (spec.md §9 decision 3 addresses the submit side only).
type CrawlerSupervisor struct {
	queue    *queue.Queue
	store    store.Store
	accounts *accounts.Registry
	log      *zap.Logger

	mu    sync.Mutex
	pools map[string]*crawlPool
}

// NewCrawlerSupervisor builds a CrawlerSupervisor. Run must be called
// to start the dispatch loop.
func NewCrawlerSupervisor(q *queue.Queue, st store.Store, reg *accounts.Registry, log *zap.Logger) *CrawlerSupervisor {
	return &CrawlerSupervisor{queue: q, store: st, accounts: reg, log: log, pools: map[string]*crawlPool{}}
}

// Run drains the crawl queue until ctx is cancelled.
func (sup *CrawlerSupervisor) Run(ctx context.Context) {
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

		task, ok, err := sup.queue.DequeueCrawl(ctx, 10*time.Minute)
		if err != nil {
			if ctx.Err() != nil {
				sup.stopAll()
				return
			}
			sup.log.Error("dequeue crawl task failed", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		sup.dispatch(ctx, task)
	}
}

func (sup *CrawlerSupervisor) dispatch(ctx context.Context, task *queue.CrawlTask) {
	if task.Type != "problem" && task.Type != "contest" {
		sup.log.Error("unsupported crawl_type", zap.String("type", task.Type))
		return
	}
	if !sup.accounts.HasAccounts(baseOJName(task.OJName)) {
		sup.log.Error("unsupported oj_name", zap.String("oj_name", task.OJName))
		observability.CrawlTasksDequeued.WithLabelValues(task.OJName, "no_account").Inc()
		return
	}

	pool, err := sup.poolFor(ctx, task.OJName)
	if err != nil {
		sup.log.Error("cannot start client", zap.String("oj_name", task.OJName), zap.Error(err))
		observability.CrawlTasksDequeued.WithLabelValues(task.OJName, "pool_failed").Inc()
		return
	}

	accountsList := make([]*crawler.Crawler, 0, len(pool.crawlers))
	for _, c := range pool.crawlers {
		accountsList = append(accountsList, c)
	}
	if len(accountsList) == 0 {
		return
	}
	target := accountsList[0]
	if task.ProblemID != "" || task.Type == "contest" {
		// The index depends only on the length of the oj_name, so it is
		// the same for every task of this pool. accountsList follows map
		// iteration order, which is not fixed, so the account it names
		// (and accountsList[0] above) can differ from one task to the next.
		target = accountsList[len(task.OJName)%len(accountsList)]
	}
	if !target.Enqueue(*task) {
		sup.log.Error("crawl queue full for account", zap.String("oj_name", task.OJName))
		observability.CrawlTasksDequeued.WithLabelValues(task.OJName, "pool_failed").Inc()
		return
	}
	observability.CrawlTasksDequeued.WithLabelValues(task.OJName, "dispatched").Inc()
}

func (sup *CrawlerSupervisor) poolFor(ctx context.Context, ojName string) (*crawlPool, error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if pool, ok := sup.pools[ojName]; ok {
		return pool, nil
	}

	creds := sup.accounts.CredentialsFor(ojName)
	pool := &crawlPool{crawlers: map[string]*crawler.Crawler{}, startedAt: time.Now()}
	for _, cred := range creds {
		client, err := sup.accounts.NewAuthenticatedClient(ctx, ojName, cred)
		if err != nil {
			sup.log.Error("create crawler failed", zap.String("oj_name", ojName), zap.String("user_id", cred.Username), zap.Error(err))
			continue
		}
		pool.crawlers[cred.Username] = crawler.New(client, sup.store, sup.queue, sup.log)
	}
	if len(pool.crawlers) == 0 {
		return nil, errNoAccountsAvailable(ojName)
	}
	sup.pools[ojName] = pool
	observability.ActivePools.WithLabelValues(ojName, "crawl").Set(float64(len(pool.crawlers)))
	return pool, nil
}

func (sup *CrawlerSupervisor) reapIdlePools() {
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
		observability.ActivePools.WithLabelValues(ojName, "crawl").Set(0)
		sup.log.Info("no more task, stopping crawlers", zap.String("oj_name", ojName))
		go func(p *crawlPool, name string) {
			for _, c := range p.crawlers {
				c.Stop()
			}
			sup.log.Info("stopped crawlers", zap.String("oj_name", name))
		}(pool, ojName)
	}
	sup.mu.Unlock()
}

func (sup *CrawlerSupervisor) stopAll() {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for ojName, pool := range sup.pools {
		for _, c := range pool.crawlers {
			c.Stop()
		}
		delete(sup.pools, ojName)
	}
}
