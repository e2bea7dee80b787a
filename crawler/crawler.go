// Package crawler implements the per-account page crawl loop (C4),
// grounded on core/vjudge/main.py's PageCrawler. It mirrors problem and
// contest metadata into the relational store, applying the field-
// preservation merge the store layer owns (store.Store.UpsertProblem).
package crawler

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sleepymole/vjudge-dispatcher/observability"
	"github.com/sleepymole/vjudge-dispatcher/queue"
	"github.com/sleepymole/vjudge-dispatcher/siteclient"
	"github.com/sleepymole/vjudge-dispatcher/store"
)

const (
	idleTimeout = 60 * time.Second

	// contestRefreshNearStartWindow matches the 1h "about to start"
	// bypass window in spec.md §4.7's refresh cooldown.
	contestRefreshNearStartWindow = time.Hour
)

// Crawler runs a single bot account's page-crawl loop.
type Crawler struct {
	client  siteclient.Client
	store   store.Store
	refresh *queue.Queue
	log     *zap.Logger

	contestCapable bool

	queue chan queue.CrawlTask
	stop  chan struct{}
	done  chan struct{}
}

// New builds a Crawler bound to client and starts its loop. Contest
// crawl tasks are only accepted if client also implements
// siteclient.ContestClient, matching the original's
// _supported_crawl_type gating on client_type == 'contest'. refresh is
// the C7 cooldown registry consulted by crawlContest before spending a
// refresh request on a contest that was just refreshed; it may be nil,
// in which case crawlContest skips the cooldown check and always
// refreshes.
func New(client siteclient.Client, st store.Store, refresh *queue.Queue, log *zap.Logger) *Crawler {
	_, contestCapable := client.(siteclient.ContestClient)
	c := &Crawler{
		client:         client,
		store:          st,
		refresh:        refresh,
		log:            log,
		contestCapable: contestCapable,
		queue:          make(chan queue.CrawlTask, 256),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go c.run()
	return c
}

// Enqueue hands task to this account's crawl loop, non-blocking.
func (c *Crawler) Enqueue(task queue.CrawlTask) bool {
	select {
	case c.queue <- task:
		return true
	default:
		return false
	}
}

func (c *Crawler) run() {
	defer close(c.done)
	c.log.Info("started page crawler", zap.String("oj_name", c.client.Name()))
	ctx := context.Background()
	for {
		select {
		case task := <-c.queue:
			c.handle(ctx, task)
		case <-time.After(idleTimeout):
			continue
		case <-c.stop:
			for {
				select {
				case task := <-c.queue:
					c.handle(ctx, task)
					continue
				default:
				}
				break
			}
			c.log.Info("stopped page crawler", zap.String("oj_name", c.client.Name()))
			return
		}
	}
}

func (c *Crawler) handle(ctx context.Context, task queue.CrawlTask) {
	traceID := uuid.New().String()
	c.log.Debug("dispatching crawl task", zap.String("trace_id", traceID), zap.String("type", task.Type))
	switch task.Type {
	case "problem":
		if task.ProblemID != "" {
			c.crawlProblem(ctx, task.ProblemID)
		} else {
			c.crawlProblemAll(ctx)
		}
	case "contest":
		if !c.contestCapable {
			c.log.Error("unsupported crawl_type for client", zap.String("oj_name", c.client.Name()), zap.String("type", task.Type))
			return
		}
		c.crawlContest(ctx)
	default:
		c.log.Error("unsupported crawl_type", zap.String("type", task.Type))
	}
}

func (c *Crawler) requeueOnLoginExpiry(ctx context.Context, task queue.CrawlTask) {
	if err := c.client.UpdateCookies(ctx); err != nil {
		c.log.Error("crawl failed", zap.String("oj_name", c.client.Name()), zap.Error(err))
		return
	}
	if !c.Enqueue(task) {
		c.log.Error("requeue after re-login failed: queue full", zap.String("oj_name", c.client.Name()))
		return
	}
	c.log.Debug("page crawler login expired, logged in again", zap.String("oj_name", c.client.Name()))
}

func (c *Crawler) crawlProblem(ctx context.Context, problemID string) {
	rec, err := c.client.GetProblem(ctx, problemID)
	if err != nil {
		if se, ok := err.(*siteclient.Error); ok && se.Kind == siteclient.KindLoginRequired {
			c.requeueOnLoginExpiry(ctx, queue.CrawlTask{Type: "problem", OJName: c.client.Name(), ProblemID: problemID})
			return
		}
		observability.CrawlOutcomes.WithLabelValues("problem", "connection_error").Inc()
		c.log.Error("crawl page failed", zap.String("oj_name", c.client.Name()), zap.Error(err))
		return
	}
	if rec == nil {
		observability.CrawlOutcomes.WithLabelValues("problem", "not_found").Inc()
		c.log.Error("no such problem", zap.String("oj_name", c.client.Name()), zap.String("problem_id", problemID))
		return
	}
	p := &store.Problem{
		OJName:       c.client.Name(),
		ProblemID:    problemID,
		Title:        rec.Title,
		Description:  rec.Description,
		Input:        rec.Input,
		Output:       rec.Output,
		SampleInput:  rec.SampleInput,
		SampleOutput: rec.SampleOutput,
		TimeLimitMS:  rec.TimeLimitMS,
		MemLimitKB:   rec.MemLimitKB,
	}
	upserted, err := c.store.UpsertProblem(ctx, p, true)
	if err != nil {
		c.log.Error("persist problem failed", zap.String("oj_name", c.client.Name()), zap.Error(err))
		return
	}
	if !upserted {
		observability.CrawlOutcomes.WithLabelValues("problem", "cooldown_skipped").Inc()
		c.log.Debug("problem update suppressed by cooldown", zap.String("oj_name", c.client.Name()), zap.String("problem_id", problemID))
		return
	}
	observability.CrawlOutcomes.WithLabelValues("problem", "upserted").Inc()
	c.log.Info("crawled problem successfully", zap.String("oj_name", c.client.Name()), zap.String("problem_id", problemID))
}

func (c *Crawler) crawlProblemAll(ctx context.Context) {
	ids, err := c.client.GetProblemList(ctx)
	if err != nil {
		if se, ok := err.(*siteclient.Error); ok && se.Kind == siteclient.KindLoginRequired {
			c.requeueOnLoginExpiry(ctx, queue.CrawlTask{Type: "problem", OJName: c.client.Name(), All: true})
			return
		}
		observability.CrawlOutcomes.WithLabelValues("problem_all", "connection_error").Inc()
		c.log.Error("crawl problem list failed", zap.String("oj_name", c.client.Name()), zap.Error(err))
		return
	}
	for _, id := range ids {
		c.crawlProblem(ctx, id)
	}
}

func (c *Crawler) crawlContest(ctx context.Context) {
	cc := c.client.(siteclient.ContestClient)
	contestIDStr := cc.ContestID()
	id, err := strconv.ParseInt(contestIDStr, 10, 64)
	if err != nil {
		c.log.Error("non-numeric contest id", zap.String("oj_name", c.client.Name()), zap.Error(err))
		return
	}

	if c.refresh != nil {
		// Bypass the cooldown once the contest is within an hour of
		// starting, matching ShouldRefreshContest's documented contract.
		// A contest never crawled before (no stored row yet) also bypasses,
		// since there is nothing stale to protect against refreshing.
		bypassNearStart := true
		if prev, err := c.store.GetContest(ctx, id); err == nil && prev != nil {
			bypassNearStart = time.Until(prev.StartTime) <= contestRefreshNearStartWindow
		}
		ok, err := c.refresh.ShouldRefreshContest(ctx, contestIDStr, bypassNearStart)
		if err != nil {
			c.log.Error("check contest refresh cooldown failed", zap.String("oj_name", c.client.Name()), zap.Error(err))
		} else if !ok {
			observability.RefreshSuppressions.WithLabelValues(contestIDStr).Inc()
			c.log.Debug("contest refresh suppressed by cooldown", zap.String("oj_name", c.client.Name()), zap.String("contest_id", contestIDStr))
			return
		}
	}

	if err := cc.RefreshContestInfo(ctx); err != nil {
		if se, ok := err.(*siteclient.Error); ok && se.Kind == siteclient.KindLoginRequired {
			c.requeueOnLoginExpiry(ctx, queue.CrawlTask{Type: "contest", OJName: c.client.Name()})
			return
		}
		observability.CrawlOutcomes.WithLabelValues("contest", "connection_error").Inc()
		c.log.Error("crawl contest failed", zap.String("oj_name", c.client.Name()), zap.Error(err))
		return
	}
	info, err := cc.GetContestInfo(ctx)
	if err != nil {
		c.log.Error("read contest info failed", zap.String("oj_name", c.client.Name()), zap.Error(err))
		return
	}
	refs := make([]store.ContestProblemRef, len(info.Problems))
	for i, p := range info.Problems {
		refs[i] = store.ContestProblemRef{DisplayLabel: p.DisplayLabel, Site: info.Site, ProblemID: p.ProblemID}
	}
	contest := &store.Contest{
		ID:        id,
		IsClone:   true,
		CloneName: c.client.Name(),
		Title:     info.Title,
		Public:    info.Public,
		Status:    info.Status,
		StartTime: time.Unix(info.StartTime, 0).UTC(),
		EndTime:   time.Unix(info.EndTime, 0).UTC(),
		Problems:  refs,
	}
	if err := c.store.UpsertContest(ctx, contest); err != nil {
		c.log.Error("persist contest failed", zap.String("oj_name", c.client.Name()), zap.Error(err))
		return
	}
	observability.CrawlOutcomes.WithLabelValues("contest", "upserted").Inc()
	c.log.Info("crawled contest successfully", zap.String("oj_name", c.client.Name()), zap.String("contest_id", info.ContestID))
	c.crawlProblemAll(ctx)
}

// Stop signals the crawl loop to drain and exit.
func (c *Crawler) Stop() {
	close(c.stop)
	<-c.done
}
