// Package observability exposes the dispatcher's Prometheus metrics,
// following the teacher's observability package (promauto-registered
// package vars, vjudge_* naming instead of flux_*).
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsEnqueued tracks submit-queue pops by outcome.
	SubmissionsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjudge_submitter_supervisor_dequeued_total",
		Help: "Submit queue entries popped by the submitter supervisor, by outcome",
	}, []string{"oj_name", "outcome"}) // outcome: dispatched, missing, no_account, pool_failed

	// CrawlTasksDequeued tracks crawl-queue pops by outcome.
	CrawlTasksDequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjudge_crawler_supervisor_dequeued_total",
		Help: "Crawl queue entries popped by the crawler supervisor, by outcome",
	}, []string{"oj_name", "outcome"})

	// ActivePools tracks currently running pools per site.
	ActivePools = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vjudge_active_pools",
		Help: "Currently running (submitter or crawler) pools per site",
	}, []string{"oj_name", "kind"}) // kind: submit, crawl

	// SubmitAttempts tracks calls to SubmitProblem by result.
	SubmitAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjudge_submit_attempts_total",
		Help: "Attempts to submit a problem to an upstream site, by result",
	}, []string{"oj_name", "result"}) // result: ok, submit_error (any failure other than a recovered login expiry), login_required

	// PollAttempts tracks calls to GetSubmitStatus by result.
	PollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjudge_poll_attempts_total",
		Help: "Polls of a submitted run's status, by result",
	}, []string{"oj_name", "result"}) // result: terminal, pending, connection_error, login_required

	// VerdictsFinalized tracks submissions reaching a terminal verdict.
	VerdictsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjudge_verdicts_finalized_total",
		Help: "Submissions that reached a terminal verdict, by verdict",
	}, []string{"oj_name", "verdict"})

	// PollerQueueDepth tracks pending poll tasks per poller instance.
	PollerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vjudge_poller_pending_tasks",
		Help: "Currently pending poll tasks, per site/account",
	}, []string{"oj_name", "bot_user_id"})

	// CrawlOutcomes tracks problem/contest crawl results.
	CrawlOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjudge_crawl_outcomes_total",
		Help: "Crawl task outcomes, by crawl type and result",
	}, []string{"crawl_type", "result"}) // result: upserted, not_found, connection_error, cooldown_skipped

	// RefreshSuppressions tracks contest refresh requests suppressed by cooldown.
	RefreshSuppressions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjudge_refresh_suppressed_total",
		Help: "Contest refresh requests suppressed by the cooldown registry",
	}, []string{"contest_id"})
)
