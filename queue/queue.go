// Package queue owns the dispatcher's single Redis connection and the
// two work queues (submit, crawl) plus the contest-refresh cooldown
// registry, grounded on core/vjudge/main.py's SubmitterHandler/
// CrawlerHandler (brpop loop, redis key names) and the teacher's
// RedisStore constructor in control_plane/store/redis.go (explicit
// Ping on construction, context.WithTimeout).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	submitQueueKey = "vjudge-submitter-tasks"
	crawlQueueKey  = "vjudge-crawler-tasks"

	contestRefreshKeyPrefix = "vjudge-last-refresh-contest-"
	recentRefreshKey        = "vjudge-last-refresh-recent-contest"

	contestRefreshCooldown = time.Hour
)

// Queue is the dispatcher's process-wide Redis handle (spec.md §9's
// second global singleton, alongside the logger in package logging).
type Queue struct {
	client *redis.Client
}

// New connects to addr/db and verifies reachability before returning,
// matching the teacher's fail-fast RedisStore construction.
func New(ctx context.Context, addr, password string, db int) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &Queue{client: client}, nil
}

func (q *Queue) Close() error { return q.client.Close() }

// EnqueueSubmission pushes a submission id onto the submit queue.
// LPush + BRPop gives FIFO order, matching the original's lpush/brpop
// pairing in _scan_unfinished_tasks and the view layer that enqueues
// new submissions (not shown in the kept source slice, but implied by
// the same redis_key used for both).
func (q *Queue) EnqueueSubmission(ctx context.Context, submissionID int64) error {
	return q.client.LPush(ctx, submitQueueKey, submissionID).Err()
}

// DequeueSubmission blocks up to timeout for a submission id, returning
// (0, false, nil) on a timeout with nothing queued — the original's
// `if not data: continue`.
func (q *Queue) DequeueSubmission(ctx context.Context, timeout time.Duration) (int64, bool, error) {
	res, err := q.client.BRPop(ctx, timeout, submitQueueKey).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt submit queue entry %q: %w", res[1], err)
	}
	return id, true, nil
}

// CrawlTask mirrors the JSON payload the original's CrawlerHandler
// decodes from the crawl queue.
type CrawlTask struct {
	Type      string `json:"type"` // "problem" or "contest"
	OJName    string `json:"oj_name"`
	ProblemID string `json:"problem_id,omitempty"`
	All       bool   `json:"all,omitempty"`
}

// EnqueueCrawl pushes a crawl task as JSON onto the crawl queue.
func (q *Queue) EnqueueCrawl(ctx context.Context, task CrawlTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode crawl task: %w", err)
	}
	return q.client.LPush(ctx, crawlQueueKey, data).Err()
}

// DequeueCrawl blocks up to timeout for a crawl task.
func (q *Queue) DequeueCrawl(ctx context.Context, timeout time.Duration) (*CrawlTask, bool, error) {
	res, err := q.client.BRPop(ctx, timeout, crawlQueueKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var task CrawlTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, false, fmt.Errorf("corrupt crawl queue entry %q: %w", res[1], err)
	}
	return &task, true, nil
}

// ShouldRefreshContest implements the C7 cooldown registry: a contest
// refresh is suppressed if one already happened within the last hour,
// unless bypassNearStart is set (the dispatcher passes true when the
// contest's recorded start time is within an hour of now, so a contest
// about to begin is never stuck behind a stale cooldown).
func (q *Queue) ShouldRefreshContest(ctx context.Context, contestID string, bypassNearStart bool) (bool, error) {
	if bypassNearStart {
		return true, nil
	}
	key := contestRefreshKeyPrefix + contestID
	ok, err := q.client.SetNX(ctx, key, strconv.FormatInt(time.Now().Unix(), 10), contestRefreshCooldown).Result()
	if err != nil {
		return false, fmt.Errorf("check contest refresh cooldown: %w", err)
	}
	return ok, nil
}

// MarkRecentContestListRefreshed records that the site-wide "recent
// contests" listing was just refreshed, as unix seconds under the
// "vjudge-last-refresh-recent-contest" key with no TTL.
func (q *Queue) MarkRecentContestListRefreshed(ctx context.Context) error {
	return q.client.Set(ctx, recentRefreshKey, strconv.FormatInt(time.Now().Unix(), 10), 0).Err()
}

// RecentContestListRefreshedAt returns the last refresh time, or the
// zero time if it has never been refreshed.
func (q *Queue) RecentContestListRefreshedAt(ctx context.Context) (time.Time, error) {
	s, err := q.client.Get(ctx, recentRefreshKey).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt recent-refresh marker: %w", err)
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9)), nil
}
