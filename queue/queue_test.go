package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := New(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueDequeueSubmissionFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.EnqueueSubmission(ctx, 1); err != nil {
		t.Fatalf("EnqueueSubmission: %v", err)
	}
	if err := q.EnqueueSubmission(ctx, 2); err != nil {
		t.Fatalf("EnqueueSubmission: %v", err)
	}

	id, ok, err := q.DequeueSubmission(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("DequeueSubmission: ok=%v err=%v", ok, err)
	}
	if id != 1 {
		t.Fatalf("expected FIFO order, got id=%d first", id)
	}

	id, ok, err = q.DequeueSubmission(ctx, time.Second)
	if err != nil || !ok || id != 2 {
		t.Fatalf("DequeueSubmission second: id=%d ok=%v err=%v", id, ok, err)
	}
}

func TestDequeueSubmissionTimesOutWhenEmpty(t *testing.T) {
	q := newTestQueue(t)
	_, ok, err := q.DequeueSubmission(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueSubmission: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false on an empty queue")
	}
}

func TestEnqueueDequeueCrawlTask(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	want := CrawlTask{Type: "problem", OJName: "hdu", ProblemID: "1000"}

	if err := q.EnqueueCrawl(ctx, want); err != nil {
		t.Fatalf("EnqueueCrawl: %v", err)
	}
	got, ok, err := q.DequeueCrawl(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("DequeueCrawl: ok=%v err=%v", ok, err)
	}
	if *got != want {
		t.Fatalf("DequeueCrawl = %+v, want %+v", *got, want)
	}
}

func TestShouldRefreshContestEnforcesCooldown(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.ShouldRefreshContest(ctx, "1001", false)
	if err != nil || !first {
		t.Fatalf("expected first refresh to be allowed, got %v err=%v", first, err)
	}

	second, err := q.ShouldRefreshContest(ctx, "1001", false)
	if err != nil {
		t.Fatalf("ShouldRefreshContest: %v", err)
	}
	if second {
		t.Fatalf("expected second refresh within the cooldown window to be suppressed")
	}
}

func TestShouldRefreshContestBypassesNearStart(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.ShouldRefreshContest(ctx, "1002", false); err != nil {
		t.Fatalf("ShouldRefreshContest: %v", err)
	}
	ok, err := q.ShouldRefreshContest(ctx, "1002", true)
	if err != nil {
		t.Fatalf("ShouldRefreshContest: %v", err)
	}
	if !ok {
		t.Fatalf("expected bypassNearStart to override the cooldown")
	}
}

func TestRecentContestListRefreshedAt(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	zero, err := q.RecentContestListRefreshedAt(ctx)
	if err != nil {
		t.Fatalf("RecentContestListRefreshedAt: %v", err)
	}
	if !zero.IsZero() {
		t.Fatalf("expected zero time before any refresh, got %v", zero)
	}

	if err := q.MarkRecentContestListRefreshed(ctx); err != nil {
		t.Fatalf("MarkRecentContestListRefreshed: %v", err)
	}
	refreshedAt, err := q.RecentContestListRefreshedAt(ctx)
	if err != nil {
		t.Fatalf("RecentContestListRefreshedAt: %v", err)
	}
	if refreshedAt.IsZero() || time.Since(refreshedAt) > time.Minute {
		t.Fatalf("expected a recent non-zero timestamp, got %v", refreshedAt)
	}
}
