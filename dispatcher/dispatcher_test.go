package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sleepymole/vjudge-dispatcher/accounts"
	"github.com/sleepymole/vjudge-dispatcher/config"
	"github.com/sleepymole/vjudge-dispatcher/queue"
	"github.com/sleepymole/vjudge-dispatcher/siteclient"
	"github.com/sleepymole/vjudge-dispatcher/store"
)

// fakeSiteClient always logs in successfully, standing in for a real
// adapter so pool construction can be exercised without a network call.
// Its status lookup reports Accepted at once, so a poll started by a
// dispatched submission ends and stopping the pool returns promptly.
type fakeSiteClient struct{ name string }

func (c *fakeSiteClient) Name() string                      { return c.name }
func (c *fakeSiteClient) UserID() (string, error)            { return "bot", nil }
func (c *fakeSiteClient) ClientType() siteclient.ClientType { return siteclient.TypePractice }
func (c *fakeSiteClient) Login(ctx context.Context, u, p string) error { return nil }
func (c *fakeSiteClient) UpdateCookies(ctx context.Context) error      { return nil }
func (c *fakeSiteClient) GetProblem(ctx context.Context, problemID string) (*siteclient.ProblemRecord, error) {
	return nil, nil
}
func (c *fakeSiteClient) GetProblemList(ctx context.Context) ([]string, error) { return nil, nil }
func (c *fakeSiteClient) SubmitProblem(ctx context.Context, problemID, language, source string) (string, error) {
	return "1", nil
}
func (c *fakeSiteClient) GetSubmitStatus(ctx context.Context, runID string, hints siteclient.StatusHints) (*siteclient.StatusResult, error) {
	return &siteclient.StatusResult{Verdict: "Accepted"}, nil
}

func init() {
	siteclient.Register("dispatchertestsite", func(contestID string) siteclient.Client {
		return &fakeSiteClient{name: "dispatchertestsite"}
	})
}

type fakeStore struct {
	mu          sync.Mutex
	submissions map[int64]*store.Submission
	verdicts    map[int64]string
}

func newFakeStore(subs ...*store.Submission) *fakeStore {
	m := map[int64]*store.Submission{}
	for _, s := range subs {
		m[s.ID] = s
	}
	return &fakeStore{submissions: m, verdicts: map[int64]string{}}
}

func (f *fakeStore) GetSubmission(ctx context.Context, id int64) (*store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions[id], nil
}
func (f *fakeStore) SetSubmissionRunID(ctx context.Context, id int64, runID, botUserID string) error {
	return nil
}
func (f *fakeStore) SetSubmissionVerdict(ctx context.Context, id int64, verdict string, exeTimeMS, exeMemKB int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts[id] = verdict
	return nil
}
func (f *fakeStore) ListSubmissionsByVerdict(ctx context.Context, verdicts ...string) ([]*store.Submission, error) {
	return nil, nil
}
func (f *fakeStore) GetProblem(ctx context.Context, ojName, problemID string) (*store.Problem, error) {
	return nil, nil
}
func (f *fakeStore) UpsertProblem(ctx context.Context, p *store.Problem, cooldown bool) (bool, error) {
	return true, nil
}
func (f *fakeStore) GetContest(ctx context.Context, id int64) (*store.Contest, error) { return nil, nil }
func (f *fakeStore) UpsertContest(ctx context.Context, c *store.Contest) error        { return nil }

func (f *fakeStore) verdictOf(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verdicts[id]
}

func testAccounts() *accounts.Registry {
	cfg := config.Accounts{
		Normal: []config.NormalAccount{
			{Site: "dispatchertestsite", Username: "bot1", Password: "p1"},
		},
	}
	return accounts.NewRegistry(cfg, zap.NewNop())
}

func TestDispatchBuildsPoolAndEnqueuesSubmission(t *testing.T) {
	sub := &store.Submission{ID: 1, OJName: "dispatchertestsite", ProblemID: "1000", Verdict: store.VerdictQueuing}
	st := newFakeStore(sub)
	sup := NewSubmitterSupervisor(nil, st, testAccounts(), zap.NewNop())

	sup.dispatch(context.Background(), 1)

	sup.mu.Lock()
	pool, ok := sup.pools["dispatchertestsite"]
	sup.mu.Unlock()
	if !ok {
		t.Fatalf("expected a pool to be built for dispatchertestsite")
	}
	if len(pool.submitters) != 1 {
		t.Fatalf("expected one submitter in the pool, got %d", len(pool.submitters))
	}
	sup.stopAll()
}

func TestDispatchRejectsUnsupportedOJName(t *testing.T) {
	sub := &store.Submission{ID: 2, OJName: "no_such_site", ProblemID: "1000", Verdict: store.VerdictQueuing}
	st := newFakeStore(sub)
	sup := NewSubmitterSupervisor(nil, st, testAccounts(), zap.NewNop())

	sup.dispatch(context.Background(), 2)

	sup.mu.Lock()
	_, ok := sup.pools["no_such_site"]
	sup.mu.Unlock()
	if ok {
		t.Fatalf("expected no pool to be built for an unsupported oj_name")
	}
}

func TestReapIdlePoolsStopsStalePools(t *testing.T) {
	sub := &store.Submission{ID: 3, OJName: "dispatchertestsite", ProblemID: "1000", Verdict: store.VerdictQueuing}
	st := newFakeStore(sub)
	sup := NewSubmitterSupervisor(nil, st, testAccounts(), zap.NewNop())
	sup.dispatch(context.Background(), 3)

	sup.mu.Lock()
	sup.pools["dispatchertestsite"].startedAt = time.Now().Add(-2 * idleThreshold)
	sup.mu.Unlock()

	sup.reapIdlePools()

	sup.mu.Lock()
	_, ok := sup.pools["dispatchertestsite"]
	sup.mu.Unlock()
	if ok {
		t.Fatalf("expected the stale pool to be reaped")
	}
}

func TestCrawlerSupervisorDispatchBuildsPool(t *testing.T) {
	st := newFakeStore()
	sup := NewCrawlerSupervisor(nil, st, testAccounts(), zap.NewNop())

	sup.dispatch(context.Background(), &queue.CrawlTask{Type: "problem", OJName: "dispatchertestsite", All: true})

	sup.mu.Lock()
	pool, ok := sup.pools["dispatchertestsite"]
	sup.mu.Unlock()
	if !ok {
		t.Fatalf("expected a crawl pool to be built for dispatchertestsite")
	}
	if len(pool.crawlers) != 1 {
		t.Fatalf("expected one crawler in the pool, got %d", len(pool.crawlers))
	}
	sup.stopAll()
}

func TestCrawlerSupervisorRejectsUnsupportedCrawlType(t *testing.T) {
	st := newFakeStore()
	sup := NewCrawlerSupervisor(nil, st, testAccounts(), zap.NewNop())

	sup.dispatch(context.Background(), &queue.CrawlTask{Type: "bogus", OJName: "dispatchertestsite"})

	sup.mu.Lock()
	_, ok := sup.pools["dispatchertestsite"]
	sup.mu.Unlock()
	if ok {
		t.Fatalf("expected no pool to be built for an unsupported crawl type")
	}
}
