package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/sleepymole/vjudge-dispatcher/queue"
	"github.com/sleepymole/vjudge-dispatcher/siteclient"
	"github.com/sleepymole/vjudge-dispatcher/store"
)

func newTestRefreshQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := queue.New(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

type fakeStore struct {
	mu         sync.Mutex
	problems   []*store.Problem
	contests   []*store.Contest
	knownStart *store.Contest // returned by GetContest, if set
}

func newFakeStore() *fakeStore { return &fakeStore{} }

func (f *fakeStore) GetSubmission(ctx context.Context, id int64) (*store.Submission, error) {
	return nil, nil
}
func (f *fakeStore) SetSubmissionRunID(ctx context.Context, id int64, runID, botUserID string) error {
	return nil
}
func (f *fakeStore) SetSubmissionVerdict(ctx context.Context, id int64, verdict string, exeTimeMS, exeMemKB int) error {
	return nil
}
func (f *fakeStore) ListSubmissionsByVerdict(ctx context.Context, verdicts ...string) ([]*store.Submission, error) {
	return nil, nil
}
func (f *fakeStore) GetProblem(ctx context.Context, ojName, problemID string) (*store.Problem, error) {
	return nil, nil
}
func (f *fakeStore) UpsertProblem(ctx context.Context, p *store.Problem, cooldown bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.problems = append(f.problems, p)
	return true, nil
}
func (f *fakeStore) GetContest(ctx context.Context, id int64) (*store.Contest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.knownStart, nil
}
func (f *fakeStore) UpsertContest(ctx context.Context, c *store.Contest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contests = append(f.contests, c)
	return nil
}

func (f *fakeStore) problemCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.problems)
}
func (f *fakeStore) contestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contests)
}
func (f *fakeStore) lastContest() *store.Contest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.contests) == 0 {
		return nil
	}
	return f.contests[len(f.contests)-1]
}

// fakeContestClient implements siteclient.ContestClient.
type fakeContestClient struct {
	name      string
	contestID string
	info      *siteclient.ContestInfo
}

func (c *fakeContestClient) Name() string                      { return c.name }
func (c *fakeContestClient) UserID() (string, error)            { return "bot1", nil }
func (c *fakeContestClient) ClientType() siteclient.ClientType { return siteclient.TypeContest }
func (c *fakeContestClient) Login(ctx context.Context, u, p string) error { return nil }
func (c *fakeContestClient) UpdateCookies(ctx context.Context) error      { return nil }
func (c *fakeContestClient) GetProblem(ctx context.Context, problemID string) (*siteclient.ProblemRecord, error) {
	return &siteclient.ProblemRecord{Title: "A+B"}, nil
}
// GetProblemList lists the ids of info's problems, like the hdu contest
// client does.
func (c *fakeContestClient) GetProblemList(ctx context.Context) ([]string, error) {
	if c.info == nil {
		return nil, nil
	}
	ids := make([]string, len(c.info.Problems))
	for i, p := range c.info.Problems {
		ids[i] = p.ProblemID
	}
	return ids, nil
}
func (c *fakeContestClient) SubmitProblem(ctx context.Context, problemID, language, source string) (string, error) {
	return "", nil
}
func (c *fakeContestClient) GetSubmitStatus(ctx context.Context, runID string, hints siteclient.StatusHints) (*siteclient.StatusResult, error) {
	return nil, nil
}
func (c *fakeContestClient) ContestID() string { return c.contestID }
func (c *fakeContestClient) GetContestInfo(ctx context.Context) (*siteclient.ContestInfo, error) {
	return c.info, nil
}
func (c *fakeContestClient) RefreshContestInfo(ctx context.Context) error { return nil }

func TestCrawlerUpsertsContestWithNumericID(t *testing.T) {
	client := &fakeContestClient{
		name:      "hdu_ct_1234",
		contestID: "1234",
		info: &siteclient.ContestInfo{
			Site:      "hdu",
			ContestID: "1234",
			Title:     "Example Contest",
			Status:    store.ContestRunning,
			Problems:  []siteclient.ContestProblemRef{{DisplayLabel: "A", ProblemID: "1000"}},
		},
	}
	st := newFakeStore()
	c := New(client, st, nil, zap.NewNop())

	if !c.Enqueue(queue.CrawlTask{Type: "contest", OJName: client.name}) {
		t.Fatalf("Enqueue rejected")
	}
	c.Stop()

	if st.contestCount() != 1 {
		t.Fatalf("expected one contest upserted, got %d", st.contestCount())
	}
	if got := st.lastContest().ID; got != 1234 {
		t.Fatalf("contest ID = %d, want 1234", got)
	}
	if st.problemCount() != 1 {
		t.Fatalf("expected crawlContest to also crawl the contest's problem list, got %d problems", st.problemCount())
	}
}

func TestCrawlerSuppressesContestRefreshWithinCooldown(t *testing.T) {
	client := &fakeContestClient{
		name:      "hdu_ct_1234",
		contestID: "1234",
		info: &siteclient.ContestInfo{
			Site:      "hdu",
			ContestID: "1234",
			Title:     "Example Contest",
			Status:    store.ContestRunning,
		},
	}
	st := newFakeStore()
	st.knownStart = &store.Contest{ID: 1234, StartTime: time.Now().Add(6 * time.Hour)}
	q := newTestRefreshQueue(t)
	c := New(client, st, q, zap.NewNop())
	defer c.Stop()

	c.crawlContest(context.Background())
	if st.contestCount() != 1 {
		t.Fatalf("expected first refresh to upsert, got %d contests", st.contestCount())
	}

	c.crawlContest(context.Background())
	if st.contestCount() != 1 {
		t.Fatalf("expected second refresh within cooldown to be suppressed, got %d contests", st.contestCount())
	}
}

func TestCrawlerRejectsContestTaskForNonContestClient(t *testing.T) {
	client := &fakePracticeClient{name: "hdu"}
	st := newFakeStore()
	c := New(client, st, nil, zap.NewNop())

	c.Enqueue(queue.CrawlTask{Type: "contest", OJName: "hdu"})
	c.Stop()

	if st.contestCount() != 0 {
		t.Fatalf("expected no contest upsert for a non-contest-capable client")
	}
}

type fakePracticeClient struct{ name string }

func (c *fakePracticeClient) Name() string                      { return c.name }
func (c *fakePracticeClient) UserID() (string, error)            { return "bot1", nil }
func (c *fakePracticeClient) ClientType() siteclient.ClientType { return siteclient.TypePractice }
func (c *fakePracticeClient) Login(ctx context.Context, u, p string) error { return nil }
func (c *fakePracticeClient) UpdateCookies(ctx context.Context) error      { return nil }
func (c *fakePracticeClient) GetProblem(ctx context.Context, problemID string) (*siteclient.ProblemRecord, error) {
	return nil, nil
}
func (c *fakePracticeClient) GetProblemList(ctx context.Context) ([]string, error) { return nil, nil }
func (c *fakePracticeClient) SubmitProblem(ctx context.Context, problemID, language, source string) (string, error) {
	return "", nil
}
func (c *fakePracticeClient) GetSubmitStatus(ctx context.Context, runID string, hints siteclient.StatusHints) (*siteclient.StatusResult, error) {
	return nil, nil
}

func TestCrawlerCrawlsSingleProblem(t *testing.T) {
	client := &fakeContestClient{name: "hdu", contestID: "1"}
	st := newFakeStore()
	c := New(client, st, nil, zap.NewNop())

	c.Enqueue(queue.CrawlTask{Type: "problem", OJName: "hdu", ProblemID: "1000"})
	c.Stop()

	if st.problemCount() != 1 {
		t.Fatalf("expected one problem upserted, got %d", st.problemCount())
	}
}
