// Package hdu adapts acm.hdu.edu.cn to the siteclient.Client contract,
// grounded on original_source/core/vjudge/site/hdu/client.py. It keeps
// the original's page-scraping strategy (status table lookup by run id,
// volume-by-volume problem list crawl, regex-based contest metadata
// parse) but expresses it with goquery instead of BeautifulSoup and
// returns *siteclient.Error instead of raising typed exceptions.
package hdu

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sleepymole/vjudge-dispatcher/siteclient"
	"github.com/sleepymole/vjudge-dispatcher/siteclient/internal/httpx"
)

const baseURL = "http://acm.hdu.edu.cn"

// signInMarker is the text HDU renders on the login page whenever the
// session has expired or never existed. httpx.Client checks for it on
// every request, not just Login, matching the original's _request_url.
const signInMarker = "Sign In Your Account"

var langID = map[string]string{
	"G++": "0", "GCC": "1", "C++": "2",
	"C": "3", "Pascal": "4", "Java": "5", "C#": "6",
}

func init() {
	siteclient.Register("hdu", func(contestID string) siteclient.Client {
		if contestID == "" {
			return NewPracticeClient()
		}
		return NewContestClient(contestID)
	})
}

// PracticeClient talks to the open judge, outside any contest scope.
type PracticeClient struct {
	http *httpx.Client

	mu       sync.RWMutex
	username string
	loggedIn bool
}

// NewPracticeClient builds an unauthenticated practice client. Login
// must be called before any authenticated operation.
func NewPracticeClient() *PracticeClient {
	h := httpx.New(5 * time.Second)
	h.LoginRequiredMarker = signInMarker
	return &PracticeClient{http: h}
}

func (c *PracticeClient) Name() string              { return "hdu" }
func (c *PracticeClient) ClientType() siteclient.ClientType { return siteclient.TypePractice }

func (c *PracticeClient) UserID() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loggedIn {
		return "", siteclient.NewLoginRequired("no successful login yet")
	}
	return c.username, nil
}

func (c *PracticeClient) Login(ctx context.Context, username, password string) error {
	form := url.Values{"login": {"Sign in"}, "username": {username}, "userpass": {password}}
	_, err := c.http.PostForm(ctx, baseURL+"/userloginex.php?action=login", form)
	if err != nil {
		if se, ok := err.(*siteclient.Error); ok && se.Kind == siteclient.KindLoginRequired {
			return siteclient.NewLoginError(siteclient.KindPasswordError, "user not exist or wrong password")
		}
		return err
	}
	c.mu.Lock()
	c.username, c.loggedIn = username, true
	c.mu.Unlock()
	return nil
}

func (c *PracticeClient) UpdateCookies(ctx context.Context) error {
	return siteclient.NewConnectionError("hdu practice client cannot refresh cookies without stored credentials", nil)
}

func (c *PracticeClient) GetProblem(ctx context.Context, problemID string) (*siteclient.ProblemRecord, error) {
	u := fmt.Sprintf("%s/showproblem.php?pid=%s", baseURL, problemID)
	body, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	return parseProblem(body)
}

func (c *PracticeClient) GetProblemList(ctx context.Context) ([]string, error) {
	return crawlProblemList(ctx, c.http)
}

func (c *PracticeClient) SubmitProblem(ctx context.Context, problemID, language, source string) (string, error) {
	userID, err := c.UserID()
	if err != nil {
		return "", err
	}
	return submitPractice(ctx, c.http, problemID, language, source, userID)
}

func (c *PracticeClient) GetSubmitStatus(ctx context.Context, runID string, hints siteclient.StatusHints) (*siteclient.StatusResult, error) {
	u := fmt.Sprintf("%s/status.php?first=%s&pid=%s&user=%s&lang=0&status=0", baseURL, runID, hints.ProblemID, hints.UserID)
	body, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	return findVerdict(body, runID)
}

// crawlProblemList walks listproblem.php?vol=N for every known volume,
// exactly mirroring the original's break-on-connection-error loop.
func crawlProblemList(ctx context.Context, h *httpx.Client) ([]string, error) {
	body, err := h.Get(ctx, baseURL+"/listproblem.php")
	if err != nil {
		return nil, err
	}
	volPattern := regexp.MustCompile(`listproblem\.php\?vol=([0-9]+)`)
	seen := map[int]bool{}
	for _, m := range volPattern.FindAllStringSubmatch(body, -1) {
		n, _ := strconv.Atoi(m[1])
		seen[n] = true
	}
	vols := make([]int, 0, len(seen))
	for v := range seen {
		vols = append(vols, v)
	}
	sort.Ints(vols)

	idPattern := regexp.MustCompile(`p\([^,()]+?,([^,()]+?)(?:,[^,()]+?){4}\);`)
	var result []string
	seenIDs := map[string]bool{}
	for _, vol := range vols {
		volBody, err := h.Get(ctx, fmt.Sprintf("%s/listproblem.php?vol=%d", baseURL, vol))
		if err != nil {
			// Only a transport failure stops the volume-by-volume crawl
			// early, matching the original's except-ConnectionError-break;
			// a login-required mid-crawl still propagates to the caller.
			if se, ok := err.(*siteclient.Error); ok && se.Kind == siteclient.KindConnection {
				break
			}
			return nil, err
		}
		for _, m := range idPattern.FindAllStringSubmatch(volBody, -1) {
			if seenIDs[m[1]] {
				continue
			}
			seenIDs[m[1]] = true
			result = append(result, m[1])
		}
	}
	sort.Strings(result)
	return result, nil
}

func submitPractice(ctx context.Context, h *httpx.Client, problemID, language, source, userID string) (string, error) {
	langCode, ok := langID[language]
	if !ok {
		return "", siteclient.NewSubmitError(fmt.Sprintf("language %q is not supported", language), nil)
	}
	form := url.Values{
		"problemid": {problemID},
		"language":  {langCode},
		"usercode":  {source},
		"check":     {"0"},
	}
	body, err := h.PostForm(ctx, baseURL+"/submit.php?action=submit", form)
	if err != nil {
		return "", err
	}
	if strings.Contains(body, "Code length is improper") {
		return "", siteclient.NewSubmitError("code length is too short", nil)
	}
	if strings.Contains(body, "Please don't re-submit in 5 seconds") {
		return "", siteclient.NewSubmitError("submit too frequently", nil)
	}
	if !strings.Contains(body, "Realtime Status") {
		return "", siteclient.NewSubmitError("submit failed unexpectedly", nil)
	}

	statusURL := fmt.Sprintf("%s/status.php?first=&pid=%s&user=%s&lang=0&status=0", baseURL, problemID, userID)
	statusBody, err := h.Get(ctx, statusURL)
	if err != nil {
		return "", err
	}
	runID, err := latestRunID(statusBody)
	if err != nil {
		return "", siteclient.NewSubmitError("submit failed unexpectedly", err)
	}
	return runID, nil
}

var statusTablePattern = regexp.MustCompile(`(?s)Run ID.*Judge Status.*Author`)

func latestRunID(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}
	table := findStatusTable(doc)
	if table == nil {
		return "", fmt.Errorf("status table not found")
	}
	row := table.Find(`tr[align="center"]`).First()
	if row.Length() == 0 {
		return "", fmt.Errorf("no submission rows")
	}
	runID := strings.TrimSpace(row.Find("td").First().Text())
	if runID == "" {
		return "", fmt.Errorf("empty run id")
	}
	return runID, nil
}

// findStatusTable finds the last table on the page whose header mentions
// "Run ID ... Judge Status ... Author", mirroring the original's
// reverse-then-filter approach.
func findStatusTable(doc *goquery.Document) *goquery.Selection {
	tables := doc.Find("table")
	var match *goquery.Selection
	tables.Each(func(i int, s *goquery.Selection) {
		html, err := s.Html()
		if err == nil && statusTablePattern.MatchString(html) {
			match = s
		}
	})
	return match
}

var runtimeErrorPattern = regexp.MustCompile("Runtime Error")

func findVerdict(body, runID string) (*siteclient.StatusResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	table := findStatusTable(doc)
	if table == nil {
		return nil, nil
	}
	var result *siteclient.StatusResult
	table.Find(`tr[align="center"]`).EachWithBreak(func(i int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 6 {
			return true
		}
		cols := make([]string, 0, cells.Length())
		cells.Each(func(j int, c *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(c.Text()))
		})
		if cols[0] != runID {
			return true
		}
		verdict := cols[2]
		if runtimeErrorPattern.MatchString(verdict) {
			verdict = "Runtime Error"
		}
		exeTime, errTime := strconv.Atoi(strings.TrimSuffix(cols[4], "MS"))
		exeMem, errMem := strconv.Atoi(strings.TrimSuffix(cols[5], "K"))
		if errTime != nil || errMem != nil {
			return true
		}
		result = &siteclient.StatusResult{Verdict: verdict, ExeTime: exeTime, ExeMem: exeMem}
		return false
	})
	return result, nil
}

var problemLimitPattern = regexp.MustCompile(
	`(?s)Time Limit:.*?[0-9]*/([0-9]*).*?MS.*?\(Java/Others\).*?Memory Limit:.*?[0-9]*/([0-9]*).*?K.*?\(Java/Others\)`)

func parseProblem(body string) (*siteclient.ProblemRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" || title == "System Message" {
		return nil, nil
	}
	rec := &siteclient.ProblemRecord{Title: title}
	if m := problemLimitPattern.FindStringSubmatch(body); m != nil {
		rec.TimeLimitMS, _ = strconv.Atoi(m[1])
		rec.MemLimitKB, _ = strconv.Atoi(m[2])
	}

	sections := map[string]*string{
		"Problem Description": &rec.Description,
		"Input":                &rec.Input,
		"Output":               &rec.Output,
		"Sample Input":         &rec.SampleInput,
		"Sample Output":        &rec.SampleOutput,
	}
	doc.Find(`div.panel_title[align="left"]`).Each(func(i int, t *goquery.Selection) {
		title := strings.TrimSpace(t.Text())
		dst, ok := sections[title]
		if !ok {
			return
		}
		sib := t.Next()
		if sib.Length() == 0 {
			return
		}
		html, err := sib.Html()
		if err == nil {
			*dst = strings.TrimSpace(html)
		}
	})
	return rec, nil
}
