package hdu

import (
	"context"
	"encoding/base64"
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

// ContestClient talks to acm.hdu.edu.cn/contests/... scoped to one
// contest id, grounded on HDUContestClient in the original source.
type ContestClient struct {
	http       *httpx.Client
	contestID  string

	mu       sync.RWMutex
	username string
	loggedIn bool
	info     siteclient.ContestInfo
}

// NewContestClient builds an unauthenticated client bound to contestID.
// RefreshContestInfo must be called (the supervisor does this on pool
// startup) before relying on GetContestInfo.
func NewContestClient(contestID string) *ContestClient {
	h := httpx.New(5 * time.Second)
	h.LoginRequiredMarker = signInMarker
	return &ContestClient{
		http:      h,
		contestID: contestID,
		info:      siteclient.ContestInfo{Site: "hdu", ContestID: contestID},
	}
}

func (c *ContestClient) Name() string                       { return "hdu_ct_" + c.contestID }
func (c *ContestClient) ClientType() siteclient.ClientType { return siteclient.TypeContest }
func (c *ContestClient) ContestID() string                  { return c.contestID }

func (c *ContestClient) UserID() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loggedIn {
		return "", siteclient.NewLoginRequired("no successful login yet")
	}
	return c.username, nil
}

func (c *ContestClient) Login(ctx context.Context, username, password string) error {
	loginURL := fmt.Sprintf("%s/userloginex.php?action=login&cid=%s&notice=0", baseURL, c.contestID)
	form := url.Values{"login": {"Sign in"}, "username": {username}, "userpass": {password}}
	_, err := c.http.PostForm(ctx, loginURL, form)
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

func (c *ContestClient) UpdateCookies(ctx context.Context) error {
	return siteclient.NewConnectionError("hdu contest client cannot refresh cookies without stored credentials", nil)
}

func (c *ContestClient) GetContestInfo(ctx context.Context) (*siteclient.ContestInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := c.info
	return &info, nil
}

func (c *ContestClient) GetProblemList(ctx context.Context) ([]string, error) {
	info, _ := c.GetContestInfo(ctx)
	ids := make([]string, len(info.Problems))
	for i, p := range info.Problems {
		ids[i] = p.ProblemID
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *ContestClient) GetProblem(ctx context.Context, problemID string) (*siteclient.ProblemRecord, error) {
	info, _ := c.GetContestInfo(ctx)
	if !info.Public {
		if _, err := c.UserID(); err != nil {
			return nil, err
		}
	}
	u := fmt.Sprintf("%s/contests/contest_showproblem.php?pid=%s&cid=%s", baseURL, problemID, c.contestID)
	body, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	return parseProblem(body)
}

func (c *ContestClient) SubmitProblem(ctx context.Context, problemID, language, source string) (string, error) {
	if err := c.RefreshContestInfo(ctx); err != nil {
		return "", err
	}
	info, _ := c.GetContestInfo(ctx)
	switch info.Status {
	case "Pending":
		return "", siteclient.NewSubmitError("contest has not begun", nil)
	case "Ended":
		return "", siteclient.NewSubmitError("contest is ended", nil)
	}
	langCode, ok := langID[language]
	if !ok {
		return "", siteclient.NewSubmitError(fmt.Sprintf("language %q is not supported", language), nil)
	}
	form := url.Values{
		"problemid": {problemID},
		"language":  {langCode},
		"usercode":  {encodeContestSource(source)},
		"submit":    {"Submit"},
	}
	u := fmt.Sprintf("%s/contests/contest_submit.php?action=submit&cid=%s", baseURL, c.contestID)
	body, err := c.http.PostForm(ctx, u, form)
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
	userID, err := c.UserID()
	if err != nil {
		return "", err
	}
	statusURL := fmt.Sprintf("%s/contests/contest_status.php?cid=%s&pid=%s&user=%s&lang=0&status=0", baseURL, c.contestID, problemID, userID)
	statusBody, err := c.http.Get(ctx, statusURL)
	if err != nil {
		return "", err
	}
	runID, err := latestRunID(statusBody)
	if err != nil {
		return "", siteclient.NewSubmitError("submit failed unexpectedly", err)
	}
	return runID, nil
}

func (c *ContestClient) GetSubmitStatus(ctx context.Context, runID string, hints siteclient.StatusHints) (*siteclient.StatusResult, error) {
	info, _ := c.GetContestInfo(ctx)
	if !info.Public {
		if _, err := c.UserID(); err != nil {
			return nil, err
		}
	}
	u := fmt.Sprintf("%s/contests/contest_status.php?cid=%s&pid=%s&user=%s&lang=0&status=0", baseURL, c.contestID, hints.ProblemID, hints.UserID)
	body, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	if result, err := findVerdict(body, runID); result != nil || err != nil {
		return result, err
	}
	// Contest status pages paginate; the original scans pages 2-4 before
	// giving up.
	for page := 2; page <= 4; page++ {
		pageBody, err := c.http.Get(ctx, fmt.Sprintf("%s&page=%d", u, page))
		if err != nil {
			return nil, err
		}
		if result, err := findVerdict(pageBody, runID); result != nil || err != nil {
			return result, err
		}
	}
	return nil, nil
}

var (
	contestTitlePattern = regexp.MustCompile(`(?s)Start.*Time.*Contest.*Type.*Contest.*Status`)
	contestTimesPattern = regexp.MustCompile(
		`(?s)Start *?Time *?: *?([0-9]{4})-([0-9]{2})-([0-9]{2}) *?([0-9]{2}):([0-9]{2}):([0-9]{2}).*?` +
			`End *?Time *?: *?([0-9]{4})-([0-9]{2})-([0-9]{2}) *?([0-9]{2}):([0-9]{2}):([0-9]{2}).*?` +
			`Contest *?Type *?:(.*?)Contest *?Status.*?:(.*?)Current.*?Server.*?Time`)
)

// RefreshContestInfo re-fetches contest metadata, grounded on
// HDUContestClient.refresh_contest_info.
func (c *ContestClient) RefreshContestInfo(ctx context.Context) error {
	u := fmt.Sprintf("%s/contests/contest_show.php?cid=%s", baseURL, c.contestID)
	body, err := c.http.Get(ctx, u)
	if err != nil {
		return err
	}
	if strings.Contains(body, "System Message") {
		return siteclient.NewConnectionError(fmt.Sprintf("contest %s does not exist", c.contestID), nil)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return siteclient.NewConnectionError("parse contest page", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Problems = parseContestProblemList(doc)
	if title := strings.TrimSpace(doc.Find("h1").First().Text()); title != "" {
		c.info.Title = title
	}

	var matchedText string
	doc.Find("div").EachWithBreak(func(i int, d *goquery.Selection) bool {
		html, err := d.Html()
		if err == nil && contestTitlePattern.MatchString(html) {
			matchedText = d.Text()
			return false
		}
		return true
	})
	if matchedText == "" {
		return nil
	}
	m := contestTimesPattern.FindStringSubmatch(matchedText)
	if m == nil {
		return nil
	}
	c.info.StartTime = toTimestamp(m[1:7])
	c.info.EndTime = toTimestamp(m[7:13])
	c.info.Public = strings.TrimSpace(m[13]) == "Public"
	c.info.Status = strings.TrimSpace(m[14])
	return nil
}

// ListRecentContests fetches the site-wide contest list, standing in
// for HDUContestClient.get_recent_contest.
func ListRecentContests(ctx context.Context) ([]siteclient.ContestInfo, error) {
	h := httpx.New(5 * time.Second)
	body, err := h.Get(ctx, baseURL+"/contests/contest_list.php")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	table := doc.Find("table.table_text").First()
	if table.Length() == 0 {
		return nil, nil
	}
	timePattern := regexp.MustCompile(`([0-9]{4})-([0-9]{2})-([0-9]{2}) *?([0-9]{2}):([0-9]{2}):([0-9]{2})`)
	var result []siteclient.ContestInfo
	table.Find(`tr[align="center"]`).Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 6 {
			return
		}
		cols := make([]string, 0, cells.Length())
		cells.Each(func(j int, c *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(c.Text()))
		})
		ci := siteclient.ContestInfo{Site: "hdu", ContestID: cols[0], Title: cols[1], Status: cols[4], Public: true}
		if m := timePattern.FindStringSubmatch(cols[2]); m != nil {
			ci.StartTime = toTimestamp(m[1:])
		}
		if cols[3] != "Public" {
			ci.Public = false
		}
		result = append(result, ci)
	})
	return result, nil
}

func parseContestProblemList(doc *goquery.Document) []siteclient.ContestProblemRef {
	pattern := regexp.MustCompile(`(?s)Solved.*Title.*Ratio`)
	var table *goquery.Selection
	doc.Find("table").EachWithBreak(func(i int, s *goquery.Selection) bool {
		html, err := s.Html()
		if err == nil && pattern.MatchString(html) {
			table = s
			return false
		}
		return true
	})
	if table == nil {
		return nil
	}
	var refs []siteclient.ContestProblemRef
	table.Find(`tr[align="center"]`).Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.TrimSpace(cells.Eq(0).Text())
		problemID := strings.TrimSpace(cells.Eq(1).Text())
		refs = append(refs, siteclient.ContestProblemRef{DisplayLabel: label, ProblemID: problemID})
	})
	return refs
}

func toTimestamp(parts []string) int64 {
	if len(parts) < 6 {
		return 0
	}
	nums := make([]int, 6)
	for i, p := range parts[:6] {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0
		}
		nums[i] = n
	}
	t := time.Date(nums[0], time.Month(nums[1]), nums[2], nums[3], nums[4], nums[5], 0, time.UTC)
	return t.Add(-8 * time.Hour).Unix()
}

// encodeContestSource matches the original's _encode_source_code:
// base64(urlencode(code)).
func encodeContestSource(source string) string {
	return base64.StdEncoding.EncodeToString([]byte(url.QueryEscape(source)))
}
