// Package scu adapts acm.scu.edu.cn/soj to the siteclient.Client
// contract, grounded on original_source/core/vjudge/site/scu/client.py.
// The original solves submit-time captchas against a local sqlite table
// of known image hashes; we keep that shape behind a CaptchaSolver
// interface instead of embedding a vendored captcha database, so a
// production deployment can plug in whatever solving service it has.
package scu

import (
	"context"
	"crypto/md5"
	"encoding/hex"
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

const baseURL = "http://acm.scu.edu.cn/soj"

func init() {
	siteclient.Register("scu", func(contestID string) siteclient.Client {
		return New()
	})
}

// CaptchaSolver resolves a validation_code image (keyed by its md5 hash,
// matching the original's lookup table) to the text a human would type.
// ErrCaptchaUnknown should be returned for a hash with no known answer.
type CaptchaSolver interface {
	Solve(ctx context.Context, md5Hash string, image []byte) (string, error)
}

// ErrCaptchaUnknown is returned by a CaptchaSolver with no answer on file.
var ErrCaptchaUnknown = fmt.Errorf("scu: no captcha answer on file")

// staticSolver is the default solver: it only recognizes hashes it was
// constructed with, mirroring the original's bundled sqlite table.
type staticSolver struct {
	known map[string]string
}

func (s staticSolver) Solve(ctx context.Context, hash string, image []byte) (string, error) {
	if answer, ok := s.known[hash]; ok {
		return answer, nil
	}
	return "", ErrCaptchaUnknown
}

// NewStaticSolver builds a CaptchaSolver from a precomputed hash→answer
// table (e.g. loaded from an operator-maintained file).
func NewStaticSolver(known map[string]string) CaptchaSolver {
	return staticSolver{known: known}
}

// Client is the SCU practice client.
type Client struct {
	http    *httpx.Client
	solver  CaptchaSolver

	mu       sync.RWMutex
	username string
	loggedIn bool
}

// New builds an unauthenticated SCU client with no captcha answers on
// file; SetCaptchaSolver should be called before SubmitProblem in any
// deployment that wants SCU to actually submit.
func New() *Client {
	return &Client{http: httpx.New(5 * time.Second), solver: NewStaticSolver(nil)}
}

// SetCaptchaSolver swaps in a CaptchaSolver, e.g. one backed by an OCR
// service or an operator-maintained answer table.
func (c *Client) SetCaptchaSolver(s CaptchaSolver) { c.solver = s }

func (c *Client) Name() string                       { return "scu" }
func (c *Client) ClientType() siteclient.ClientType { return siteclient.TypePractice }

func (c *Client) UserID() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loggedIn {
		return "", siteclient.NewLoginRequired("no successful login yet")
	}
	return c.username, nil
}

func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{"back": {"2"}, "id": {username}, "password": {password}, "submit": {"login"}}
	body, err := c.http.PostForm(ctx, baseURL+"/login.action", form)
	if err != nil {
		return err
	}
	switch {
	case strings.Contains(body, "USER_NOT_EXIST"):
		return siteclient.NewLoginError(siteclient.KindUserNotExist, "user not exist")
	case strings.Contains(body, "PASSWORD_ERROR"):
		return siteclient.NewLoginError(siteclient.KindPasswordError, "password error")
	}
	c.mu.Lock()
	c.username, c.loggedIn = username, true
	c.mu.Unlock()
	return nil
}

func (c *Client) UpdateCookies(ctx context.Context) error {
	return siteclient.NewConnectionError("scu client cannot refresh cookies without stored credentials", nil)
}

func (c *Client) GetProblem(ctx context.Context, problemID string) (*siteclient.ProblemRecord, error) {
	u := fmt.Sprintf("%s/problem.action?id=%s", baseURL, problemID)
	body, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	if strings.Contains(body, "No such problem") {
		return nil, nil
	}
	titlePattern := regexp.MustCompile(fmt.Sprintf(`<title>%s: (.*?)</title>`, regexp.QuoteMeta(problemID)))
	m := titlePattern.FindStringSubmatch(body)
	if m == nil {
		return nil, nil
	}
	return &siteclient.ProblemRecord{Title: m[1]}, nil
}

func (c *Client) GetProblemList(ctx context.Context) ([]string, error) {
	body, err := c.http.Get(ctx, baseURL+"/problems.action")
	if err != nil {
		return nil, err
	}
	volumes, err := parseVolumeList(body)
	if err != nil {
		return nil, err
	}
	var problemIDs []string
	seen := map[string]bool{}
	for _, vol := range volumes {
		pageURL := fmt.Sprintf("%s/problems.action?volume=%s", baseURL, vol)
		pageBody, err := c.http.Get(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		for _, pid := range parseProblemIDs(pageBody) {
			if !seen[pid] {
				seen[pid] = true
				problemIDs = append(problemIDs, pid)
			}
		}
	}
	sort.Strings(problemIDs)
	return problemIDs, nil
}

func parseVolumeList(body string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	table := doc.Find("table").First()
	row := table.Find("tr").First().Next()
	if row.Length() == 0 {
		return nil, nil
	}
	pattern := regexp.MustCompile(`\[(.*)\]`)
	var volumes []string
	row.Find("a").Each(func(i int, a *goquery.Selection) {
		if m := pattern.FindStringSubmatch(strings.TrimSpace(a.Text())); m != nil {
			volumes = append(volumes, m[1])
		}
	})
	return volumes, nil
}

func parseProblemIDs(body string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	table := doc.Find("table").First()
	rows := table.Find("tr")
	var ids []string
	rows.Each(func(i int, row *goquery.Selection) {
		if i < 3 {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		pid := strings.TrimSpace(cells.Eq(1).Text())
		if _, err := strconv.Atoi(pid); err != nil {
			return
		}
		ids = append(ids, pid)
	})
	return ids
}

func (c *Client) SubmitProblem(ctx context.Context, problemID, language, source string) (string, error) {
	userID, err := c.UserID()
	if err != nil {
		return "", err
	}
	captcha, err := c.solveCaptcha(ctx)
	if err != nil {
		return "", siteclient.NewSubmitError("cannot find a valid captcha", err)
	}
	form := url.Values{
		"problemId":  {problemID},
		"validation": {captcha},
		"language":   {language},
		"source":     {source},
		"submit":     {"Submit"},
	}
	body, err := c.http.PostForm(ctx, baseURL+"/submit.action", form)
	if err != nil {
		return "", err
	}
	if strings.Contains(body, "ERROR") {
		if ok, checkErr := c.checkLogin(ctx); checkErr == nil && !ok {
			return "", siteclient.NewLoginRequired("session expired during submit")
		}
		return "", siteclient.NewSubmitError("submit failed unexpectedly", nil)
	}

	statusURL := fmt.Sprintf("%s/solutions.action?userId=%s&problemId=%s", baseURL, userID, problemID)
	statusBody, err := c.http.Get(ctx, statusURL)
	if err != nil {
		return "", err
	}
	runID, ok := firstSolutionRunID(statusBody)
	if !ok {
		return "", siteclient.NewSubmitError("submit failed unexpectedly", nil)
	}
	return runID, nil
}

func (c *Client) checkLogin(ctx context.Context) (bool, error) {
	body, err := c.http.Get(ctx, baseURL+"/update_user_form.action")
	if err != nil {
		return false, err
	}
	return !strings.Contains(body, "Please login first"), nil
}

func (c *Client) solveCaptcha(ctx context.Context) (string, error) {
	image, err := c.http.GetBytes(ctx, baseURL+"/validation_code")
	if err != nil {
		return "", err
	}
	sum := md5.Sum(image)
	return c.solver.Solve(ctx, hex.EncodeToString(sum[:]), image)
}

func (c *Client) GetSubmitStatus(ctx context.Context, runID string, hints siteclient.StatusHints) (*siteclient.StatusResult, error) {
	u := fmt.Sprintf("%s/solutions.action?from=%s", baseURL, runID)
	body, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	return parseSolutionStatus(body)
}

func firstSolutionRunID(body string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	tables := doc.Find("table")
	if tables.Length() < 2 {
		return "", false
	}
	row := tables.Eq(1).Find("tr").Eq(1)
	if row.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(row.Find("td").First().Text()), true
}

func parseSolutionStatus(body string) (*siteclient.StatusResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	tables := doc.Find("table")
	if tables.Length() < 2 {
		return nil, nil
	}
	row := tables.Eq(1).Find("tr").Eq(1)
	cells := row.Find("td")
	if cells.Length() < 8 {
		return nil, nil
	}
	verdict := strings.TrimSpace(cells.Eq(5).Text())
	exeTime, err1 := strconv.Atoi(strings.TrimSpace(cells.Eq(6).Text()))
	exeMem, err2 := strconv.Atoi(strings.TrimSpace(cells.Eq(7).Text()))
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	return &siteclient.StatusResult{Verdict: verdict, ExeTime: exeTime, ExeMem: exeMem}, nil
}
