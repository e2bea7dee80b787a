// Package httpx is the small cookie-jar HTTP helper shared by the
// concrete site adapters (siteclient/hdu, siteclient/scu), grounded on
// the original source's requests.Session usage in
// core/vjudge/site/base.py and the teacher's explicit http.Client/
// NewRequestWithContext/status-check style in control_plane/jobs.go.
package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sleepymole/vjudge-dispatcher/siteclient"
)

// Client wraps an http.Client with a persistent cookie jar, standing in
// for the original's per-instance requests.Session.
type Client struct {
	http    *http.Client
	Timeout time.Duration

	// LoginRequiredMarker, when set by the site adapter, is looked for in
	// every response body read by Get/PostForm, matching the original's
	// _request_url checking session expiry on every request rather than
	// only at login.
	LoginRequiredMarker string
}

// New builds a Client with a fresh cookie jar and the given per-request
// timeout (the original defaults to 5s).
func New(timeout time.Duration) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		http:    &http.Client{Jar: jar, Timeout: timeout},
		Timeout: timeout,
	}
}

// userAgent matches the original's get_header() desktop UA string closely
// enough to avoid mobile-rendered pages from upstream sites.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Get issues a GET and returns the response body as a string. A
// transport-level failure becomes a *siteclient.Error of KindConnection,
// matching the original's catch-RequestException-reraise-ConnectionError
// pattern.
func (c *Client) Get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", siteclient.NewConnectionError("build request", err)
	}
	return c.do(req, rawURL)
}

// PostForm issues a POST with an application/x-www-form-urlencoded body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", siteclient.NewConnectionError("build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, rawURL)
}

// GetBytes issues a GET and returns the raw response body, used for
// non-text resources such as captcha images.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, siteclient.NewConnectionError("build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, siteclient.NewConnectionError("request "+rawURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, siteclient.NewConnectionError("read response "+rawURL, err)
	}
	return body, nil
}

func (c *Client) do(req *http.Request, rawURL string) (string, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", siteclient.NewConnectionError("request "+rawURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", siteclient.NewConnectionError("read response "+rawURL, err)
	}
	text := string(body)
	if c.LoginRequiredMarker != "" && strings.Contains(text, c.LoginRequiredMarker) {
		return "", siteclient.NewLoginRequired("session expired")
	}
	return text, nil
}
