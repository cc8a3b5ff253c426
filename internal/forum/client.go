package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

const (
	commentsPath = "/api/comments"
	postPath     = "/post"
	healthPath   = "/health"

	csrfField = "csrf_token"
)

// Client is a forum API client bound to a single origin. Cookies set by the
// forum are kept for later requests to the same origin.
type Client struct {
	base *url.URL
	http *http.Client

	mu   sync.RWMutex
	csrf string
}

// NewClient creates a Client for the forum at baseURL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse base url: unsupported scheme %q", u.Scheme)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	hc := &http.Client{
		Timeout: timeout,
		Jar:     jar,
		// Posting answers with a redirect back to the index; nobody reads it.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Client{base: u, http: hc}, nil
}

// BaseURL returns the forum origin the client talks to.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(path string) string {
	return c.base.JoinPath(path).String()
}

// ListComments fetches the whole comment collection, bypassing caches.
func (c *Client) ListComments(ctx context.Context) ([]Comment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(commentsPath), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Method: http.MethodGet, Path: commentsPath, Code: resp.StatusCode}
	}

	var out []Comment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	if out == nil {
		out = []Comment{}
	}
	return out, nil
}

// PostForm submits content to the form endpoint. The response is not
// inspected; only transport failures are reported.
func (c *Client) PostForm(ctx context.Context, content string) error {
	form := url.Values{}
	form.Set("content", content)
	if tok := c.CSRFToken(); tok != "" {
		form.Set(csrfField, tok)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(postPath), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post comment: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// CSRFToken returns the last token read from the forum page, if any.
func (c *Client) CSRFToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.csrf
}

// RefreshCSRF loads the forum index page and remembers the anti-forgery
// token it exposes. A page without a token is not an error.
func (c *Client) RefreshCSRF(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/"), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("load index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Method: http.MethodGet, Path: "/", Code: resp.StatusCode}
	}
	tok, err := findCSRFToken(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse index: %w", err)
	}
	c.mu.Lock()
	c.csrf = tok
	c.mu.Unlock()
	return tok, nil
}

// Health checks the forum's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(healthPath), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: http.MethodGet, Path: healthPath, Code: resp.StatusCode}
	}
	return nil
}

// findCSRFToken returns the value of the first non-empty
// <input name="csrf_token"> in the document.
func findCSRFToken(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return "", nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "input" {
				continue
			}
			var name, value string
			for _, a := range tok.Attr {
				switch a.Key {
				case "name":
					name = a.Val
				case "value":
					value = a.Val
				}
			}
			if name == csrfField && value != "" {
				return value, nil
			}
		}
	}
}
