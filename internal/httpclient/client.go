// Package httpclient provides the outbound HTTP client used by the scraping and
// API extraction methods.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/mediafetch/backend/internal/errors"
)

const (
	// DesktopUserAgent is sent unless the caller overrides it
	DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	// MobileUserAgent is used by endpoints that only answer mobile clients
	MobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"

	defaultMaxBody = 10 * 1024 * 1024 // 10MB
)

// Config holds configuration for a Client
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Retry        *apperrors.RetryConfig
	// BrowserTLS makes the client present a Chrome TLS fingerprint
	BrowserTLS bool
}

// Client performs outbound requests with browser-like headers and retries
// transient failures.
type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
	retry     *apperrors.RetryConfig
}

// Request describes one outbound request
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Cookies string
	Body    []byte
}

// Response is a fully read response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// New creates a client
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DesktopUserAgent
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody == 0 {
		maxBody = defaultMaxBody
	}
	retry := cfg.Retry
	if retry == nil {
		retry = apperrors.FetchRetryConfig()
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        50,
		IdleConnTimeout:     30 * time.Second,
		MaxIdleConnsPerHost: 10,
	}
	if cfg.BrowserTLS {
		transport = newBrowserTransport(timeout)
	}

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		userAgent: ua,
		maxBody:   maxBody,
		retry:     retry,
	}
}

// HTTPClient returns the underlying client for libraries that need one
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do executes a request. Non-2xx responses come back as a *StatusError
// together with the response, so callers can still inspect the body.
// Transient failures (network errors, 429, 5xx) are retried.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if err := ValidateURL(req.URL); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var last *Response
	resp, err := apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		r, err := c.once(ctx, req)
		if r != nil {
			last = r
		}
		return r, err
	})
	if err != nil {
		return last, err
	}
	return resp, nil
}

func (c *Client) once(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := req.URL
	if len(req.Query) > 0 {
		u, err := url.Parse(req.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing URL: %w", err)
		}
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if req.Cookies != "" {
		httpReq.Header.Set("Cookie", req.Cookies)
	}
	// Caller headers override the defaults
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		FinalURL:   resp.Request.URL.String(),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{StatusCode: resp.StatusCode, URL: target}
	}
	return out, nil
}

// Get fetches a page with browser-like headers
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, cookies string) (*Response, error) {
	return c.Do(ctx, Request{URL: rawURL, Headers: headers, Cookies: cookies})
}

// GetJSON fetches a URL and decodes its JSON body into out
func (c *Client) GetJSON(ctx context.Context, req Request, out any) (*Response, error) {
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	if _, ok := req.Headers["Accept"]; !ok {
		req.Headers["Accept"] = "application/json"
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return resp, &DecodeError{Err: err}
	}
	return resp, nil
}

// PostJSON sends payload as JSON and decodes the JSON reply into out
func (c *Client) PostJSON(ctx context.Context, req Request, payload, out any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	req.Method = http.MethodPost
	req.Body = body
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers["Content-Type"] = "application/json"
	return c.GetJSON(ctx, req, out)
}

// ValidateURL checks that a URL is well-formed and uses HTTP(S)
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("only HTTP(S) URLs are allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}
