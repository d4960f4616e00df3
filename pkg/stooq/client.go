package stooq

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	errs "stooqfetch/pkg/errors"
	"stooqfetch/pkg/logger"
	"stooqfetch/pkg/ratelimit"
)

// authRejectionMarkers are body fragments the site serves instead of a
// proper status code when a session is not authorized.
var authRejectionMarkers = []string{
	"Unauthorized",
	"Access Denied",
	"401 Unauthorized",
	"403 Forbidden",
	"Please login",
	"Authorization required",
}

// Client is the authenticated HTTP client for the stooq site. It owns
// a cookie jar seeded from the persisted session state.
type Client struct {
	httpClient *http.Client
	jar        *cookiejar.Jar
	headers    map[string]string
	baseURL    *url.URL
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewClient creates a site client. A nil limiter disables pacing.
func NewClient(baseURL, userAgent string, timeout time.Duration, limiter ratelimit.Limiter, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, "invalid base URL %q: %v", baseURL, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, "failed to create cookie jar: %v", err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		jar: jar,
		headers: map[string]string{
			"User-Agent":      userAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"Referer":         baseURL,
		},
		baseURL: parsed,
		limiter: limiter,
		logger:  log,
	}, nil
}

// BaseURL returns the configured site base URL
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Domain returns the site host, used to scope persisted cookies
func (c *Client) Domain() string {
	return c.baseURL.Hostname()
}

// SetCookies seeds the jar with persisted session cookies
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.jar.SetCookies(c.baseURL, cookies)
}

// Cookies returns the jar's current cookies for the site
func (c *Client) Cookies() []*http.Cookie {
	return c.jar.Cookies(c.baseURL)
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Get performs a GET request against an absolute or site-relative URL.
// The caller owns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	target, err := c.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	c.limiter.Wait()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"url":      target,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, "network error: %v", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      target,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if err := c.checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// GetBody performs a GET and returns the full body, rejecting
// responses that carry an in-body authorization rejection.
func (c *Client) GetBody(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, "failed to read response body: %v", err)
	}

	if marker := findAuthRejection(body); marker != "" {
		return nil, errs.New(errs.ErrorTypeAuthExpired, "response body contains %q", marker)
	}
	return body, nil
}

// Post submits a form-encoded request and returns the full response
// body.
func (c *Client) Post(ctx context.Context, rawURL string, form url.Values) (int, []byte, error) {
	target, err := c.resolve(rawURL)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, errs.New(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.limiter.Wait()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errs.New(errs.ErrorTypeNetwork, "network error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errs.New(errs.ErrorTypeNetwork, "failed to read response body: %v", err)
	}
	return resp.StatusCode, body, nil
}

// Probe performs a lightweight authenticated request against the DB
// page. A nil return is the only confirmation that the session is
// valid.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.GetBody(ctx, c.baseURL.String())
	return err
}

// resolve expands site-relative URLs against the base URL
func (c *Client) resolve(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL, nil
	}
	ref, err := url.Parse(strings.TrimPrefix(rawURL, "/"))
	if err != nil {
		return "", errs.New(errs.ErrorTypeUnknown, "invalid URL %q: %v", rawURL, err)
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

// checkStatus maps HTTP status codes to typed errors
func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.NewWithCode(errs.ErrorTypeAuthExpired, resp.StatusCode, "authentication rejected")
	case resp.StatusCode == http.StatusTooManyRequests:
		return errs.NewWithCode(errs.ErrorTypeServerError, resp.StatusCode, "rate limited by server")
	case resp.StatusCode >= 500:
		return errs.NewWithCode(errs.ErrorTypeServerError, resp.StatusCode, "server error")
	default:
		return errs.NewWithCode(errs.ErrorTypeTransfer, resp.StatusCode, "unexpected status")
	}
}

// findAuthRejection scans a body for authorization rejection markers
func findAuthRejection(body []byte) string {
	text := string(body)
	for _, marker := range authRejectionMarkers {
		if strings.Contains(text, marker) {
			return marker
		}
	}
	return ""
}
