package audible

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"audibridge/internal/logging"
	"audibridge/internal/marketplace"
	"audibridge/internal/metrics"
	"audibridge/internal/services"
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient overrides the client used for API calls.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) { c.http = client }
}

// WithDownloadClient overrides the client used for content downloads.
func WithDownloadClient(client HTTPDoer) Option {
	return func(c *Client) { c.download = client }
}

// WithAPIBaseURL replaces https://api.audible.<domain> (used in tests and
// behind proxies).
func WithAPIBaseURL(base string) Option {
	return func(c *Client) { c.apiBaseURL = strings.TrimRight(base, "/") }
}

// WithAuthBaseURL replaces https://api.amazon.<domain>.
func WithAuthBaseURL(base string) Option {
	return func(c *Client) { c.authBaseURL = strings.TrimRight(base, "/") }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRateLimit throttles outgoing API calls. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics records per-endpoint outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.NewComponentLogger(logger, "audible") }
}

// Client speaks the vendor's private API. It is safe for concurrent use.
type Client struct {
	http        HTTPDoer
	download    HTTPDoer
	apiBaseURL  string
	authBaseURL string
	userAgent   string
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewClient constructs a Client with explicit timeouts.
func NewClient(requestTimeout, downloadTimeout time.Duration, opts ...Option) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	c := &Client{
		http:      &http.Client{Timeout: requestTimeout},
		download:  &http.Client{Timeout: downloadTimeout},
		userAgent: "audibridge/dev",
		logger:    logging.NewComponentLogger(nil, "audible"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) apiURL(m marketplace.Marketplace, path string) string {
	base := c.apiBaseURL
	if base == "" {
		base = "https://" + m.AudibleAPIHost()
	}
	return base + path
}

func (c *Client) authURL(m marketplace.Marketplace, path string) string {
	base := c.authBaseURL
	if base == "" {
		base = "https://" + m.APIHost()
	}
	return base + path
}

type request struct {
	method   string
	url      string
	endpoint string
	query    url.Values
	body     []byte
	ctype    string
	bearer   string
	// authFlow marks device-auth endpoints, where 400 means a rejected grant.
	authFlow bool
	client   HTTPDoer
}

func jsonBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return data, nil
}

// send performs the request and returns the response when the status is 2xx.
// The caller owns the body.
func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	target := r.url
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if r.ctype != "" {
		req.Header.Set("Content-Type", r.ctype)
	}
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
		req.Header.Set("client-id", "0")
	}

	doer := r.client
	if doer == nil {
		doer = c.http
	}
	resp, err := doer.Do(req)
	if err != nil {
		c.metrics.VendorRequest(r.endpoint, "transport_error")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrTransient, "audible", r.endpoint, "request failed", err)
	}
	c.metrics.VendorRequest(r.endpoint, outcomeLabel(resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return nil, classifyStatus(r, resp, strings.TrimSpace(string(snippet)))
}

func (c *Client) doJSON(ctx context.Context, r request, out any) error {
	resp, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrUpstream, "audible", r.endpoint, "malformed response", err)
	}
	return nil
}

func (c *Client) doBytes(ctx context.Context, r request, limit int64) ([]byte, error) {
	resp, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "audible", r.endpoint, "read response", err)
	}
	return data, nil
}

func classifyStatus(r request, resp *http.Response, body string) error {
	detail := fmt.Sprintf("%s %s returned %d: %s", r.method, r.endpoint, resp.StatusCode, body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrAuthFailed, "audible", r.endpoint, detail, nil)
	case resp.StatusCode == http.StatusBadRequest && r.authFlow:
		return services.Wrap(services.ErrAuthFailed, "audible", r.endpoint, detail, nil)
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "audible", r.endpoint, detail, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait := retryAfter(resp.Header.Get("Retry-After")); wait > 0 {
			detail += fmt.Sprintf(" (retry after %s)", wait)
		}
		return services.Wrap(services.ErrRateLimited, "audible", r.endpoint, detail, nil)
	case resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransient, "audible", r.endpoint, detail, nil)
	default:
		return services.Wrap(services.ErrUpstream, "audible", r.endpoint, detail, nil)
	}
}

func retryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func outcomeLabel(status int) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return strconv.Itoa(status)
}

// flexInt decodes a JSON number or numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	v, err := decodeEpoch(data)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

var errMissingField = errors.New("missing required field")
