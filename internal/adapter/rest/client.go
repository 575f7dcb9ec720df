// Package rest reads the sync daemon's event log over its HTTP API.
package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roseeng/SyncTrayzor/internal/events"
	"github.com/roseeng/SyncTrayzor/internal/watcher"
)

const (
	eventsPath   = "/rest/events"
	apiKeyHeader = "X-API-Key"

	// DefaultLongPollTimeout is how long the daemon holds an events request
	// open when nothing new has happened.
	DefaultLongPollTimeout = 60 * time.Second

	dialTimeout     = 3 * time.Second
	retryMaxElapsed = 10 * time.Second
	// responseSlack is added to the long-poll timeout for the HTTP deadline
	// so the daemon answers before the client gives up.
	responseSlack = 15 * time.Second
	maxErrorBody  = 4 << 10
)

var _ watcher.Client = (*Client)(nil)

// Client fetches events from the daemon's REST API.
type Client struct {
	baseURL         *url.URL
	apiKey          string
	longPollTimeout time.Duration
	httpClient      *http.Client
	newRetry        func() backoff.BackOff
	customHTTP      bool
}

type Option func(*Client)

// WithAPIKey sets the key sent in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the HTTP client. The retrying transport is not
// installed around a custom client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.customHTTP = true
	}
}

// WithLongPollTimeout sets how long the daemon may hold a request open.
// Zero leaves the daemon's own default in place.
func WithLongPollTimeout(d time.Duration) Option {
	return func(c *Client) { c.longPollTimeout = d }
}

// WithRetry sets the backoff used to retry requests that failed to connect.
// Pass nil to disable retries.
func WithRetry(newRetry func() backoff.BackOff) Option {
	return func(c *Client) { c.newRetry = newRetry }
}

// New creates a client for the daemon at baseURL, e.g. http://127.0.0.1:8384.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse daemon URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse daemon URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse daemon URL %q: missing host", baseURL)
	}

	c := &Client{
		baseURL:         u,
		longPollTimeout: DefaultLongPollTimeout,
		newRetry: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(100*time.Millisecond),
				backoff.WithMaxInterval(time.Second),
				backoff.WithMaxElapsedTime(retryMaxElapsed),
			)
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if !c.customHTTP {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.DialContext = (&net.Dialer{Timeout: dialTimeout}).DialContext
		var rt http.RoundTripper = base
		if c.newRetry != nil {
			rt = &retryRoundTripper{base: base, newBackoff: c.newRetry}
		}
		c.httpClient = &http.Client{Transport: rt}
		if c.longPollTimeout > 0 {
			c.httpClient.Timeout = c.longPollTimeout + responseSlack
		}
	}
	return c, nil
}

// FetchSince long-polls for events with an id greater than since.
func (c *Client) FetchSince(ctx context.Context, since int64) ([]events.Envelope, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if c.longPollTimeout > 0 {
		q.Set("timeout", strconv.Itoa(int(c.longPollTimeout/time.Second)))
	}
	return c.get(ctx, q)
}

// FetchLatest returns only the newest event.
func (c *Client) FetchLatest(ctx context.Context) ([]events.Envelope, error) {
	q := url.Values{}
	q.Set("since", "0")
	q.Set("limit", "1")
	if c.longPollTimeout > 0 {
		q.Set("timeout", strconv.Itoa(int(c.longPollTimeout/time.Second)))
	}
	return c.get(ctx, q)
}

func (c *Client) get(ctx context.Context, q url.Values) ([]events.Envelope, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + eventsPath
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build events request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "GET", URL: redact(u), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode >= 500 {
			return nil, &TransportError{Op: "GET", URL: redact(u), Err: statusErr}
		}
		return nil, statusErr
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", URL: redact(u), Err: err}
	}
	batch, err := events.DecodeBatch(payload)
	if err != nil {
		return nil, fmt.Errorf("decode events response: %w", err)
	}
	return batch, nil
}

func redact(u url.URL) string {
	u.User = nil
	return u.String()
}

// TransportError is a failure to reach the daemon or read its answer.
// The poll loop retries these quietly.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error   { return e.Err }
func (e *TransportError) Transient() bool { return true }

// StatusError is a non-200 answer from the daemon.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("daemon returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("daemon returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// IsUnauthorized reports whether err is the daemon rejecting the API key.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

// retryRoundTripper retries requests that never reached the daemon.
type retryRoundTripper struct {
	base       http.RoundTripper
	newBackoff func() backoff.BackOff
}

func (rt *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	attempt := func() (*http.Response, error) {
		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Op == "dial" && req.Context().Err() == nil {
				slog.Debug("Retrying daemon request due to network error.", "component", "rest-client", "err", err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}
	boff := backoff.WithContext(rt.newBackoff(), req.Context())
	return backoff.RetryWithData(attempt, boff)
}
