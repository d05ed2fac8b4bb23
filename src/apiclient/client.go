package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TokenProvider returns the current access token, or "" when there is none.
type TokenProvider func(ctx context.Context) (string, error)

// RefreshFunc obtains a new access token after a 401. An empty token
// means the refresh failed.
type RefreshFunc func(ctx context.Context) (string, error)

// ErrorHook observes every terminal *Error returned by the client.
type ErrorHook func(req *Request, err *Error)

// Expect selects how the caller wants the response body.
type Expect int

const (
	ExpectJSON Expect = iota
	ExpectBlob
	ExpectText
)

// Config configures a Client. A nil Config uses defaults.
type Config struct {
	BaseURL        string
	HTTPClient     *http.Client
	Timeout        time.Duration // per attempt, default 30s
	DefaultHeaders http.Header
	AccessToken    TokenProvider
	RefreshToken   RefreshFunc
	OnUnauthorized func()
	OnError        ErrorHook
	Retry          RetryOptions
	Logger         *zerolog.Logger
}

// Request describes one logical call. A call may issue several attempts.
type Request struct {
	Method  string
	Path    string
	Query   Query
	Body    any
	Header  http.Header   // overrides; keys with no values are skipped
	Timeout time.Duration // overrides the client timeout when > 0
	Expect  Expect
	Retry   *bool // nil keeps the per-method default
}

// Client is a resilient HTTP client. It is safe for concurrent use.
type Client struct {
	baseURL        string
	http           *http.Client
	timeout        time.Duration
	defaultHeaders http.Header
	accessToken    TokenProvider
	refresh        RefreshFunc
	onUnauthorized func()
	onError        ErrorHook
	retry          RetryOptions
	logger         zerolog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
	now    func() time.Time
}

// New creates a Client.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	c := &Client{
		baseURL:        cfg.BaseURL,
		http:           cfg.HTTPClient,
		timeout:        cfg.Timeout,
		defaultHeaders: cfg.DefaultHeaders.Clone(),
		accessToken:    cfg.AccessToken,
		refresh:        cfg.RefreshToken,
		onUnauthorized: cfg.OnUnauthorized,
		onError:        cfg.OnError,
		retry:          cfg.Retry.withDefaults(),
		logger:         zerolog.Nop(),
		sleep:          sleepContext,
		jitter:         randomJitter,
		now:            time.Now,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if cfg.Logger != nil {
		c.logger = cfg.Logger.With().Str("component", "apiclient").Logger()
	}
	if c.baseURL == "" {
		c.logger.Warn().Msg("no base url configured, relative paths stay origin-relative")
	}
	return c
}

// SetSleep replaces the backoff sleep. Intended for tests.
func (c *Client) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BuildURL resolves path and query against the client base URL.
func (c *Client) BuildURL(path string, query Query) string {
	return BuildURL(c.baseURL, path, query)
}

// Do executes req with retries and a single token refresh on 401.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := c.BuildURL(req.Path, req.Query)

	payload, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	retryEnabled := retryByDefault(method)
	if req.Retry != nil {
		retryEnabled = *req.Retry
	}
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	var (
		refreshed bool
		token     string
	)
	for attempt := 0; ; {
		header, err := c.headers(ctx, req, contentType, token)
		if err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, method, target, header, payload, timeout)
		if err == nil {
			return resp, nil
		}

		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && c.refresh != nil && !refreshed {
			refreshed = true
			fresh, rerr := c.refresh(ctx)
			if rerr != nil {
				c.logger.Warn().Err(rerr).Str("url", target).Msg("token refresh failed")
			}
			if rerr == nil && fresh != "" {
				c.logger.Debug().Str("url", target).Msg("token refreshed, retrying")
				token = fresh
				continue
			}
			if c.onUnauthorized != nil {
				c.onUnauthorized()
			}
		}

		if !retryEnabled || attempt >= c.retry.Attempts || !retryable(err) {
			return nil, c.fail(req, err)
		}

		delay := c.backoff(attempt, err, c.now())
		c.logger.Debug().
			Err(err).
			Str("method", method).
			Str("url", target).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying request")
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, c.fail(req, &TransportError{Method: method, URL: target, Err: fmt.Errorf("%w: %w", ErrAborted, serr)})
		}
		attempt++
	}
}

func (c *Client) fail(req *Request, err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) && c.onError != nil {
		c.onError(req, apiErr)
	}
	return err
}

// headers merges defaults, content type, bearer token, Accept, and caller
// overrides, in that order of increasing precedence. A non-empty token
// replaces the provider's token.
func (c *Client) headers(ctx context.Context, req *Request, contentType, token string) (http.Header, error) {
	h := c.defaultHeaders.Clone()
	if h == nil {
		h = http.Header{}
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if token == "" && c.accessToken != nil {
		var err error
		if token, err = c.accessToken(ctx); err != nil {
			return nil, fmt.Errorf("access token: %w", err)
		}
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if req.Expect == ExpectJSON && h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	for k, vs := range req.Header {
		if len(vs) == 0 {
			continue
		}
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h, nil
}

// attempt performs a single HTTP exchange bounded by timeout.
func (c *Client) attempt(ctx context.Context, method, target string, header http.Header, payload []byte, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header = header

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, method, target, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, method, target, err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       raw,
	}
	c.logger.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(method, target, resp)
	}
	return resp, nil
}

// transportError distinguishes caller cancellation from the internal timeout.
func (c *Client) transportError(ctx, attemptCtx context.Context, method, target string, err error) error {
	switch {
	case ctx.Err() != nil:
		err = fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &TransportError{Method: method, URL: target, Err: err}
}
