package apiclient

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryOptions configures retry behavior.
type RetryOptions struct {
	// Attempts is the number of retries after the first attempt. Zero means
	// the default of 2; a negative value disables retries.
	Attempts  int
	BaseDelay time.Duration // default 300ms
	MaxJitter time.Duration // default 100ms
}

// DefaultRetryOptions returns the default retry options.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Attempts:  2,
		BaseDelay: 300 * time.Millisecond,
		MaxJitter: 100 * time.Millisecond,
	}
}

func (o RetryOptions) withDefaults() RetryOptions {
	d := DefaultRetryOptions()
	switch {
	case o.Attempts < 0:
		d.Attempts = 0
	case o.Attempts > 0:
		d.Attempts = o.Attempts
	}
	if o.BaseDelay > 0 {
		d.BaseDelay = o.BaseDelay
	}
	if o.MaxJitter > 0 {
		d.MaxJitter = o.MaxJitter
	}
	return d
}

// retryByDefault reports whether method is retried without an explicit opt-in.
func retryByDefault(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

// retryable reports whether err may succeed on another attempt.
func retryable(err error) bool {
	if errors.Is(err, ErrAborted) {
		return false
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		s := apiErr.StatusCode
		return s >= 500 || s == http.StatusRequestTimeout || s == http.StatusTooManyRequests
	}
	return false
}

// backoff returns the delay before retry number attempt (zero-based):
// max(base*2^attempt, Retry-After) plus jitter.
func (c *Client) backoff(attempt int, err error, now time.Time) time.Duration {
	delay := c.retry.BaseDelay << attempt
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if ra, ok := retryAfter(apiErr.Header, now); ok && ra > delay {
			delay = ra
		}
	}
	return delay + c.jitter(c.retry.MaxJitter)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
