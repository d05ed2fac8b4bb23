package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for matching with errors.Is.
var (
	ErrAborted      = errors.New("request aborted")
	ErrTimeout      = errors.New("request timed out")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrServer       = errors.New("server error")
)

// Error is returned for every non-2xx response.
type Error struct {
	Message    string
	StatusCode int
	Method     string
	URL        string
	Data       any // decoded JSON body, raw text, or nil
	Header     http.Header
}

func newError(method, url string, resp *Response) *Error {
	text := http.StatusText(resp.StatusCode)
	if text == "" {
		text = "Request failed"
	}
	return &Error{
		Message:    fmt.Sprintf("[%d] %s", resp.StatusCode, text),
		StatusCode: resp.StatusCode,
		Method:     method,
		URL:        url,
		Data:       resp.diagnostic(),
		Header:     resp.Header,
	}
}

func (e *Error) Error() string {
	return e.Message
}

// Is maps status codes onto the package sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrServer:
		return e.StatusCode >= 500
	}
	return false
}

// TransportError reports a failure that produced no response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from err, or 0 if there is none.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
