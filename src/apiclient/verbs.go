package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestOption customizes a convenience call.
type RequestOption func(*Request)

// WithQuery sets query parameters.
func WithQuery(q Query) RequestOption {
	return func(r *Request) { r.Query = q }
}

// WithHeader sets a header override.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Set(key, value)
	}
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(r *Request) { r.Timeout = d }
}

// WithRetry enables or disables retries for the call.
func WithRetry(enabled bool) RequestOption {
	return func(r *Request) { r.Retry = &enabled }
}

func newRequest(method, path string, body any, opts []RequestOption) *Request {
	req := &Request{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

func (c *Client) call(ctx context.Context, req *Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func joinID(path string, id any) string {
	return strings.TrimRight(path, "/") + "/" + url.PathEscape(fmt.Sprint(id))
}

// Get issues a GET and decodes the result into out.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.call(ctx, newRequest(http.MethodGet, path, nil, opts), out)
}

// GetID issues a GET on path/{id}.
func (c *Client) GetID(ctx context.Context, path string, id any, out any, opts ...RequestOption) error {
	return c.Get(ctx, joinID(path, id), out, opts...)
}

// Post issues a POST. Retries are off unless WithRetry(true) is given.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.call(ctx, newRequest(http.MethodPost, path, body, opts), out)
}

// Put issues a PUT. PUT is never retried.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	req := newRequest(http.MethodPut, path, body, opts)
	req.Retry = new(bool)
	return c.call(ctx, req, out)
}

// PutID issues a PUT on path/{id}.
func (c *Client) PutID(ctx context.Context, path string, id any, body, out any, opts ...RequestOption) error {
	return c.Put(ctx, joinID(path, id), body, out, opts...)
}

// Patch issues a PATCH. PATCH is never retried.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	req := newRequest(http.MethodPatch, path, body, opts)
	req.Retry = new(bool)
	return c.call(ctx, req, out)
}

// Delete issues a DELETE. DELETE is never retried.
func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	req := newRequest(http.MethodDelete, path, nil, opts)
	req.Retry = new(bool)
	return c.call(ctx, req, out)
}

// PostForm posts fields as application/x-www-form-urlencoded.
func (c *Client) PostForm(ctx context.Context, path string, fields map[string]string, out any, opts ...RequestOption) error {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	return c.Post(ctx, path, form, out, opts...)
}

// PostMultipart posts a multipart/form-data body.
func (c *Client) PostMultipart(ctx context.Context, path string, form *Multipart, out any, opts ...RequestOption) error {
	return c.Post(ctx, path, form, out, opts...)
}

// Download fetches path as raw bytes.
func (c *Client) Download(ctx context.Context, path string, opts ...RequestOption) ([]byte, error) {
	req := newRequest(http.MethodGet, path, nil, opts)
	req.Expect = ExpectBlob
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Text fetches path as text.
func (c *Client) Text(ctx context.Context, path string, opts ...RequestOption) (string, error) {
	req := newRequest(http.MethodGet, path, nil, opts)
	req.Expect = ExpectText
	resp, err := c.Do(ctx, req)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}
