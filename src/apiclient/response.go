package apiclient

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsJSON reports whether the response declares a JSON content type.
func (r *Response) IsJSON() bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func (r *Response) empty() bool {
	return r.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(r.Body)) == 0
}

// value decodes the body: nil for 204 or an empty JSON body, the parsed
// document for JSON, and the text otherwise.
func (r *Response) value() (any, error) {
	if r.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if r.IsJSON() {
		if r.empty() {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(r.Body, &v); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return v, nil
	}
	return string(r.Body), nil
}

// Decode stores the body in out. A 204 or empty JSON body leaves out
// untouched. Non-JSON bodies decode only into *string, *[]byte, or *any.
func (r *Response) Decode(out any) error {
	if out == nil || r.StatusCode == http.StatusNoContent {
		return nil
	}
	if r.IsJSON() {
		if r.empty() {
			return nil
		}
		if err := json.Unmarshal(r.Body, out); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
		return nil
	}
	switch v := out.(type) {
	case *string:
		*v = string(r.Body)
	case *[]byte:
		*v = r.Body
	case *any:
		*v = string(r.Body)
	default:
		return fmt.Errorf("decode %q body into %T", r.Header.Get("Content-Type"), out)
	}
	return nil
}

// diagnostic decodes an error body on a best-effort basis.
func (r *Response) diagnostic() any {
	if len(r.Body) == 0 {
		return nil
	}
	if r.IsJSON() {
		var v any
		if err := json.Unmarshal(r.Body, &v); err == nil {
			return v
		}
	}
	return string(r.Body)
}
