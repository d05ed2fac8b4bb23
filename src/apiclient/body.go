package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"

	json "github.com/goccy/go-json"
)

const formContentType = "application/x-www-form-urlencoded;charset=UTF-8"

// Multipart is a pre-encoded multipart/form-data body.
type Multipart struct {
	ContentType string
	Body        []byte
}

// FormFile is a file part of a multipart body.
type FormFile struct {
	Field   string
	Name    string
	Content io.Reader
}

// NewMultipart encodes fields and files as multipart/form-data.
func NewMultipart(fields map[string]string, files ...FormFile) (*Multipart, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, fmt.Errorf("create part %s: %w", f.Field, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, fmt.Errorf("copy part %s: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &Multipart{ContentType: w.FormDataContentType(), Body: buf.Bytes()}, nil
}

// encodeBody returns the payload bytes and the content type it implies.
// Payloads are buffered so every retry attempt can resend them.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *Multipart:
		return b.Body, b.ContentType, nil
	case url.Values:
		return []byte(b.Encode()), formContentType, nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("read body: %w", err)
		}
		return data, "", nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("marshal body: %w", err)
	}
	return data, "application/json", nil
}
