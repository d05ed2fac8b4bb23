package broker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

var errMalformedFrame = errors.New("malformed frame")

// encodeFrame renders f including the trailing NUL. Non-empty bodies get a
// content-length header unless one is already set.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	if len(f.Body) > 0 {
		if _, ok := f.Header.Contains(frame.ContentLength); !ok {
			f.Header.Add(frame.ContentLength, strconv.Itoa(len(f.Body)))
		}
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrames decodes every frame in one transport payload. Heartbeat EOLs
// between frames are skipped, so a heartbeat-only payload yields no frames.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	trimmed := bytes.TrimRight(data, "\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[len(trimmed)-1] != 0 {
		return nil, fmt.Errorf("%w: missing NUL terminator", errMalformedFrame)
	}

	r := frame.NewReader(bytes.NewReader(data))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("%w: %w", errMalformedFrame, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}

// headerMap flattens headers, keeping the first occurrence of each key.
func headerMap(h *frame.Header) map[string]string {
	m := make(map[string]string, h.Len())
	for i := range h.Len() {
		k, v := h.GetAt(i)
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return m
}

// negotiate returns the agreed interval: zero when either side declines,
// otherwise the larger of the two.
func negotiate(client, server time.Duration) time.Duration {
	if client <= 0 || server <= 0 {
		return 0
	}
	return max(client, server)
}
