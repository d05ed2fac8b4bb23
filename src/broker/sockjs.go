package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/valyala/fasthttp"
)

// SockJSDialer speaks STOMP over SockJS. It tries the websocket
// sub-transport first and falls back to xhr-polling.
type SockJSDialer struct {
	HTTPClient       *fasthttp.Client
	HandshakeTimeout time.Duration
	PollTimeout      time.Duration // default 30s
	DisableWebSocket bool
}

// Dial opens a SockJS session below opts.URL and performs the STOMP handshake.
func (d *SockJSDialer) Dial(ctx context.Context, opts ConnectOptions) (Session, error) {
	logger := opts.Logger.With().Str("component", "sockjs").Logger()
	sessionURL := fmt.Sprintf("%s/%03d/%s", strings.TrimRight(opts.URL, "/"), rand.IntN(1000),
		strings.ReplaceAll(uuid.NewString(), "-", ""))

	if !d.DisableWebSocket {
		conn, err := dialWebSocket(ctx, WebSocketURL(sessionURL)+"/websocket", d.HandshakeTimeout, nil)
		if err == nil {
			return handshake(ctx, &sockjsWSWire{conn: conn}, opts)
		}
		if ctx.Err() != nil {
			return nil, err
		}
		logger.Debug().Err(err).Msg("websocket unavailable, falling back to xhr-polling")
	}

	client := d.HTTPClient
	if client == nil {
		client = &fasthttp.Client{}
	}
	timeout := d.PollTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	w := &xhrWire{client: client, base: sessionURL, timeout: timeout}
	if err := w.open(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return handshake(ctx, w, opts)
}

// WebSocketURL maps http(s) onto ws(s), leaving other schemes alone.
func WebSocketURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// SockJSCloseError reports a "c" frame sent by the server.
type SockJSCloseError struct {
	Code   int
	Reason string
}

func (e *SockJSCloseError) Error() string {
	return fmt.Sprintf("sockjs closed: %d %s", e.Code, e.Reason)
}

// parseSockJS decodes one SockJS frame. Open and heartbeat frames yield no
// messages; a close frame yields a *SockJSCloseError.
func parseSockJS(frame []byte) ([][]byte, error) {
	frame = bytes.TrimRight(frame, "\n")
	if len(frame) == 0 {
		return nil, fmt.Errorf("sockjs: empty frame")
	}
	switch frame[0] {
	case 'o', 'h':
		return nil, nil
	case 'a':
		var msgs []string
		if err := json.Unmarshal(frame[1:], &msgs); err != nil {
			return nil, fmt.Errorf("sockjs: decode array frame: %w", err)
		}
		out := make([][]byte, len(msgs))
		for i, m := range msgs {
			out[i] = []byte(m)
		}
		return out, nil
	case 'c':
		var payload []any
		closeErr := &SockJSCloseError{}
		if err := json.Unmarshal(frame[1:], &payload); err == nil && len(payload) == 2 {
			if code, ok := payload[0].(float64); ok {
				closeErr.Code = int(code)
			}
			closeErr.Reason, _ = payload[1].(string)
		}
		return nil, closeErr
	}
	return nil, fmt.Errorf("sockjs: unknown frame type %q", frame[0])
}

func encodeSockJS(p []byte) ([]byte, error) {
	return json.Marshal([]string{string(p)})
}

// sockjsQueue buffers messages unpacked from array frames.
type sockjsQueue struct {
	pending [][]byte
}

func (q *sockjsQueue) next(fetch func() ([]byte, error)) ([]byte, error) {
	if len(q.pending) > 0 {
		p := q.pending[0]
		q.pending = q.pending[1:]
		return p, nil
	}
	frame, err := fetch()
	if err != nil {
		return nil, err
	}
	msgs, err := parseSockJS(frame)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return []byte{}, nil
	}
	q.pending = msgs[1:]
	return msgs[0], nil
}

// sockjsWSWire is the SockJS websocket sub-transport.
type sockjsWSWire struct {
	conn  types.Conn
	queue sockjsQueue
	once  sync.Once
}

func (w *sockjsWSWire) Read() ([]byte, error) {
	return w.queue.next(func() ([]byte, error) {
		_, p, err := w.conn.ReadMessage()
		return p, err
	})
}

func (w *sockjsWSWire) Write(p []byte) error {
	data, err := encodeSockJS(p)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *sockjsWSWire) Close() error {
	var err error
	w.once.Do(func() { err = w.conn.Close() })
	return err
}

// xhrWire is the SockJS xhr-polling transport.
type xhrWire struct {
	client  *fasthttp.Client
	base    string
	timeout time.Duration
	queue   sockjsQueue
	closed  atomic.Bool
}

func (w *xhrWire) post(path string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.base + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	if body != nil {
		req.Header.SetContentType("text/plain;charset=UTF-8")
		req.SetBody(body)
	}
	if err := w.client.DoTimeout(req, resp, w.timeout); err != nil {
		return 0, nil, err
	}
	return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
}

func (w *xhrWire) poll() ([]byte, error) {
	if w.closed.Load() {
		return nil, ErrClosed
	}
	status, body, err := w.post("/xhr", nil)
	if err != nil {
		return nil, err
	}
	if status != fasthttp.StatusOK {
		return nil, fmt.Errorf("sockjs: xhr poll status %d", status)
	}
	return body, nil
}

func (w *xhrWire) open() error {
	frame, err := w.poll()
	if err != nil {
		return err
	}
	if len(frame) == 0 || frame[0] != 'o' {
		return errors.New("sockjs: expected open frame")
	}
	return nil
}

func (w *xhrWire) Read() ([]byte, error) {
	p, err := w.queue.next(w.poll)
	if err == nil && w.closed.Load() {
		return nil, ErrClosed
	}
	return p, err
}

func (w *xhrWire) Write(p []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	data, err := encodeSockJS(p)
	if err != nil {
		return err
	}
	status, _, err := w.post("/xhr_send", data)
	if err != nil {
		return err
	}
	if status != fasthttp.StatusNoContent && status != fasthttp.StatusOK {
		return fmt.Errorf("sockjs: xhr_send status %d", status)
	}
	return nil
}

func (w *xhrWire) Close() error {
	w.closed.Store(true)
	return nil
}
