package broker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/livecache/src/types"
)

// stompSubprotocols are offered during the WebSocket upgrade.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// wsWire sends each STOMP payload as one text message.
type wsWire struct {
	conn types.Conn
	once sync.Once
}

func (w *wsWire) Read() ([]byte, error) {
	_, p, err := w.conn.ReadMessage()
	return p, err
}

func (w *wsWire) Write(p []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, p)
}

func (w *wsWire) Close() error {
	var err error
	w.once.Do(func() { err = w.conn.Close() })
	return err
}

// WebSocketDialer speaks STOMP over a raw WebSocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial opens the socket at opts.URL and performs the STOMP handshake.
func (d *WebSocketDialer) Dial(ctx context.Context, opts ConnectOptions) (Session, error) {
	conn, err := dialWebSocket(ctx, opts.URL, d.HandshakeTimeout, stompSubprotocols)
	if err != nil {
		return nil, err
	}
	return handshake(ctx, &wsWire{conn: conn}, opts)
}

func dialWebSocket(ctx context.Context, url string, timeout time.Duration, subprotocols []string) (*websocket.Conn, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		Subprotocols:     subprotocols,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}
