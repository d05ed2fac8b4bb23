package broker

import (
	"context"
	"errors"
	"time"

	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrClosed is returned by operations on a session that has ended.
	ErrClosed = errors.New("broker session closed")
	// ErrHandshake wraps failures while establishing a session.
	ErrHandshake = errors.New("broker handshake failed")
)

// ConnectOptions describes one connection attempt.
type ConnectOptions struct {
	URL         string
	VirtualHost string
	Headers     map[string]string // extra CONNECT headers, e.g. Authorization

	HeartbeatIncoming time.Duration
	HeartbeatOutgoing time.Duration

	// OnMessage receives messages in delivery order from a single goroutine.
	OnMessage types.MessageHandler
	// OnError observes broker-level errors. Optional.
	OnError func(err error)

	Debug  bool
	Logger zerolog.Logger
}

// Session is an established broker connection.
type Session interface {
	Subscribe(id, destination string) error
	Unsubscribe(id string) error
	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}
	// Err reports why the session ended, or nil after a clean Close.
	Err() error
	Close() error
}

// Dialer establishes sessions.
type Dialer interface {
	Dial(ctx context.Context, opts ConnectOptions) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, opts ConnectOptions) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, opts ConnectOptions) (Session, error) {
	return f(ctx, opts)
}
