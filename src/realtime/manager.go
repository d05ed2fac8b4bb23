package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orchestra-mcp/livecache/config"
	"github.com/orchestra-mcp/livecache/src/broker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures a Manager.
type Options struct {
	// EnvURL is the environment-provided endpoint, used when Params.URL is empty.
	EnvURL string
	// Origin is the page origin endpoints are derived from as a last resort.
	Origin  string
	Dialers map[Transport]broker.Dialer
	Logger  zerolog.Logger
}

// DefaultDialers returns a dialer for every transport variant.
func DefaultDialers(redisCfg *config.RedisConfig) map[Transport]broker.Dialer {
	return map[Transport]broker.Dialer{
		TransportWebSocket: &broker.WebSocketDialer{},
		TransportSockJS:    &broker.SockJSDialer{},
		TransportRedis:     &broker.RedisDialer{Config: redisCfg},
	}
}

// Manager owns the single process-wide Connection.
type Manager struct {
	mu      sync.Mutex
	conn    *Connection
	envURL  string
	origin  string
	dialers map[Transport]broker.Dialer
	logger  zerolog.Logger
}

// NewManager creates a Manager with no connection.
func NewManager(opts Options) *Manager {
	if opts.Dialers == nil {
		opts.Dialers = DefaultDialers(config.DefaultRedisConfig())
	}
	if opts.Origin == "" {
		opts.Origin = config.Default().Realtime.Origin
	}
	return &Manager{
		envURL:  opts.EnvURL,
		origin:  opts.Origin,
		dialers: opts.Dialers,
		logger:  opts.Logger.With().Str("component", "realtime-manager").Logger(),
	}
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the process-wide Manager, configured from the environment.
func Default() *Manager {
	defaultOnce.Do(func() {
		cfg := config.FromEnv()
		defaultManager = NewManager(Options{
			EnvURL:  cfg.Realtime.URL,
			Origin:  cfg.Realtime.Origin,
			Dialers: DefaultDialers(&cfg.Redis),
			Logger:  log.Logger,
		})
	})
	return defaultManager
}

// GetConnection returns the shared connection from the default Manager.
func GetConnection(tokens TokenProvider, p Params) *Connection {
	return Default().GetConnection(tokens, p)
}

// GetConnection returns the shared connection, activated. A different
// endpoint or transport replaces the current connection; otherwise the
// token provider, heartbeats, reconnect delay, debug flag, and pre-connect
// hook are updated in place and the last caller wins.
func (m *Manager) GetConnection(tokens TokenProvider, p Params) *Connection {
	p = p.withDefaults()
	p.URL = ResolveEndpoint(p.URL, m.envURL, m.origin, p.Transport)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && (m.conn.URL() != p.URL || m.conn.Transport() != p.Transport) {
		old := m.conn
		m.conn = nil
		m.logger.Info().
			Str("old_url", old.URL()).
			Str("new_url", p.URL).
			Str("transport", string(p.Transport)).
			Msg("endpoint changed, rebuilding connection")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := old.Deactivate(ctx); err != nil {
				m.logger.Debug().Err(err).Msg("old connection did not stop cleanly")
			}
		}()
	}

	if m.conn == nil {
		m.conn = NewConnection(m.dialer(p.Transport), tokens, p, m.logger)
		m.logger.Debug().Str("url", p.URL).Str("transport", string(p.Transport)).Msg("connection built")
	} else {
		m.conn.configure(tokens, p)
	}
	m.conn.Activate()
	return m.conn
}

func (m *Manager) dialer(t Transport) broker.Dialer {
	if d, ok := m.dialers[t]; ok {
		return d
	}
	return broker.DialerFunc(func(context.Context, broker.ConnectOptions) (broker.Session, error) {
		return nil, fmt.Errorf("unsupported transport %q", t)
	})
}

// Current returns the shared connection, or nil if none was built.
func (m *Manager) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Shutdown deactivates the shared connection. Reserved for process teardown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Deactivate(ctx)
}
