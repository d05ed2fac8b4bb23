package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orchestra-mcp/livecache/src/broker"
	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/rs/zerolog"
)

// ErrDeactivated is returned while waiting on a deactivated connection.
var ErrDeactivated = errors.New("connection deactivated")

// State is the lifecycle state of a Connection.
type State int32

const (
	StateUninitialized State = iota
	StateActivating
	StateConnected
	StateDisconnected
	StateDeactivated
)

func (s State) String() string {
	switch s {
	case StateActivating:
		return "activating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateDeactivated:
		return "deactivated"
	}
	return "uninitialized"
}

// Connection is a long-lived broker connection that reconnects on its own
// and keeps topic subscriptions across reconnects.
type Connection struct {
	dialer broker.Dialer
	logger zerolog.Logger

	mu          sync.RWMutex
	url         string
	transport   Transport
	params      Params
	tokens      TokenProvider
	state       State
	stateCh     chan struct{}
	session     broker.Session
	topics      map[string]*topic // destination -> topic
	onConnect   map[int]func()
	onDisconn   map[int]func()
	nextHook    int
	connectedAt time.Time
	reconnects  int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConnection creates an inactive connection. p.URL must be resolved.
func NewConnection(dialer broker.Dialer, tokens TokenProvider, p Params, logger zerolog.Logger) *Connection {
	p = p.withDefaults()
	return &Connection{
		dialer:    dialer,
		logger:    logger.With().Str("component", "realtime").Str("transport", string(p.Transport)).Logger(),
		url:       p.URL,
		transport: p.Transport,
		params:    p,
		tokens:    tokens,
		stateCh:   make(chan struct{}),
		topics:    make(map[string]*topic),
		onConnect: make(map[int]func()),
		onDisconn: make(map[int]func()),
	}
}

// configure replaces the mutable settings in place. URL and transport are
// fixed for the lifetime of a connection.
func (c *Connection) configure(tokens TokenProvider, p Params) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p = p.withDefaults()
	p.URL, p.Transport = c.url, c.transport
	c.params = p
	c.tokens = tokens
}

// URL returns the broker endpoint.
func (c *Connection) URL() string {
	return c.url
}

// Transport returns the broker variant.
func (c *Connection) Transport() Transport {
	return c.transport
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connected reports whether a broker session is established.
func (c *Connection) Connected() bool {
	return c.State() == StateConnected
}

// Active reports whether the connect loop is running.
func (c *Connection) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancel != nil
}

// Activate starts the connect loop if it is not already running.
func (c *Connection) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.setStateLocked(StateActivating)
	go c.run(ctx, done)
}

// Deactivate stops the connect loop and closes the session. Subscriptions
// are kept and resume on the next Activate.
func (c *Connection) Deactivate(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	c.setStateLocked(StateDeactivated)
	c.mu.Unlock()
	c.logger.Info().Msg("connection deactivated")
	return nil
}

// WaitConnected blocks until the connection is up.
func (c *Connection) WaitConnected(ctx context.Context) error {
	for {
		c.mu.RLock()
		state, ch := c.state, c.stateCh
		c.mu.RUnlock()

		switch state {
		case StateConnected:
			return nil
		case StateDeactivated:
			return ErrDeactivated
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnConnect registers fn to run after every successful (re)connect.
func (c *Connection) OnConnect(fn func()) (remove func()) {
	return c.addHook(c.onConnect, fn)
}

// OnDisconnect registers fn to run after every lost session.
func (c *Connection) OnDisconnect(fn func()) (remove func()) {
	return c.addHook(c.onDisconn, fn)
}

func (c *Connection) addHook(hooks map[int]func(), fn func()) func() {
	c.mu.Lock()
	id := c.nextHook
	c.nextHook++
	hooks[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(hooks, id)
			c.mu.Unlock()
		})
	}
}

// Info returns metadata for the inspection surface.
func (c *Connection) Info() types.ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.ConnectionInfo{
		State:       c.state.String(),
		URL:         c.url,
		Transport:   string(c.transport),
		ConnectedAt: c.connectedAt,
		Reconnects:  c.reconnects,
		Topics:      c.topicCountsLocked(),
	}
}

func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	close(c.stateCh)
	c.stateCh = make(chan struct{})
}

// run is the connect loop: dial, serve until the session ends, wait out
// the reconnect delay, repeat.
func (c *Connection) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.cancel, c.done = nil, nil
		}
		c.mu.Unlock()
		close(done)
	}()

	for {
		session, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Str("url", c.url).Msg("connect failed")
			c.mu.Lock()
			c.setStateLocked(StateDisconnected)
			c.mu.Unlock()
		} else {
			c.attach(session)
			select {
			case <-session.Done():
				c.logger.Warn().Err(session.Err()).Msg("connection lost")
				c.detach(session)
			case <-ctx.Done():
				if err := session.Close(); err != nil {
					c.logger.Debug().Err(err).Msg("session close failed")
				}
				c.detach(session)
				return
			}
		}

		c.mu.RLock()
		delay := c.params.ReconnectDelay
		c.mu.RUnlock()
		if delay < 0 {
			c.logger.Info().Msg("auto reconnect disabled, stopping")
			return
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()
	}
}

// connect resolves the token through the latest provider and dials.
func (c *Connection) connect(ctx context.Context) (broker.Session, error) {
	c.mu.RLock()
	p, tokens := c.params, c.tokens
	c.mu.RUnlock()

	headers := make(map[string]string)
	if tokens != nil {
		token, err := tokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	}
	if p.BeforeConnect != nil {
		if err := p.BeforeConnect(ctx); err != nil {
			return nil, fmt.Errorf("before connect: %w", err)
		}
	}

	return c.dialer.Dial(ctx, broker.ConnectOptions{
		URL:               c.url,
		VirtualHost:       p.VirtualHost,
		Headers:           headers,
		HeartbeatIncoming: max(p.HeartbeatIncoming, 0),
		HeartbeatOutgoing: max(p.HeartbeatOutgoing, 0),
		OnMessage:         c.dispatch,
		OnError: func(err error) {
			c.logger.Error().Err(err).Msg("broker error")
		},
		Debug:  p.Debug,
		Logger: c.logger,
	})
}

func (c *Connection) attach(session broker.Session) {
	c.mu.Lock()
	c.session = session
	c.connectedAt = time.Now()
	c.setStateLocked(StateConnected)
	topics := make([]topic, 0, len(c.topics))
	for _, t := range c.topics {
		topics = append(topics, topic{id: t.id, destination: t.destination})
	}
	hooks := collectHooks(c.onConnect)
	c.mu.Unlock()

	for _, t := range topics {
		if err := session.Subscribe(t.id, t.destination); err != nil {
			c.logger.Error().Err(err).Str("destination", t.destination).Msg("resubscribe failed")
		}
	}
	c.logger.Info().Str("url", c.url).Int("topics", len(topics)).Msg("connected")
	for _, fn := range hooks {
		fn()
	}
}

func (c *Connection) detach(session broker.Session) {
	c.mu.Lock()
	if c.session == session {
		c.session = nil
	}
	c.setStateLocked(StateDisconnected)
	hooks := collectHooks(c.onDisconn)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func collectHooks(hooks map[int]func()) []func() {
	out := make([]func(), 0, len(hooks))
	for _, fn := range hooks {
		out = append(out, fn)
	}
	return out
}
