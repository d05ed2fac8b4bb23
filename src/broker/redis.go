package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/orchestra-mcp/livecache/config"
	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisDialer subscribes to destinations as Redis pub/sub channels named
// <prefix><destination>. A redis:// URL overrides the configured address.
type RedisDialer struct {
	Config *config.RedisConfig
}

// Dial connects to Redis and returns a session with no subscriptions.
func (d *RedisDialer) Dial(ctx context.Context, opts ConnectOptions) (Session, error) {
	cfg := d.Config
	if cfg == nil {
		cfg = config.DefaultRedisConfig()
	}
	ropts, err := redisOptions(cfg, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &redisSession{
		client:  client,
		pubsub:  client.Subscribe(sessionCtx),
		prefix:  cfg.Prefix,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "redis-broker").Logger(),
		ctx:     sessionCtx,
		cancel:  cancel,
		ids:     make(map[string]string),
		refs:    make(map[string]int),
		done:    make(chan struct{}),
		started: time.Now(),
	}

	s.wg.Add(1)
	go s.listen()
	if opts.HeartbeatOutgoing > 0 {
		s.wg.Add(1)
		go s.ping(opts.HeartbeatOutgoing)
	}

	s.logger.Info().
		Str("addr", ropts.Addr).
		Int("db", ropts.DB).
		Str("prefix", s.prefix).
		Msg("redis broker connected")
	return s, nil
}

func redisOptions(cfg *config.RedisConfig, url string) (*redis.Options, error) {
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, err
		}
		if opts.Password == "" {
			opts.Password = cfg.Password
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

// redisSession maps subscription ids onto Redis channels.
type redisSession struct {
	client *redis.Client
	pubsub *redis.PubSub
	prefix string
	opts   ConnectOptions
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	ids  map[string]string // subscription id -> destination
	refs map[string]int    // destination -> subscription count

	done      chan struct{}
	closeOnce sync.Once
	err       error
	started   time.Time
}

func (s *redisSession) channel(destination string) string {
	return s.prefix + destination
}

func (s *redisSession) Subscribe(id, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isDone() {
		return ErrClosed
	}
	if _, ok := s.ids[id]; ok {
		return nil
	}
	s.ids[id] = destination
	s.refs[destination]++
	if s.refs[destination] > 1 {
		return nil
	}
	return s.pubsub.Subscribe(s.ctx, s.channel(destination))
}

func (s *redisSession) Unsubscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isDone() {
		return ErrClosed
	}
	destination, ok := s.ids[id]
	if !ok {
		return nil
	}
	delete(s.ids, id)
	s.refs[destination]--
	if s.refs[destination] > 0 {
		return nil
	}
	delete(s.refs, destination)
	return s.pubsub.Unsubscribe(s.ctx, s.channel(destination))
}

// listen forwards channel messages in delivery order.
func (s *redisSession) listen() {
	defer s.wg.Done()

	ch := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				s.finish(ErrClosed)
				return
			}
			s.handleRedisMessage(msg)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *redisSession) handleRedisMessage(msg *redis.Message) {
	destination := strings.TrimPrefix(msg.Channel, s.prefix)
	if s.opts.Debug {
		s.logger.Debug().Str("destination", destination).Msg("<<< message")
	}
	if s.opts.OnMessage == nil {
		return
	}

	s.mu.Lock()
	var subID string
	for id, dest := range s.ids {
		if dest == destination {
			subID = id
			break
		}
	}
	s.mu.Unlock()

	s.opts.OnMessage(types.Message{
		Destination:  destination,
		Subscription: subID,
		Body:         []byte(msg.Payload),
		ReceivedAt:   time.Now(),
	})
}

// ping keeps the connection honest; a failed PING ends the session.
func (s *redisSession) ping(every time.Duration) {
	defer s.wg.Done()

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			if err := s.client.Ping(s.ctx).Err(); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				if s.opts.OnError != nil {
					s.opts.OnError(err)
				}
				s.finish(err)
				return
			}
		}
	}
}

func (s *redisSession) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *redisSession) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		close(s.done)
		s.mu.Unlock()

		s.cancel()
		s.pubsub.Close()
		s.client.Close()
		s.logger.Info().
			Err(err).
			Dur("uptime", time.Since(s.started)).
			Msg("redis broker disconnected")
	})
}

func (s *redisSession) Done() <-chan struct{} {
	return s.done
}

func (s *redisSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSession) Close() error {
	s.finish(nil)
	s.wg.Wait()
	return nil
}
