package broker

import (
	"context"
	"testing"
	"time"

	"github.com/orchestra-mcp/livecache/config"
	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisOptionsFromConfig(t *testing.T) {
	cfg := &config.RedisConfig{Addr: "redis.local:6380", Password: "pw", DB: 2, Prefix: "rt:"}

	opts, err := redisOptions(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "redis.local:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestRedisOptionsFromURL(t *testing.T) {
	cfg := &config.RedisConfig{Addr: "ignored:1", Password: "fallback"}

	opts, err := redisOptions(cfg, "redis://cache.internal:6379/5")
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6379", opts.Addr)
	assert.Equal(t, 5, opts.DB)
	assert.Equal(t, "fallback", opts.Password)

	_, err = redisOptions(cfg, "redis://cache.internal:6379/not-a-db")
	assert.Error(t, err)
}

func TestRedisDialUnreachable(t *testing.T) {
	d := &RedisDialer{Config: &config.RedisConfig{Addr: "127.0.0.1:1"}}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := d.Dial(ctx, ConnectOptions{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestRedisMessageRouting(t *testing.T) {
	var got []types.Message
	s := &redisSession{
		prefix: "livecache:",
		ids:    map[string]string{"sub-1": "/topic/projects"},
		refs:   map[string]int{"/topic/projects": 1},
		opts: ConnectOptions{
			OnMessage: func(m types.Message) { got = append(got, m) },
		},
		logger: zerolog.Nop(),
	}

	s.handleRedisMessage(&redis.Message{Channel: "livecache:/topic/projects", Payload: `{"event":{}}`})

	require.Len(t, got, 1)
	assert.Equal(t, "/topic/projects", got[0].Destination)
	assert.Equal(t, "sub-1", got[0].Subscription)
	assert.Equal(t, `{"event":{}}`, string(got[0].Body))
}
