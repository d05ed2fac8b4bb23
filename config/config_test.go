package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 2, cfg.API.RetryAttempts)
	assert.Equal(t, 300*time.Millisecond, cfg.API.RetryBaseDelay)
	assert.Equal(t, ForbiddenLogin, cfg.Auth.ForbiddenBehavior)
	assert.False(t, cfg.Auth.ClearTokenOnForbidden)
	assert.Equal(t, TransportSockJS, cfg.Realtime.Transport)
	assert.Equal(t, 10*time.Second, cfg.Realtime.HeartbeatIncoming)
	assert.Equal(t, 3*time.Second, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "livecache:", cfg.Redis.Prefix)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com/v1")
	t.Setenv("API_TIMEOUT", "5000")
	t.Setenv("WS_URL", "wss://rt.example.com/ws")
	t.Setenv("WS_TRANSPORT", "WebSocket")
	t.Setenv("FORBIDDEN_BEHAVIOR", "forbidden")
	t.Setenv("FORBIDDEN_CLEAR_TOKEN", "true")
	t.Setenv("REDIS_ADDR", "redis.local:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TOPIC_PREFIX", "rt:")

	cfg := FromEnv()
	assert.Equal(t, "https://api.example.com/v1", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, "wss://rt.example.com/ws", cfg.Realtime.URL)
	assert.Equal(t, TransportWebSocket, cfg.Realtime.Transport)
	assert.Equal(t, ForbiddenForbidden, cfg.Auth.ForbiddenBehavior)
	assert.True(t, cfg.Auth.ClearTokenOnForbidden)
	assert.Equal(t, "redis.local:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "rt:", cfg.Redis.Prefix)
}

func TestFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("API_TIMEOUT", "soon")
	t.Setenv("WS_TRANSPORT", "carrier-pigeon")
	t.Setenv("FORBIDDEN_BEHAVIOR", "explode")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, TransportSockJS, cfg.Realtime.Transport)
	assert.Equal(t, ForbiddenLogin, cfg.Auth.ForbiddenBehavior)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json"}, &buf)

	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	logger.Debug().Str("component", "test").Msg("hello")
	assert.Contains(t, buf.String(), `"component":"test"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestNewLoggerBadLevel(t *testing.T) {
	logger := NewLogger(LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
