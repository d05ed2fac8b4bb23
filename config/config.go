package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Forbidden behaviors applied when a request fails with 403.
const (
	ForbiddenLogin     = "login"
	ForbiddenForbidden = "forbidden"
)

// Realtime transport variants.
const (
	TransportWebSocket = "websocket"
	TransportSockJS    = "sockjs"
	TransportRedis     = "redis"
)

// Config is the full client configuration.
type Config struct {
	API      APIConfig      `json:"api" mapstructure:"api"`
	Auth     AuthConfig     `json:"auth" mapstructure:"auth"`
	Realtime RealtimeConfig `json:"realtime" mapstructure:"realtime"`
	Redis    RedisConfig    `json:"redis" mapstructure:"redis"`
	Log      LogConfig      `json:"log" mapstructure:"log"`
}

// APIConfig holds HTTP client settings.
type APIConfig struct {
	BaseURL        string        `json:"base_url" mapstructure:"base_url"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	RetryAttempts  int           `json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryJitter    time.Duration `json:"retry_jitter" mapstructure:"retry_jitter"`
}

// AuthConfig holds token storage and 403 handling settings.
type AuthConfig struct {
	RefreshPath           string `json:"refresh_path" mapstructure:"refresh_path"`
	TokenFile             string `json:"token_file" mapstructure:"token_file"`
	ForbiddenBehavior     string `json:"forbidden_behavior" mapstructure:"forbidden_behavior"`
	ClearTokenOnForbidden bool   `json:"clear_token_on_forbidden" mapstructure:"clear_token_on_forbidden"`
}

// RealtimeConfig holds realtime connection settings.
type RealtimeConfig struct {
	URL               string        `json:"url" mapstructure:"url"`
	Origin            string        `json:"origin" mapstructure:"origin"`
	Transport         string        `json:"transport" mapstructure:"transport"`
	VirtualHost       string        `json:"virtual_host" mapstructure:"virtual_host"`
	HeartbeatIncoming time.Duration `json:"heartbeat_incoming" mapstructure:"heartbeat_incoming"`
	HeartbeatOutgoing time.Duration `json:"heartbeat_outgoing" mapstructure:"heartbeat_outgoing"`
	ReconnectDelay    time.Duration `json:"reconnect_delay" mapstructure:"reconnect_delay"`
	Debug             bool          `json:"debug" mapstructure:"debug"`
}

// RedisConfig holds connection settings for the Redis pub/sub transport.
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`         // Redis address, default "localhost:6379"
	Password string `json:"password" mapstructure:"password"` // Redis password, default ""
	DB       int    `json:"db" mapstructure:"db"`             // Redis database number, default 0
	Prefix   string `json:"prefix" mapstructure:"prefix"`     // Channel prefix, default "livecache:"
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Timeout:        30 * time.Second,
			RetryAttempts:  2,
			RetryBaseDelay: 300 * time.Millisecond,
			RetryJitter:    100 * time.Millisecond,
		},
		Auth: AuthConfig{
			RefreshPath:       "/auth/refresh",
			ForbiddenBehavior: ForbiddenLogin,
		},
		Realtime: RealtimeConfig{
			Origin:            "http://localhost:8888",
			Transport:         TransportSockJS,
			HeartbeatIncoming: 10 * time.Second,
			HeartbeatOutgoing: 10 * time.Second,
			ReconnectDelay:    3 * time.Second,
		},
		Redis: *DefaultRedisConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "livecache:",
	}
}

// FromEnv loads configuration from environment variables.
// Falls back to defaults for any missing or malformed values.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if d, ok := envDuration("API_TIMEOUT"); ok {
		cfg.API.Timeout = d
	}
	if v := os.Getenv("AUTH_TOKEN_FILE"); v != "" {
		cfg.Auth.TokenFile = v
	}
	if v := strings.ToLower(os.Getenv("FORBIDDEN_BEHAVIOR")); v == ForbiddenLogin || v == ForbiddenForbidden {
		cfg.Auth.ForbiddenBehavior = v
	}
	if v := os.Getenv("FORBIDDEN_CLEAR_TOKEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.ClearTokenOnForbidden = b
		}
	}
	if v := os.Getenv("WS_URL"); v != "" {
		cfg.Realtime.URL = v
	}
	if v := os.Getenv("WS_ORIGIN"); v != "" {
		cfg.Realtime.Origin = v
	}
	if v := os.Getenv("WS_VHOST"); v != "" {
		cfg.Realtime.VirtualHost = v
	}
	if v := strings.ToLower(os.Getenv("WS_TRANSPORT")); v == TransportWebSocket || v == TransportSockJS || v == TransportRedis {
		cfg.Realtime.Transport = v
	}
	if v := os.Getenv("WS_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Realtime.Debug = b
		}
	}
	cfg.Redis = *RedisConfigFromEnv()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return cfg
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_TOPIC_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	return cfg
}

// envDuration accepts Go durations ("45s") or bare milliseconds ("45000").
func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}
