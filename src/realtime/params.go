package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/orchestra-mcp/livecache/config"
	"github.com/orchestra-mcp/livecache/src/broker"
)

// Transport selects the broker variant.
type Transport string

const (
	TransportWebSocket Transport = config.TransportWebSocket
	TransportSockJS    Transport = config.TransportSockJS
	TransportRedis     Transport = config.TransportRedis
)

// EndpointPath is the well-known broker path below the page origin.
const EndpointPath = "/ws"

// TokenProvider returns the current access token at connect time.
type TokenProvider func(ctx context.Context) (string, error)

// Params configures a connection. Zero durations take defaults; negative
// heartbeats disable them and a negative reconnect delay disables
// automatic reconnects.
type Params struct {
	URL               string
	Transport         Transport
	VirtualHost       string
	HeartbeatIncoming time.Duration
	HeartbeatOutgoing time.Duration
	ReconnectDelay    time.Duration
	Debug             bool
	// BeforeConnect runs before every connect attempt, after the token is
	// resolved. Returning an error skips the attempt.
	BeforeConnect func(ctx context.Context) error
}

// ParamsFromConfig maps the realtime configuration onto Params.
func ParamsFromConfig(cfg config.RealtimeConfig) Params {
	return Params{
		URL:               cfg.URL,
		Transport:         Transport(cfg.Transport),
		VirtualHost:       cfg.VirtualHost,
		HeartbeatIncoming: cfg.HeartbeatIncoming,
		HeartbeatOutgoing: cfg.HeartbeatOutgoing,
		ReconnectDelay:    cfg.ReconnectDelay,
		Debug:             cfg.Debug,
	}
}

func (p Params) withDefaults() Params {
	if p.Transport == "" {
		p.Transport = TransportSockJS
	}
	if p.HeartbeatIncoming == 0 {
		p.HeartbeatIncoming = 10 * time.Second
	}
	if p.HeartbeatOutgoing == 0 {
		p.HeartbeatOutgoing = 10 * time.Second
	}
	if p.ReconnectDelay == 0 {
		p.ReconnectDelay = 3 * time.Second
	}
	return p
}

// ResolveEndpoint picks the broker URL: explicit, then environment, then
// derived from origin. Raw sockets get a ws(s) scheme; SockJS keeps http(s).
// Redis has no origin-derived endpoint and falls back to its own config.
func ResolveEndpoint(explicit, env, origin string, transport Transport) string {
	if explicit != "" {
		return explicit
	}
	if env != "" {
		return env
	}
	if transport == TransportRedis {
		return ""
	}
	url := strings.TrimRight(origin, "/") + EndpointPath
	if transport == TransportWebSocket {
		return broker.WebSocketURL(url)
	}
	return url
}
