package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/orchestra-mcp/livecache/src/broker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(d *fakeDialer) *Manager {
	return NewManager(Options{
		Origin: "https://app.example.com",
		Dialers: map[Transport]broker.Dialer{
			TransportWebSocket: d,
			TransportSockJS:    d,
		},
		Logger: zerolog.Nop(),
	})
}

func TestGetConnectionIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Shutdown(context.Background())

	p := Params{URL: "wss://rt.example.com/ws", Transport: TransportWebSocket, ReconnectDelay: 10 * time.Millisecond}
	first := m.GetConnection(staticToken("a"), p)
	second := m.GetConnection(staticToken("b"), p)

	assert.Same(t, first, second)
	assert.True(t, first.Active())
	waitConnected(t, first)
	assert.Equal(t, 1, d.count())
}

func TestGetConnectionRebuildsOnEndpointChange(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Shutdown(context.Background())

	first := m.GetConnection(staticToken("a"), Params{URL: "wss://one/ws", Transport: TransportWebSocket})
	waitConnected(t, first)

	second := m.GetConnection(staticToken("a"), Params{URL: "wss://two/ws", Transport: TransportWebSocket})
	assert.NotSame(t, first, second)
	assert.Equal(t, "wss://two/ws", second.URL())
	require.Eventually(t, func() bool { return first.State() == StateDeactivated }, 2*time.Second, 5*time.Millisecond)

	third := m.GetConnection(staticToken("a"), Params{URL: "wss://two/ws", Transport: TransportSockJS})
	assert.NotSame(t, second, third)
	assert.Same(t, third, m.Current())
}

func TestGetConnectionUpdatesInPlace(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Shutdown(context.Background())

	p := Params{URL: "wss://rt/ws", Transport: TransportWebSocket, ReconnectDelay: time.Hour, HeartbeatIncoming: time.Second}
	conn := m.GetConnection(staticToken("old"), p)
	waitConnected(t, conn)

	p.ReconnectDelay = 10 * time.Millisecond
	p.HeartbeatIncoming = 2 * time.Second
	same := m.GetConnection(staticToken("new"), p)
	require.Same(t, conn, same)

	d.last().drop(assert.AnError)
	require.Eventually(t, func() bool { return d.count() == 2 && conn.Connected() }, 2*time.Second, 5*time.Millisecond)

	opts := d.last().opts
	assert.Equal(t, "Bearer new", opts.Headers["Authorization"])
	assert.Equal(t, 2*time.Second, opts.HeartbeatIncoming)
}

func TestGetConnectionResolvesEndpoint(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)
	defer m.Shutdown(context.Background())

	conn := m.GetConnection(nil, Params{Transport: TransportWebSocket})
	assert.Equal(t, "wss://app.example.com/ws", conn.URL())
}

func TestResolveEndpoint(t *testing.T) {
	cases := []struct {
		name                  string
		explicit, env, origin string
		transport             Transport
		want                  string
	}{
		{"explicit wins", "wss://x/ws", "wss://env/ws", "https://o", TransportWebSocket, "wss://x/ws"},
		{"env next", "", "wss://env/ws", "https://o", TransportWebSocket, "wss://env/ws"},
		{"origin for websocket", "", "", "https://o/", TransportWebSocket, "wss://o/ws"},
		{"origin for plain http", "", "", "http://o", TransportWebSocket, "ws://o/ws"},
		{"origin for sockjs", "", "", "https://o", TransportSockJS, "https://o/ws"},
		{"redis uses its own config", "", "", "https://o", TransportRedis, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveEndpoint(tc.explicit, tc.env, tc.origin, tc.transport))
		})
	}
}

func TestUnsupportedTransportKeepsRetrying(t *testing.T) {
	m := NewManager(Options{Dialers: map[Transport]broker.Dialer{}, Logger: zerolog.Nop()})
	defer m.Shutdown(context.Background())

	conn := m.GetConnection(nil, Params{Transport: "carrier-pigeon", URL: "x", ReconnectDelay: 5 * time.Millisecond})
	require.Eventually(t, func() bool { return conn.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, conn.Active())
}

func TestShutdown(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d)

	conn := m.GetConnection(nil, Params{URL: "wss://rt/ws", Transport: TransportWebSocket})
	waitConnected(t, conn)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, StateDeactivated, conn.State())
	assert.Nil(t, m.Current())
}
