package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/orchestra-mcp/livecache/src/broker"
)

// fakeSession implements broker.Session without a network.
type fakeSession struct {
	mu     sync.Mutex
	opts   broker.ConnectOptions
	subs   map[string]string
	unsubs []string
	done   chan struct{}
	once   sync.Once
	err    error
}

func newFakeSession(opts broker.ConnectOptions) *fakeSession {
	return &fakeSession{opts: opts, subs: make(map[string]string), done: make(chan struct{})}
}

func (s *fakeSession) Subscribe(id, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = destination
	return nil
}

func (s *fakeSession) Unsubscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	s.unsubs = append(s.unsubs, id)
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() error {
	s.drop(nil)
	return nil
}

func (s *fakeSession) drop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *fakeSession) destinations() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.subs))
	for id, d := range s.subs {
		out[id] = d
	}
	return out
}

func (s *fakeSession) subID(destination string) string {
	for id, d := range s.destinations() {
		if d == destination {
			return id
		}
	}
	return ""
}

// fakeDialer hands out fakeSessions and records every attempt.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failures int
}

func (d *fakeDialer) Dial(ctx context.Context, opts broker.ConnectOptions) (broker.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	s := newFakeSession(opts)
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}
