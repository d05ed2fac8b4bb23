package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/orchestra-mcp/livecache/src/types"
)

type note struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Owner     string `json:"owner,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func (n note) EntityID() string { return n.ID }

func (n note) LastModified() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, n.UpdatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

func ids(items []note) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.ID
	}
	return out
}

func envelope(action, entity, id, data string) []byte {
	if data == "" {
		data = "null"
	}
	return fmt.Appendf(nil, `{"event":{"action":%q,"entity":%q,"id":%q,"data":%s,"actor":"u1","ts":1700000000000}}`,
		action, entity, id, data)
}

type fakeSub struct {
	id     string
	dest   string
	parent *fakeSubscriber
}

func (s *fakeSub) ID() string          { return s.id }
func (s *fakeSub) Destination() string { return s.dest }
func (s *fakeSub) Unsubscribe() {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	delete(s.parent.handlers, s.id)
}

// fakeSubscriber delivers published bodies synchronously.
type fakeSubscriber struct {
	mu       sync.Mutex
	next     int
	handlers map[string]*fakeHandler
}

type fakeHandler struct {
	dest string
	fn   types.MessageHandler
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string]*fakeHandler)}
}

func (f *fakeSubscriber) Subscribe(dest string, h types.MessageHandler) types.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("sub-%d", f.next)
	f.handlers[id] = &fakeHandler{dest: dest, fn: h}
	return &fakeSub{id: id, dest: dest, parent: f}
}

func (f *fakeSubscriber) publish(dest string, body []byte) {
	f.mu.Lock()
	var fns []types.MessageHandler
	for _, h := range f.handlers {
		if h.dest == dest {
			fns = append(fns, h.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(types.Message{Destination: dest, Body: body, ReceivedAt: time.Now()})
	}
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}
