package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/livecache/src/types"
)

// topic is one broker subscription shared by every local handler on the
// same destination.
type topic struct {
	id          string
	destination string
	handlers    []*subscription
}

// subscription is a local handler registration.
type subscription struct {
	id          string
	destination string
	handler     types.MessageHandler
	conn        *Connection
	once        sync.Once
}

func (s *subscription) ID() string          { return s.id }
func (s *subscription) Destination() string { return s.destination }

// Unsubscribe removes the handler. The broker subscription goes away with
// the last handler on the destination. Safe to call more than once.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.conn.unsubscribe(s) })
}

// Subscribe registers handler on destination. It may be called before the
// connection is up; the broker subscription is made on every connect.
func (c *Connection) Subscribe(destination string, handler types.MessageHandler) types.Subscription {
	sub := &subscription{
		id:          uuid.NewString(),
		destination: destination,
		handler:     handler,
		conn:        c,
	}

	c.mu.Lock()
	t, exists := c.topics[destination]
	if !exists {
		t = &topic{id: "sub-" + uuid.NewString(), destination: destination}
		c.topics[destination] = t
	}
	t.handlers = append(t.handlers, sub)
	session := c.session
	c.mu.Unlock()

	if !exists && session != nil {
		if err := session.Subscribe(t.id, destination); err != nil {
			c.logger.Error().Err(err).Str("destination", destination).Msg("subscribe failed")
		}
	}
	c.logger.Debug().Str("destination", destination).Str("subscription_id", sub.id).Msg("subscribed")
	return sub
}

func (c *Connection) unsubscribe(sub *subscription) {
	c.mu.Lock()
	t, ok := c.topics[sub.destination]
	if !ok {
		c.mu.Unlock()
		return
	}
	for i, h := range t.handlers {
		if h == sub {
			t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
			break
		}
	}
	emptied := len(t.handlers) == 0
	if emptied {
		delete(c.topics, sub.destination)
	}
	session := c.session
	c.mu.Unlock()

	if emptied && session != nil {
		if err := session.Unsubscribe(t.id); err != nil {
			c.logger.Debug().Err(err).Str("destination", sub.destination).Msg("unsubscribe failed")
		}
	}
	c.logger.Debug().Str("destination", sub.destination).Str("subscription_id", sub.id).Msg("unsubscribed")
}

// dispatch fans a message out to the handlers of its topic, in
// registration order.
func (c *Connection) dispatch(msg types.Message) {
	c.mu.RLock()
	var target *topic
	if msg.Subscription != "" {
		for _, t := range c.topics {
			if t.id == msg.Subscription {
				target = t
				break
			}
		}
	}
	if target == nil {
		target = c.topics[msg.Destination]
	}
	if target == nil {
		c.mu.RUnlock()
		c.logger.Debug().Str("destination", msg.Destination).Msg("no handler")
		return
	}
	handlers := make([]*subscription, len(target.handlers))
	copy(handlers, target.handlers)
	c.mu.RUnlock()

	if msg.Destination == "" {
		msg.Destination = target.destination
	}
	for _, h := range handlers {
		c.deliver(h, msg)
	}
}

func (c *Connection) deliver(sub *subscription, msg types.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("destination", msg.Destination).
				Msg("handler panic")
		}
	}()
	sub.handler(msg)
}

// Topics returns active destinations with handler counts.
func (c *Connection) Topics() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topicCountsLocked()
}

func (c *Connection) topicCountsLocked() map[string]int {
	out := make(map[string]int, len(c.topics))
	for dest, t := range c.topics {
		out[dest] = len(t.handlers)
	}
	return out
}
