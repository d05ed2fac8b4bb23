package cache

import (
	"slices"
	"sync"

	"github.com/orchestra-mcp/livecache/src/types"
)

// Collection is a cached list kept sorted newest first. Every change is
// applied atomically; readers never see a partial update.
type Collection[T Entity] struct {
	writeMu sync.Mutex // serializes change+notify so listeners see changes in order
	mu      sync.RWMutex
	items   []T
	version uint64
	fields  Fields

	listeners    map[int]func([]T)
	nextListener int
}

// NewCollection creates a collection holding items.
func NewCollection[T Entity](items []T) *Collection[T] {
	c := &Collection[T]{
		fields:    DefaultFields,
		listeners: make(map[int]func([]T)),
	}
	c.items = slices.Clone(items)
	sortByLastModified(c.items)
	return c
}

// WithFields overrides the placeholder field names.
func (c *Collection[T]) WithFields(f Fields) *Collection[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = f
	return c
}

// Snapshot returns a copy of the items.
func (c *Collection[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

// Len returns the number of items.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Version increases with every applied change.
func (c *Collection[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Find returns the item with id.
func (c *Collection[T]) Find(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := indexOf(c.items, id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// OnChange registers fn to receive a snapshot after every applied change.
// fn must not modify the collection.
func (c *Collection[T]) OnChange(fn func([]T)) (remove func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Replace swaps in a freshly fetched list.
func (c *Collection[T]) Replace(items []T) {
	c.mutate(func([]T) ([]T, bool) {
		return slices.Clone(items), true
	})
}

// Apply merges one change into the collection:
// CREATED inserts at the head unless id is present, UPDATED replaces a
// present item, DELETED removes a present item. Anything else is a no-op.
// It reports whether the collection changed.
func (c *Collection[T]) Apply(action types.Action, id string, entity *T) bool {
	return c.mutate(func(items []T) ([]T, bool) {
		i := indexOf(items, id)
		switch action.Normalize() {
		case types.ActionCreated:
			if entity == nil || i >= 0 {
				return items, false
			}
			return append([]T{*entity}, items...), true
		case types.ActionUpdated:
			if entity == nil || i < 0 {
				return items, false
			}
			items[i] = *entity
			return items, true
		case types.ActionDeleted:
			if i < 0 {
				return items, false
			}
			return slices.Delete(items, i, i+1), true
		}
		return items, false
	})
}

// ApplyEvent decodes ev's payload and applies it.
func (c *Collection[T]) ApplyEvent(ev *types.ChangeEvent) (bool, error) {
	entity, err := decodeData[T](ev)
	if err != nil {
		return false, err
	}
	return c.Apply(ev.Action, ev.ID, entity), nil
}

// mutate runs fn on a private copy of the items and publishes the result
// if fn reports a change. The result is re-sorted before it is published.
func (c *Collection[T]) mutate(fn func(items []T) ([]T, bool)) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	next, changed := fn(slices.Clone(c.items))
	if !changed {
		c.mu.Unlock()
		return false
	}
	sortByLastModified(next)
	c.items = next
	c.version++
	snapshot := slices.Clone(next)
	listeners := make([]func([]T), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return true
}
