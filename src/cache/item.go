package cache

import (
	"sync"

	json "github.com/goccy/go-json"
	"github.com/orchestra-mcp/livecache/src/types"
)

// Item is a cached single entity.
type Item[T Entity] struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	value   T
	ok      bool
	version uint64

	listeners    map[int]func(T)
	nextListener int
}

// NewItem creates an empty item.
func NewItem[T Entity]() *Item[T] {
	return &Item[T]{listeners: make(map[int]func(T))}
}

// Get returns the value, if loaded.
func (it *Item[T]) Get() (T, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.value, it.ok
}

// Version increases with every applied change.
func (it *Item[T]) Version() uint64 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.version
}

// Set replaces the value.
func (it *Item[T]) Set(v T) {
	it.update(func(T, bool) (T, bool) { return v, true })
}

// Merge copies the top-level fields of data over the current value. It is a
// no-op while nothing is loaded.
func (it *Item[T]) Merge(data []byte) error {
	var mergeErr error
	it.update(func(cur T, ok bool) (T, bool) {
		if !ok {
			return cur, false
		}
		doc, err := json.Marshal(cur)
		if err != nil {
			mergeErr = err
			return cur, false
		}
		merged, err := mergeFields(doc, data)
		if err != nil {
			mergeErr = err
			return cur, false
		}
		var next T
		if err := json.Unmarshal(merged, &next); err != nil {
			mergeErr = err
			return cur, false
		}
		return next, true
	})
	return mergeErr
}

// ApplyEvent merges the event payload into the item. DELETED events are
// ignored; a deleted entity stays visible until the view goes away.
func (it *Item[T]) ApplyEvent(ev *types.ChangeEvent) (bool, error) {
	if ev.Action.Normalize() == types.ActionDeleted || !ev.HasData() {
		return false, nil
	}
	before := it.Version()
	if err := it.Merge(ev.Data); err != nil {
		return false, err
	}
	return it.Version() != before, nil
}

// OnChange registers fn to receive the value after every change.
func (it *Item[T]) OnChange(fn func(T)) (remove func()) {
	it.mu.Lock()
	id := it.nextListener
	it.nextListener++
	it.listeners[id] = fn
	it.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			it.mu.Lock()
			delete(it.listeners, id)
			it.mu.Unlock()
		})
	}
}

func (it *Item[T]) update(fn func(cur T, ok bool) (T, bool)) {
	it.writeMu.Lock()
	defer it.writeMu.Unlock()

	it.mu.Lock()
	next, changed := fn(it.value, it.ok)
	if !changed {
		it.mu.Unlock()
		return
	}
	it.value, it.ok = next, true
	it.version++
	listeners := make([]func(T), 0, len(it.listeners))
	for _, fn := range it.listeners {
		listeners = append(listeners, fn)
	}
	it.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}
