package cache

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Patch is an applied optimistic change that can be reverted once.
type Patch struct {
	once sync.Once
	undo func()
}

func newPatch(undo func()) *Patch {
	return &Patch{undo: undo}
}

// Undo reverts the change. Calls after the first are no-ops.
func (p *Patch) Undo() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.undo != nil {
			p.undo()
		}
	})
}

// WithOptimisticPatch applies a local change, runs op and reverts the change
// when op fails.
func WithOptimisticPatch[R any](apply func() (*Patch, error), op func() (R, error)) (R, error) {
	p, err := apply()
	if err != nil {
		var zero R
		return zero, err
	}
	res, err := op()
	if err != nil {
		p.Undo()
	}
	return res, err
}

// OptimisticCreate inserts a placeholder built from fields, a temporary id
// and the current time. Undo removes the placeholder.
func (c *Collection[T]) OptimisticCreate(fields any) (string, *Patch, error) {
	c.mu.RLock()
	f := c.fields
	c.mu.RUnlock()

	tempID := NewTempID()
	now := timestamp(time.Now())
	placeholder, err := buildEntity[T](fields, map[string]string{
		f.ID:        tempID,
		f.CreatedAt: now,
		f.UpdatedAt: now,
	})
	if err != nil {
		return "", nil, fmt.Errorf("optimistic create: %w", err)
	}

	c.mutate(func(items []T) ([]T, bool) {
		return append([]T{placeholder}, items...), true
	})
	return tempID, newPatch(func() {
		c.mutate(func(items []T) ([]T, bool) {
			i := indexOf(items, tempID)
			if i < 0 {
				return items, false
			}
			return slices.Delete(items, i, i+1), true
		})
	}), nil
}

// Reconcile replaces the placeholder for tempID with the server's entity.
// The placeholder is looked up by exact id, then by temp prefix. If the
// entity already arrived through a push event only the placeholder is
// dropped.
func (c *Collection[T]) Reconcile(tempID string, created T) {
	c.mutate(func(items []T) ([]T, bool) {
		i := indexOf(items, tempID)
		if i < 0 {
			i = slices.IndexFunc(items, func(it T) bool { return IsTempID(it.EntityID()) })
		}
		if indexOf(items, created.EntityID()) >= 0 {
			if i < 0 {
				return items, false
			}
			return slices.Delete(items, i, i+1), true
		}
		if i < 0 {
			return append([]T{created}, items...), true
		}
		items[i] = created
		return items, true
	})
}

// OptimisticUpdate merges fields into the cached entity and bumps its
// update time. Undo restores the previous entity exactly. Updating an
// absent entity returns a nil patch.
func (c *Collection[T]) OptimisticUpdate(id string, fields any) (*Patch, error) {
	c.mu.RLock()
	f := c.fields
	c.mu.RUnlock()

	var (
		prior T
		found bool
		err   error
	)
	c.mutate(func(items []T) ([]T, bool) {
		i := indexOf(items, id)
		if i < 0 {
			return items, false
		}
		var next T
		next, err = patchEntity(items[i], fields, map[string]string{f.UpdatedAt: timestamp(time.Now())})
		if err != nil {
			return items, false
		}
		prior, found = items[i], true
		items[i] = next
		return items, true
	})
	if err != nil {
		return nil, fmt.Errorf("optimistic update %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return newPatch(func() {
		c.mutate(func(items []T) ([]T, bool) {
			i := indexOf(items, id)
			if i < 0 {
				return items, false
			}
			items[i] = prior
			return items, true
		})
	}), nil
}

// OptimisticDelete removes the cached entity. Undo re-inserts it unless it
// came back in the meantime.
func (c *Collection[T]) OptimisticDelete(id string) *Patch {
	var (
		prior T
		found bool
	)
	c.mutate(func(items []T) ([]T, bool) {
		i := indexOf(items, id)
		if i < 0 {
			return items, false
		}
		prior, found = items[i], true
		return slices.Delete(items, i, i+1), true
	})
	if !found {
		return nil
	}
	return newPatch(func() {
		c.mutate(func(items []T) ([]T, bool) {
			if indexOf(items, id) >= 0 {
				return items, false
			}
			return append(items, prior), true
		})
	})
}
