package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSpec struct {
	fetches atomic.Int32
	lives   atomic.Int32
	stops   atomic.Int32
	failing atomic.Bool
}

func (c *countingSpec) spec(key string, tags ...Tag) EntrySpec {
	return EntrySpec{
		Key:   key,
		Value: NewCollection[note](nil),
		Fetch: func(context.Context) error {
			c.fetches.Add(1)
			if c.failing.Load() {
				return errors.New("boom")
			}
			return nil
		},
		Tags: func() []Tag { return tags },
		Live: func() func() {
			c.lives.Add(1)
			return func() { c.stops.Add(1) }
		},
	}
}

func TestKeyIsStable(t *testing.T) {
	a := Key("projects", map[string]any{"page": 1, "q": "x"})
	b := Key("projects", map[string]any{"q": "x", "page": 1})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Key("projects", map[string]any{"page": 2}))
	assert.Equal(t, "projects", Key("projects", nil))
}

func TestStoreSharesEntries(t *testing.T) {
	s := NewStore(zerolog.Nop())
	var c countingSpec
	ctx := context.Background()

	e1, rel1, err := s.Acquire(ctx, c.spec("k"))
	require.NoError(t, err)
	e2, rel2, err := s.Acquire(ctx, c.spec("k"))
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.Equal(t, int32(1), c.fetches.Load())
	assert.Equal(t, int32(1), c.lives.Load())

	rel1()
	rel1()
	assert.Equal(t, int32(0), c.stops.Load())
	rel2()
	assert.Equal(t, int32(1), c.stops.Load())

	info := s.Entries()
	require.Len(t, info, 1)
	assert.Equal(t, 0, info[0].Refs)
	assert.False(t, info[0].Live)
}

func TestStoreEvictsAfterKeepUnused(t *testing.T) {
	s := NewStore(zerolog.Nop(), WithKeepUnused(20*time.Millisecond))
	var c countingSpec
	ctx := context.Background()

	_, release, err := s.Acquire(ctx, c.spec("k"))
	require.NoError(t, err)
	release()

	_, ok := Lookup[*Collection[note]](s, "k")
	assert.True(t, ok)
	require.Eventually(t, func() bool {
		_, ok := Lookup[*Collection[note]](s, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, release, err = s.Acquire(ctx, c.spec("k"))
	require.NoError(t, err)
	defer release()
	assert.Equal(t, int32(2), c.fetches.Load())
}

func TestStoreReacquireCancelsEviction(t *testing.T) {
	s := NewStore(zerolog.Nop(), WithKeepUnused(30*time.Millisecond))
	var c countingSpec
	ctx := context.Background()

	e1, release, err := s.Acquire(ctx, c.spec("k"))
	require.NoError(t, err)
	release()
	e2, release, err := s.Acquire(ctx, c.spec("k"))
	require.NoError(t, err)
	defer release()

	time.Sleep(60 * time.Millisecond)
	assert.Same(t, e1, e2)
	_, ok := Lookup[*Collection[note]](s, "k")
	assert.True(t, ok)
	assert.Equal(t, int32(1), c.fetches.Load())
	assert.Equal(t, int32(2), c.lives.Load())
}

func TestStoreFetchFailure(t *testing.T) {
	s := NewStore(zerolog.Nop(), WithKeepUnused(0))
	var c countingSpec
	c.failing.Store(true)

	_, _, err := s.Acquire(context.Background(), c.spec("k"))
	assert.ErrorContains(t, err, "boom")
	assert.Zero(t, c.lives.Load())
	assert.Empty(t, s.Entries())
}

func TestStoreInvalidate(t *testing.T) {
	s := NewStore(zerolog.Nop())
	ctx := context.Background()
	var list, item, other countingSpec

	_, relList, err := s.Acquire(ctx, list.spec("list", Tag{Type: "Projects", ID: ListID}))
	require.NoError(t, err)
	defer relList()
	itemEntry, relItem, err := s.Acquire(ctx, item.spec("item", Tag{Type: "Projects", ID: "7"}))
	require.NoError(t, err)
	_, relOther, err := s.Acquire(ctx, other.spec("other", Tag{Type: "Users", ID: ListID}))
	require.NoError(t, err)
	defer relOther()
	relItem()

	require.NoError(t, s.Invalidate(ctx, Tag{Type: "Projects", ID: ListID}, Tag{Type: "Projects", ID: "7"}))
	assert.Equal(t, int32(2), list.fetches.Load())
	assert.Equal(t, int32(1), item.fetches.Load(), "unused entries refetch lazily")
	assert.True(t, itemEntry.Stale())
	assert.Equal(t, int32(1), other.fetches.Load())

	_, relItem, err = s.Acquire(ctx, item.spec("item"))
	require.NoError(t, err)
	defer relItem()
	assert.Equal(t, int32(2), item.fetches.Load())
	assert.False(t, itemEntry.Stale())

	require.NoError(t, s.Invalidate(ctx, Tag{Type: "Users"}))
	assert.Equal(t, int32(2), other.fetches.Load())

	list.failing.Store(true)
	assert.ErrorContains(t, s.Invalidate(ctx, Tag{Type: "Projects"}), "boom")
}

func TestTagMatches(t *testing.T) {
	assert.True(t, Tag{Type: "Projects"}.Matches(Tag{Type: "Projects", ID: "1"}))
	assert.True(t, Tag{Type: "Projects", ID: "1"}.Matches(Tag{Type: "Projects", ID: "1"}))
	assert.False(t, Tag{Type: "Projects", ID: "1"}.Matches(Tag{Type: "Projects", ID: "2"}))
	assert.False(t, Tag{Type: "Users"}.Matches(Tag{Type: "Projects"}))
}
