package cache

import (
	"sync"
	"testing"

	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionSortsOnCreate(t *testing.T) {
	c := NewCollection([]note{{ID: "1", UpdatedAt: "2024-01-01"}})

	changed := c.Apply(types.ActionCreated, "2", &note{ID: "2", UpdatedAt: "2024-01-02"})
	assert.True(t, changed)
	assert.Equal(t, []string{"2", "1"}, ids(c.Snapshot()))
}

func TestCollectionCreatedOlderEntitySortsBehind(t *testing.T) {
	c := NewCollection([]note{{ID: "1", UpdatedAt: "2024-01-05"}})

	c.Apply(types.ActionCreated, "2", &note{ID: "2", UpdatedAt: "2024-01-02"})
	assert.Equal(t, []string{"1", "2"}, ids(c.Snapshot()))
}

func TestCollectionDuplicateCreateIsNoop(t *testing.T) {
	c := NewCollection([]note{{ID: "1", Title: "a", UpdatedAt: "2024-01-01"}})
	before := c.Version()

	changed := c.Apply(types.ActionCreated, "1", &note{ID: "1", Title: "dup", UpdatedAt: "2024-02-01"})
	assert.False(t, changed)
	assert.Equal(t, before, c.Version())
	require.Equal(t, 1, c.Len())
	got, _ := c.Find("1")
	assert.Equal(t, "a", got.Title)
}

func TestCollectionUpdateAndDelete(t *testing.T) {
	c := NewCollection([]note{
		{ID: "1", UpdatedAt: "2024-01-01"},
		{ID: "2", UpdatedAt: "2024-01-02"},
	})

	assert.True(t, c.Apply(types.ActionUpdated, "1", &note{ID: "1", Title: "x", UpdatedAt: "2024-01-03"}))
	assert.Equal(t, []string{"1", "2"}, ids(c.Snapshot()))

	assert.True(t, c.Apply(types.ActionDeleted, "2", nil))
	assert.Equal(t, []string{"1"}, ids(c.Snapshot()))
}

func TestCollectionAbsentIDIsNoop(t *testing.T) {
	c := NewCollection([]note{{ID: "1", UpdatedAt: "2024-01-01"}})

	assert.False(t, c.Apply(types.ActionUpdated, "9", &note{ID: "9"}))
	assert.False(t, c.Apply(types.ActionDeleted, "9", nil))
	assert.False(t, c.Apply(types.ActionCreated, "3", nil))
	assert.False(t, c.Apply("PATCHED", "1", &note{ID: "1"}))
	assert.Equal(t, []string{"1"}, ids(c.Snapshot()))
	assert.Zero(t, c.Version())
}

func TestCollectionApplyEventDecodesData(t *testing.T) {
	c := NewCollection[note](nil)
	ev, err := DecodeEvent(envelope("CREATE", "Note", "5", `{"id":"5","title":"hi","updatedAt":"2024-03-01"}`))
	require.NoError(t, err)

	changed, err := c.ApplyEvent(ev)
	require.NoError(t, err)
	assert.True(t, changed)
	got, ok := c.Find("5")
	require.True(t, ok)
	assert.Equal(t, "hi", got.Title)

	ev.Data = []byte(`{"id":`)
	_, err = c.ApplyEvent(ev)
	assert.Error(t, err)
}

func TestCollectionListeners(t *testing.T) {
	c := NewCollection[note](nil)

	var got [][]string
	remove := c.OnChange(func(items []note) { got = append(got, ids(items)) })

	c.Replace([]note{{ID: "1", UpdatedAt: "2024-01-01"}, {ID: "2", UpdatedAt: "2024-01-02"}})
	c.Apply(types.ActionDeleted, "9", nil)
	remove()
	c.Apply(types.ActionDeleted, "1", nil)

	assert.Equal(t, [][]string{{"2", "1"}}, got)
}

func TestCollectionSnapshotIsCopy(t *testing.T) {
	c := NewCollection([]note{{ID: "1", Title: "a"}})
	snap := c.Snapshot()
	snap[0].Title = "changed"

	got, _ := c.Find("1")
	assert.Equal(t, "a", got.Title)
}

func TestCollectionConcurrentWriters(t *testing.T) {
	c := NewCollection[note](nil)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i%26))
			c.Apply(types.ActionCreated, id, &note{ID: id})
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids(c.Snapshot()) {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 26)
}

func TestItemIgnoresDelete(t *testing.T) {
	it := NewItem[note]()

	ev, err := DecodeEvent(envelope("UPDATED", "Note", "1", `{"title":"x"}`))
	require.NoError(t, err)
	changed, err := it.ApplyEvent(ev)
	require.NoError(t, err)
	assert.False(t, changed, "nothing loaded yet")

	it.Set(note{ID: "1", Title: "a", Owner: "bob"})
	changed, err = it.ApplyEvent(ev)
	require.NoError(t, err)
	assert.True(t, changed)
	got, _ := it.Get()
	assert.Equal(t, note{ID: "1", Title: "x", Owner: "bob"}, got)

	del, err := DecodeEvent(envelope("DELETED", "Note", "1", ""))
	require.NoError(t, err)
	changed, err = it.ApplyEvent(del)
	require.NoError(t, err)
	assert.False(t, changed)
	_, ok := it.Get()
	assert.True(t, ok)
}

func TestItemListeners(t *testing.T) {
	it := NewItem[note]()
	var titles []string
	remove := it.OnChange(func(n note) { titles = append(titles, n.Title) })

	it.Set(note{ID: "1", Title: "a"})
	require.NoError(t, it.Merge([]byte(`{"title":"b"}`)))
	remove()
	it.Set(note{ID: "1", Title: "c"})

	assert.Equal(t, []string{"a", "b"}, titles)
	assert.Equal(t, uint64(3), it.Version())
	assert.Error(t, it.Merge([]byte(`[1]`)))
}
