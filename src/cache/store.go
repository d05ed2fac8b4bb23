package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
	"github.com/go4org/hashtriemap"
	"github.com/rs/zerolog"
)

// DefaultKeepUnused is how long an entry outlives its last consumer.
const DefaultKeepUnused = 60 * time.Second

// Key derives an entry key from an endpoint name and its arguments.
func Key(endpoint string, args any) string {
	if args == nil {
		return endpoint
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = fmt.Appendf(nil, "%v", args)
	}
	return fmt.Sprintf("%s#%016x", endpoint, xxhash.Sum64(raw))
}

// EntrySpec describes a cache entry to the store.
type EntrySpec struct {
	Key string
	// Value is the cache holder the entry owns, e.g. a *Collection.
	Value any
	// Fetch loads fresh data into Value.
	Fetch func(ctx context.Context) error
	// Tags lists what the current data provides.
	Tags func() []Tag
	// Live starts realtime sync for Value. It runs after the first
	// successful fetch and is stopped when the last consumer leaves.
	Live func() (stop func())
}

// Entry is a cached query result shared by its consumers.
type Entry struct {
	spec EntrySpec

	fetchMu sync.Mutex

	mu        sync.Mutex
	refs      int
	fetched   bool
	stale     bool
	fetchedAt time.Time
	stopLive  func()
	timer     *time.Timer
	gen       uint64
	evicted   bool
}

// Key returns the entry key.
func (e *Entry) Key() string { return e.spec.Key }

// Value returns the cache holder.
func (e *Entry) Value() any { return e.spec.Value }

// Stale reports whether the entry was invalidated and not yet refetched.
func (e *Entry) Stale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stale
}

func (e *Entry) provides(tags []Tag) bool {
	if e.spec.Tags == nil {
		return false
	}
	provided := e.spec.Tags()
	for _, t := range tags {
		if slices.ContainsFunc(provided, t.Matches) {
			return true
		}
	}
	return false
}

func (e *Entry) fetch(ctx context.Context) error {
	if e.spec.Fetch == nil {
		e.mu.Lock()
		e.fetched = true
		e.mu.Unlock()
		return nil
	}
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	if err := e.spec.Fetch(ctx); err != nil {
		return fmt.Errorf("fetch %s: %w", e.spec.Key, err)
	}
	e.mu.Lock()
	e.fetched, e.stale = true, false
	e.fetchedAt = time.Now()
	e.mu.Unlock()
	return nil
}

// EntryInfo is a point-in-time view of an entry.
type EntryInfo struct {
	Key       string    `json:"key"`
	Refs      int       `json:"refs"`
	Stale     bool      `json:"stale"`
	Live      bool      `json:"live"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Store keeps cache entries alive while they have consumers.
type Store struct {
	entries    hashtriemap.HashTrieMap[string, *Entry]
	keepUnused time.Duration
	logger     zerolog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKeepUnused sets how long unused entries are kept. Zero or negative
// evicts at once.
func WithKeepUnused(d time.Duration) StoreOption {
	return func(s *Store) { s.keepUnused = d }
}

// NewStore creates an empty store.
func NewStore(logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		keepUnused: DefaultKeepUnused,
		logger:     logger.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire registers a consumer of the entry described by spec, creating and
// fetching it as needed. An existing entry keeps its original spec. The
// returned release must be called once the consumer is done.
func (s *Store) Acquire(ctx context.Context, spec EntrySpec) (*Entry, func(), error) {
	if spec.Key == "" {
		return nil, nil, errors.New("cache: entry key is required")
	}

	var e *Entry
	for {
		e, _ = s.entries.LoadOrStore(spec.Key, &Entry{spec: spec})
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		e.refs++
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.gen++
		needFetch := !e.fetched || e.stale
		e.mu.Unlock()

		if needFetch {
			if err := e.fetch(ctx); err != nil {
				s.release(e)
				return nil, nil, err
			}
		}
		break
	}

	e.mu.Lock()
	if e.refs > 0 && e.stopLive == nil && e.spec.Live != nil {
		e.stopLive = e.spec.Live()
		s.logger.Debug().Str("key", e.spec.Key).Msg("live sync started")
	}
	e.mu.Unlock()

	var once sync.Once
	return e, func() { once.Do(func() { s.release(e) }) }, nil
}

func (s *Store) release(e *Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.refs--
	if e.refs > 0 {
		return
	}
	if e.stopLive != nil {
		e.stopLive()
		e.stopLive = nil
		s.logger.Debug().Str("key", e.spec.Key).Msg("live sync stopped")
	}
	if s.keepUnused <= 0 {
		s.evictLocked(e)
		return
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(s.keepUnused, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen == gen && e.refs == 0 {
			s.evictLocked(e)
		}
	})
}

func (s *Store) evictLocked(e *Entry) {
	if e.evicted {
		return
	}
	e.evicted = true
	e.timer = nil
	s.entries.Delete(e.spec.Key)
	s.logger.Debug().Str("key", e.spec.Key).Msg("entry evicted")
}

// Invalidate marks entries providing any of tags as stale and refetches
// those that have consumers. Unused entries refetch on their next Acquire.
func (s *Store) Invalidate(ctx context.Context, tags ...Tag) error {
	var active []*Entry
	s.entries.Range(func(_ string, e *Entry) bool {
		if !e.provides(tags) {
			return true
		}
		e.mu.Lock()
		e.stale = true
		if e.refs > 0 && !e.evicted {
			active = append(active, e)
		}
		e.mu.Unlock()
		return true
	})

	var errs []error
	for _, e := range active {
		if err := e.fetch(ctx); err != nil {
			s.logger.Warn().Err(err).Str("key", e.spec.Key).Msg("refetch failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Entries describes the current entries ordered by key.
func (s *Store) Entries() []EntryInfo {
	var out []EntryInfo
	s.entries.Range(func(key string, e *Entry) bool {
		e.mu.Lock()
		out = append(out, EntryInfo{
			Key:       key,
			Refs:      e.refs,
			Stale:     e.stale,
			Live:      e.stopLive != nil,
			FetchedAt: e.fetchedAt,
		})
		e.mu.Unlock()
		return true
	})
	slices.SortFunc(out, func(a, b EntryInfo) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

// Lookup returns the value held under key if it has type V.
func Lookup[V any](s *Store, key string) (V, bool) {
	var zero V
	e, ok := s.entries.Load(key)
	if !ok {
		return zero, false
	}
	v, ok := e.spec.Value.(V)
	if !ok {
		return zero, false
	}
	return v, true
}
