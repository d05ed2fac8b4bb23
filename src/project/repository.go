package project

import (
	"context"
	"fmt"

	"github.com/orchestra-mcp/livecache/src/cache"
	"github.com/rs/zerolog"
)

const (
	listKey = "project/find-all"
	itemKey = "project/by-id"
)

// Repository serves live-synced project queries and optimistic mutations.
type Repository struct {
	api    *API
	store  *cache.Store
	sub    cache.Subscriber
	logger zerolog.Logger
}

// NewRepository creates a Repository. A nil sub disables live sync.
func NewRepository(api *API, store *cache.Store, sub cache.Subscriber, logger zerolog.Logger) *Repository {
	return &Repository{
		api:    api,
		store:  store,
		sub:    sub,
		logger: logger.With().Str("component", "project").Logger(),
	}
}

func (r *Repository) syncOptions() cache.SyncOptions {
	return cache.SyncOptions{Entity: Entity, Logger: r.logger}
}

// Projects returns the shared project list, fetching it on first use. The
// list stays live-synced until every consumer has called release.
func (r *Repository) Projects(ctx context.Context) (*cache.Collection[Project], func(), error) {
	coll := cache.NewCollection[Project](nil)
	spec := cache.EntrySpec{
		Key:   listKey,
		Value: coll,
		Fetch: func(ctx context.Context) error {
			items, err := r.api.FindAll(ctx)
			if err != nil {
				return err
			}
			coll.Replace(items)
			return nil
		},
		Tags: func() []cache.Tag { return cache.ListTags(TagType, coll.Snapshot()) },
	}
	if r.sub != nil {
		spec.Live = func() func() {
			return cache.SyncCollection(r.sub, coll, []string{ListTopic}, r.syncOptions())
		}
	}

	e, release, err := r.store.Acquire(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	return e.Value().(*cache.Collection[Project]), release, nil
}

// Project returns the shared view of one project. It follows both the
// per-project topic and the list topic.
func (r *Repository) Project(ctx context.Context, id string) (*cache.Item[Project], func(), error) {
	item := cache.NewItem[Project]()
	spec := cache.EntrySpec{
		Key:   cache.Key(itemKey, id),
		Value: item,
		Fetch: func(ctx context.Context) error {
			p, err := r.api.FindByID(ctx, id)
			if err != nil {
				return err
			}
			item.Set(p)
			return nil
		},
		Tags: func() []cache.Tag { return []cache.Tag{{Type: TagType, ID: id}} },
	}
	if r.sub != nil {
		spec.Live = func() func() {
			return cache.SyncItem(r.sub, item, id, []string{ItemTopic(id), ListTopic}, r.syncOptions())
		}
	}

	e, release, err := r.store.Acquire(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	return e.Value().(*cache.Item[Project]), release, nil
}

// Create inserts a placeholder into the cached list, creates the project
// and swaps in the result. The placeholder is removed if the call fails.
func (r *Repository) Create(ctx context.Context, req CreateRequest) (Project, error) {
	coll, cached := cache.Lookup[*cache.Collection[Project]](r.store, listKey)
	var tempID string

	created, err := cache.WithOptimisticPatch(
		func() (*cache.Patch, error) {
			if !cached {
				return nil, nil
			}
			id, p, err := coll.OptimisticCreate(req)
			tempID = id
			return p, err
		},
		func() (Project, error) { return r.api.Create(ctx, req) },
	)
	if err == nil && cached {
		coll.Reconcile(tempID, created)
	}
	r.invalidate(ctx, cache.Tag{Type: TagType, ID: cache.ListID})
	if err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return created, nil
}

// Update merges req into the cached project, then updates it on the
// server. The cached project is restored if the call fails.
func (r *Repository) Update(ctx context.Context, id string, req UpdateRequest) (Project, error) {
	coll, cached := cache.Lookup[*cache.Collection[Project]](r.store, listKey)

	updated, err := cache.WithOptimisticPatch(
		func() (*cache.Patch, error) {
			if !cached {
				return nil, nil
			}
			return coll.OptimisticUpdate(id, req)
		},
		func() (Project, error) { return r.api.Update(ctx, id, req) },
	)
	r.invalidate(ctx, cache.Tag{Type: TagType, ID: id}, cache.Tag{Type: TagType, ID: cache.ListID})
	if err != nil {
		return Project{}, fmt.Errorf("update project %s: %w", id, err)
	}
	return updated, nil
}

// Delete removes the project from the cached list, then deletes it on the
// server. The project is put back if the call fails.
func (r *Repository) Delete(ctx context.Context, id string) error {
	coll, cached := cache.Lookup[*cache.Collection[Project]](r.store, listKey)

	_, err := cache.WithOptimisticPatch(
		func() (*cache.Patch, error) {
			if !cached {
				return nil, nil
			}
			return coll.OptimisticDelete(id), nil
		},
		func() (string, error) { return r.api.Delete(ctx, id) },
	)
	r.invalidate(ctx, cache.Tag{Type: TagType, ID: id}, cache.Tag{Type: TagType, ID: cache.ListID})
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

func (r *Repository) invalidate(ctx context.Context, tags ...cache.Tag) {
	if err := r.store.Invalidate(ctx, tags...); err != nil {
		r.logger.Warn().Err(err).Msg("refetch after mutation failed")
	}
}

// CachedProjects returns the cached list without fetching.
func (r *Repository) CachedProjects() ([]Project, bool) {
	coll, ok := cache.Lookup[*cache.Collection[Project]](r.store, listKey)
	if !ok {
		return nil, false
	}
	return coll.Snapshot(), true
}

// CachedProject returns a cached project without fetching. The project
// view is consulted first, then the list.
func (r *Repository) CachedProject(id string) (Project, bool) {
	if item, ok := cache.Lookup[*cache.Item[Project]](r.store, cache.Key(itemKey, id)); ok {
		if p, ok := item.Get(); ok {
			return p, true
		}
	}
	if coll, ok := cache.Lookup[*cache.Collection[Project]](r.store, listKey); ok {
		return coll.Find(id)
	}
	return Project{}, false
}

// Store returns the backing cache store.
func (r *Repository) Store() *cache.Store {
	return r.store
}
