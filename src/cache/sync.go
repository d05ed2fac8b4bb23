package cache

import (
	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/rs/zerolog"
)

// Subscriber registers handlers on broker destinations.
type Subscriber interface {
	Subscribe(destination string, handler types.MessageHandler) types.Subscription
}

// SyncOptions configures a realtime sync.
type SyncOptions struct {
	// Entity is the entity type tag events must carry.
	Entity string
	Logger zerolog.Logger
}

// SyncCollection applies change events from topics to coll until stop is
// called. Events for other entity types are dropped.
func SyncCollection[T Entity](sub Subscriber, coll *Collection[T], topics []string, opts SyncOptions) (stop func()) {
	logger := opts.Logger.With().Str("component", "cache_sync").Str("entity", opts.Entity).Logger()
	return subscribeAll(sub, topics, func(msg types.Message) {
		ev, ok := accept(msg, opts.Entity, "", logger)
		if !ok {
			return
		}
		changed, err := coll.ApplyEvent(ev)
		if err != nil {
			logger.Warn().Err(err).Str("destination", msg.Destination).Msg("dropping event")
			return
		}
		logger.Debug().
			Str("action", string(ev.Action)).
			Str("id", ev.ID).
			Bool("changed", changed).
			Msg("event applied")
	})
}

// SyncItem applies change events for id from topics to item until stop is
// called.
func SyncItem[T Entity](sub Subscriber, item *Item[T], id string, topics []string, opts SyncOptions) (stop func()) {
	logger := opts.Logger.With().Str("component", "cache_sync").Str("entity", opts.Entity).Str("id", id).Logger()
	return subscribeAll(sub, topics, func(msg types.Message) {
		ev, ok := accept(msg, opts.Entity, id, logger)
		if !ok {
			return
		}
		changed, err := item.ApplyEvent(ev)
		if err != nil {
			logger.Warn().Err(err).Str("destination", msg.Destination).Msg("dropping event")
			return
		}
		logger.Debug().Str("action", string(ev.Action)).Bool("changed", changed).Msg("event applied")
	})
}

// accept filters and decodes an envelope. An empty id accepts any id.
func accept(msg types.Message, entity, id string, logger zerolog.Logger) (*types.ChangeEvent, bool) {
	gotEntity, gotID, err := envelopeTarget(msg.Body)
	if err != nil {
		logger.Warn().Err(err).Str("destination", msg.Destination).Msg("dropping malformed envelope")
		return nil, false
	}
	if gotEntity != entity || (id != "" && gotID != id) {
		return nil, false
	}
	ev, err := DecodeEvent(msg.Body)
	if err != nil {
		logger.Warn().Err(err).Str("destination", msg.Destination).Msg("dropping malformed envelope")
		return nil, false
	}
	return ev, true
}

func subscribeAll(sub Subscriber, topics []string, h types.MessageHandler) func() {
	subs := make([]types.Subscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, sub.Subscribe(t, h))
	}
	return func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}
}
