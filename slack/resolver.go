package slack

import (
	"context"
	"log"
)

// fetcher is the point-query side of the remote platform: single
// request/response lookups with no implicit retry. Retry-by-dedup is the
// resolver's job.
type fetcher interface {
	FetchUser(ctx context.Context, id string) (*User, error)
	FetchBot(ctx context.Context, id string) (*Bot, error)
	FetchChannel(ctx context.Context, id string) (*Channel, error)
}

// resolver turns bare identifiers into entities: store hit, else a single
// deduplicated network fetch, else a class-specific fallback. Resolution
// never returns an error to the caller; fetch failures are logged and
// degrade to the fallback so message delivery is never blocked.
type resolver struct {
	store *entityStore
	locks *fetchLocker
	fetch fetcher
}

func newResolver(store *entityStore, locks *fetchLocker, fetch fetcher) *resolver {
	return &resolver{
		store: store,
		locks: locks,
		fetch: fetch,
	}
}

// UserByID resolves a user by ID or name. Unknown users resolve to nil.
func (r *resolver) UserByID(ctx context.Context, id string) *User {
	for {
		if user := r.store.UserByKey(id); user != nil {
			return user
		}
		token, ok := r.locks.Acquire(lockGroupUser, id)
		if !ok {
			if err := r.locks.Wait(ctx, lockGroupUser, id); err != nil {
				return nil
			}
			continue // the winning fetch may have filled the store
		}
		user, err := r.fetch.FetchUser(ctx, id)
		if err != nil || user == nil {
			if err != nil {
				log.Printf("slack: could not fetch user %s: %s", id, err.Error())
			}
			r.locks.Release(lockGroupUser, id, token)
			return nil
		}
		r.store.UpsertUser(*user)
		r.locks.Release(lockGroupUser, id, token)
		return user
	}
}

// BotByID resolves a bot by ID or name. Unknown bots resolve to a
// placeholder with the sentinel name "unknown", never nil.
func (r *resolver) BotByID(ctx context.Context, id string) *Bot {
	for {
		if bot := r.store.BotByKey(id); bot != nil {
			return bot
		}
		token, ok := r.locks.Acquire(lockGroupBot, id)
		if !ok {
			if err := r.locks.Wait(ctx, lockGroupBot, id); err != nil {
				return &Bot{Name: "unknown"}
			}
			continue
		}
		bot, err := r.fetch.FetchBot(ctx, id)
		if err != nil || bot == nil {
			if err != nil {
				log.Printf("slack: could not fetch bot %s: %s", id, err.Error())
			}
			r.locks.Release(lockGroupBot, id, token)
			return &Bot{Name: "unknown"}
		}
		r.store.UpsertBot(*bot)
		r.locks.Release(lockGroupBot, id, token)
		return bot
	}
}

// RoomByID resolves any conversation (channel, group or direct room) by ID
// or name. Unknown rooms resolve to nil.
func (r *resolver) RoomByID(ctx context.Context, id string) *Channel {
	for {
		if channel := r.store.ChannelByKey(id); channel != nil {
			return channel
		}
		token, ok := r.locks.Acquire(lockGroupChannel, id)
		if !ok {
			if err := r.locks.Wait(ctx, lockGroupChannel, id); err != nil {
				return nil
			}
			continue
		}
		channel, err := r.fetch.FetchChannel(ctx, id)
		if err != nil || channel == nil {
			if err != nil {
				log.Printf("slack: could not fetch conversation %s: %s", id, err.Error())
			}
			r.locks.Release(lockGroupChannel, id, token)
			return nil
		}
		r.store.UpsertChannel(*channel)
		r.locks.Release(lockGroupChannel, id, token)
		return channel
	}
}

// ChannelByID is RoomByID restricted to non-direct conversations
func (r *resolver) ChannelByID(ctx context.Context, id string) *Channel {
	channel := r.RoomByID(ctx, id)
	if channel == nil || channel.IsDirect {
		return nil
	}
	return channel
}
