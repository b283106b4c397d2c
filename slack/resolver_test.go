package slack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestResolver() (*resolver, *entityStore, *fetchLocker, *MemStream) {
	st := newMemStream()
	store := newEntityStore(nil)
	locks := newFetchLocker()
	return newResolver(store, locks, st), store, locks, st
}

func TestResolverStoreHitSkipsFetch(t *testing.T) {
	r, store, _, st := newTestResolver()
	store.UpsertUser(User{ID: "U1", Name: "alice"})

	user := r.UserByID(context.Background(), "U1")
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, 0, st.Fetches(lockGroupUser, "U1"))

	// name alias hits the store too
	user = r.UserByID(context.Background(), "alice")
	assert.Equal(t, "U1", user.ID)
	assert.Equal(t, 0, st.Fetches(lockGroupUser, "alice"))
}

func TestResolverFetchesOnceAndCaches(t *testing.T) {
	r, _, _, st := newTestResolver()
	st.putUser(User{ID: "U9", Name: "alice"})

	user := r.UserByID(context.Background(), "U9")
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, 1, st.Fetches(lockGroupUser, "U9"))

	user = r.UserByID(context.Background(), "U9")
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, 1, st.Fetches(lockGroupUser, "U9")) // no second fetch
}

func TestResolverConcurrentLookupsConvergeToSingleFetch(t *testing.T) {
	r, _, _, st := newTestResolver()
	st.putUser(User{ID: "U9", Name: "alice"})
	gate := make(chan struct{})
	st.fetchWait = gate

	const n = 10
	results := make([]*User, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.UserByID(context.Background(), "U9")
		}(i)
	}
	time.Sleep(50 * time.Millisecond) // let the losers queue up behind the lock
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, st.Fetches(lockGroupUser, "U9"))
	for i := 0; i < n; i++ {
		assert.NotNil(t, results[i])
		assert.Equal(t, "alice", results[i].Name)
	}
}

func TestResolverUserFetchFailureFallsBackToNil(t *testing.T) {
	r, _, locks, st := newTestResolver()

	user := r.UserByID(context.Background(), "U404")
	assert.Nil(t, user)
	assert.False(t, locks.Held(lockGroupUser, "U404")) // lock released on failure

	// a later attempt may retry and succeed
	st.putUser(User{ID: "U404", Name: "found-late"})
	user = r.UserByID(context.Background(), "U404")
	assert.Equal(t, "found-late", user.Name)
	assert.Equal(t, 2, st.Fetches(lockGroupUser, "U404"))
}

func TestResolverBotFetchFailureFallsBackToPlaceholder(t *testing.T) {
	r, _, locks, _ := newTestResolver()

	bot := r.BotByID(context.Background(), "B404")
	assert.NotNil(t, bot)
	assert.Equal(t, "unknown", bot.Name)
	assert.False(t, locks.Held(lockGroupBot, "B404"))
}

func TestResolverLateFetchResultAfterLockExpiry(t *testing.T) {
	r, store, locks, st := newTestResolver()
	locks.ttl = 50 * time.Millisecond
	st.putUser(User{ID: "U9", Name: "alice"})
	gate := make(chan struct{})
	st.fetchWait = gate

	done := make(chan *User)
	go func() {
		done <- r.UserByID(context.Background(), "U9")
	}()

	time.Sleep(100 * time.Millisecond) // the fetch lock has expired by now
	assert.False(t, locks.Held(lockGroupUser, "U9"))
	token2, ok := locks.Acquire(lockGroupUser, "U9")
	assert.True(t, ok)

	close(gate) // the stale fetch finishes late
	user := <-done
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, "alice", store.UserByKey("U9").Name) // still upserts

	// the stale holder's release did not clear the new lock
	assert.True(t, locks.Held(lockGroupUser, "U9"))
	locks.Release(lockGroupUser, "U9", token2)
}

func TestResolverRoomByID(t *testing.T) {
	r, _, _, st := newTestResolver()
	st.putChannel(Channel{ID: "C1", Name: "general", Purpose: "chatter"})
	st.putChannel(Channel{ID: "D1", IsDirect: true, User: "U2"})

	room := r.RoomByID(context.Background(), "C1")
	assert.Equal(t, "general", room.Name)

	direct := r.RoomByID(context.Background(), "D1")
	assert.True(t, direct.IsDirect)
	assert.Equal(t, "U2", direct.User)

	assert.Nil(t, r.RoomByID(context.Background(), "C404"))
}

func TestResolverChannelByIDFiltersDirectRooms(t *testing.T) {
	r, _, _, st := newTestResolver()
	st.putChannel(Channel{ID: "C1", Name: "general"})
	st.putChannel(Channel{ID: "D1", IsDirect: true, User: "U2"})

	assert.NotNil(t, r.ChannelByID(context.Background(), "C1"))
	assert.Nil(t, r.ChannelByID(context.Background(), "D1"))
}
