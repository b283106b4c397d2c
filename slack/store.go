package slack

import (
	"sync"
)

// entityStore is the in-memory cache of users, channels and bots known to
// the client. Records are keyed by ID; a secondary name index allows lookups
// by display name, with the ID always authoritative. The store is shared
// between the event loop and concurrent resolver goroutines.
type entityStore struct {
	mu           sync.RWMutex
	users        map[string]User
	userNames    map[string]string
	channels     map[string]Channel
	channelNames map[string]string
	bots         map[string]Bot
	botNames     map[string]string

	// renamed is invoked (outside the lock) when a channel upsert changes
	// the stored name of an existing record. Never invoked on first insert.
	renamed func(id, name string)
}

func newEntityStore(renamed func(id, name string)) *entityStore {
	if renamed == nil {
		renamed = func(string, string) {}
	}
	return &entityStore{
		users:        make(map[string]User),
		userNames:    make(map[string]string),
		channels:     make(map[string]Channel),
		channelNames: make(map[string]string),
		bots:         make(map[string]Bot),
		botNames:     make(map[string]string),
		renamed:      renamed,
	}
}

// UserByKey returns the user with the given ID or name, or nil
func (s *entityStore) UserByKey(key string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[key]; ok {
		return &u
	}
	if id, ok := s.userNames[key]; ok {
		u := s.users[id]
		return &u
	}
	return nil
}

// ChannelByKey returns the channel with the given ID or name, or nil
func (s *entityStore) ChannelByKey(key string) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.channels[key]; ok {
		return &c
	}
	if id, ok := s.channelNames[key]; ok {
		c := s.channels[id]
		return &c
	}
	return nil
}

// BotByKey returns the bot with the given ID or name, or nil
func (s *entityStore) BotByKey(key string) *Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.bots[key]; ok {
		return &b
	}
	if id, ok := s.botNames[key]; ok {
		b := s.bots[id]
		return &b
	}
	return nil
}

// UpsertUser inserts or overwrites a user record
func (s *entityStore) UpsertUser(user User) {
	if user.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.users[user.ID]; ok && old.Name != "" {
		delete(s.userNames, old.Name)
	}
	s.users[user.ID] = user
	if user.Name != "" {
		s.userNames[user.Name] = user.ID
	}
}

// UpsertBot inserts or overwrites a bot record
func (s *entityStore) UpsertBot(bot Bot) {
	if bot.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.bots[bot.ID]; ok && old.Name != "" {
		delete(s.botNames, old.Name)
	}
	s.bots[bot.ID] = bot
	if bot.Name != "" {
		s.botNames[bot.Name] = bot.ID
	}
}

// UpsertChannel inserts or overwrites a channel record. If a record with the
// same ID already exists and its name differs, the rename callback fires
// exactly once, after the store is updated.
func (s *entityStore) UpsertChannel(channel Channel) {
	if channel.ID == "" {
		return
	}
	s.mu.Lock()
	old, existed := s.channels[channel.ID]
	if existed && old.Name != "" {
		delete(s.channelNames, old.Name)
	}
	s.channels[channel.ID] = channel
	if channel.Name != "" {
		s.channelNames[channel.Name] = channel.ID
	}
	s.mu.Unlock()
	if existed && old.Name != channel.Name {
		s.renamed(channel.ID, channel.Name)
	}
}

// RenameChannel applies a name-only update, as delivered by rename push
// events. Unlike UpsertChannel it preserves all other fields of an existing
// record; an unknown ID creates a partial record without a rename callback.
func (s *entityStore) RenameChannel(id, name string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	channel, existed := s.channels[id]
	if !existed {
		channel = Channel{ID: id, Name: name}
	}
	changed := existed && channel.Name != name
	if channel.Name != "" {
		delete(s.channelNames, channel.Name)
	}
	channel.Name = name
	s.channels[id] = channel
	if name != "" {
		s.channelNames[name] = id
	}
	s.mu.Unlock()
	if changed {
		s.renamed(id, name)
	}
}

// InsertChannelIfAbsent adds a channel only if no record with its ID exists
// yet. Join events use this so that a fetched record is not clobbered by the
// sparser push variant.
func (s *entityStore) InsertChannelIfAbsent(channel Channel) {
	if channel.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channel.ID]; ok {
		return
	}
	s.channels[channel.ID] = channel
	if channel.Name != "" {
		s.channelNames[channel.Name] = channel.ID
	}
}

// Seed bulk-loads the initial entity snapshot captured during the handshake
func (s *entityStore) Seed(users []User, channels []Channel, bots []Bot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		s.users[u.ID] = u
		if u.Name != "" {
			s.userNames[u.Name] = u.ID
		}
	}
	for _, c := range channels {
		if c.ID == "" {
			continue
		}
		s.channels[c.ID] = c
		if c.Name != "" {
			s.channelNames[c.Name] = c.ID
		}
	}
	for _, b := range bots {
		if b.ID == "" {
			continue
		}
		s.bots[b.ID] = b
		if b.Name != "" {
			s.botNames[b.Name] = b.ID
		}
	}
}

// Users returns a copy of all known users
func (s *entityStore) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users
}

// Channels returns a copy of all known channels
func (s *entityStore) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := make([]Channel, 0, len(s.channels))
	for _, c := range s.channels {
		channels = append(channels, c)
	}
	return channels
}
