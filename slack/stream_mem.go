package slack

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// MemStream is an in-memory stream and fetcher backing the "mem" token
// type. Events are injected with Event, outbound sends are recorded, and
// fetch results are scripted per entity. It exists for tests, including
// those of packages embedding the Client.
type MemStream struct {
	self      User
	team      string
	authErr   error         // non-nil: every connect fails the handshake
	fetchWait chan struct{} // non-nil: fetches block until it is closed

	mu         sync.Mutex
	events     chan event
	connects   int
	sent       map[string][]string
	uploads    []string
	seedUsers  []User
	users      map[string]User
	bots       map[string]Bot
	channels   map[string]Channel
	fetchErrs  map[string]error
	fetchCount map[string]int
}

func newMemStream() *MemStream {
	return &MemStream{
		self:       User{ID: "USELF", Name: "puppet"},
		team:       "testteam",
		sent:       make(map[string][]string),
		users:      make(map[string]User),
		bots:       make(map[string]Bot),
		channels:   make(map[string]Channel),
		fetchErrs:  make(map[string]error),
		fetchCount: make(map[string]int),
	}
}

func (s *MemStream) Connect(ctx context.Context) (<-chan event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	events := make(chan event, 32)
	s.events = events
	if s.authErr != nil {
		events <- &fatalEvent{Err: s.authErr}
		close(events)
		return events, nil
	}
	events <- &authenticatedEvent{Self: s.self, Team: s.team, Users: s.seedUsers}
	events <- &readyEvent{}
	return events, nil
}

// Event injects one raw event into the open stream
func (s *MemStream) Event(ev event) {
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	events <- ev
}

// Drop simulates a terminal stream failure
func (s *MemStream) Drop(err error) {
	s.Event(&disconnectedEvent{Err: err})
}

// InjectTyping injects a typing indicator into the open stream
func (s *MemStream) InjectTyping(channel, user string) {
	s.Event(&typingEvent{Channel: channel, User: user})
}

// InjectChannelJoined injects a channel-joined event into the open stream
func (s *MemStream) InjectChannelJoined(channel Channel) {
	s.Event(&channelJoinedEvent{Channel: channel})
}

// InjectChannelRename injects a channel rename into the open stream
func (s *MemStream) InjectChannelRename(id, name string) {
	s.Event(&channelRenamedEvent{ID: id, Name: name})
}

func (s *MemStream) SendMessage(roomID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[roomID] = append(s.sent[roomID], text)
	return nil
}

func (s *MemStream) Upload(ctx context.Context, roomID, title, filename string, content io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, roomID+"/"+filename)
	return nil
}

func (s *MemStream) Close() error {
	return nil
}

// Sent returns all texts sent to a room so far
func (s *MemStream) Sent(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent[roomID]...)
}

// Connects returns how many times Connect has been called
func (s *MemStream) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// FailAuth makes every subsequent connect fail its handshake with err; a
// nil err restores normal connects
func (s *MemStream) FailAuth(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authErr = err
}

func (s *MemStream) putUser(u User)        { s.mu.Lock(); s.users[u.ID] = u; s.mu.Unlock() }
func (s *MemStream) putBot(b Bot)          { s.mu.Lock(); s.bots[b.ID] = b; s.mu.Unlock() }
func (s *MemStream) putChannel(c Channel)  { s.mu.Lock(); s.channels[c.ID] = c; s.mu.Unlock() }
func (s *MemStream) failFetch(key string, err error) {
	s.mu.Lock()
	s.fetchErrs[key] = err
	s.mu.Unlock()
}

// Fetches returns how often a given (group, id) has been fetched
func (s *MemStream) Fetches(group, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCount[lockKey(group, id)]
}

func (s *MemStream) FetchUser(ctx context.Context, id string) (*User, error) {
	if err := s.beginFetch(ctx, lockKey(lockGroupUser, id)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return &user, nil
}

func (s *MemStream) FetchBot(ctx context.Context, id string) (*Bot, error) {
	if err := s.beginFetch(ctx, lockKey(lockGroupBot, id)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, ok := s.bots[id]
	if !ok {
		return nil, errors.New("bot_not_found")
	}
	return &bot, nil
}

func (s *MemStream) FetchChannel(ctx context.Context, id string) (*Channel, error) {
	if err := s.beginFetch(ctx, lockKey(lockGroupChannel, id)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	channel, ok := s.channels[id]
	if !ok {
		return nil, errors.New("channel_not_found")
	}
	return &channel, nil
}

func (s *MemStream) beginFetch(ctx context.Context, key string) error {
	s.mu.Lock()
	s.fetchCount[key]++
	err := s.fetchErrs[key]
	wait := s.fetchWait
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("fetch gate timeout")
		}
	}
	return nil
}
