package slack

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kfatehi/matrix-puppet-slack/config"
)

// State is the connection lifecycle state of a Client
type State int

// Connection lifecycle states
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateReady
)

// settleDelay is how long after the connected event message forwarding stays
// disarmed, so the session's own backlog/self-messages emitted right after
// authentication are not re-broadcast as new.
const settleDelay = 5 * time.Second

// messageBacklog bounds how many messages may queue behind a slow sender
// fetch before the run loop itself blocks
const messageBacklog = 128

var (
	errAlreadyStarted = errors.New("client already started")
	errStreamEnded    = errors.New("unexpected end of incoming events stream")
)

// Client is the realtime client core: it owns the stream, the entity store
// and the fetch lock table, and drives the lifecycle state machine. One
// Client serves one remote account; it is not a process-wide singleton.
type Client struct {
	conf     *config.Config
	stream   stream
	listener Listener
	store    *entityStore
	locks    *fetchLocker
	resolver *resolver
	settle   time.Duration

	mu          sync.Mutex
	state       State
	self        User
	team        string
	armed       bool
	messages    chan *messageEvent
	settleTimer *time.Timer
	cancel      context.CancelFunc
	loop        *errgroup.Group
}

// NewClient creates a client for the configured account. The "mem" token
// type yields an in-memory stream, used by the tests.
func NewClient(conf *config.Config, listener Listener) *Client {
	if conf.Type() == config.TypeMem {
		st := newMemStream()
		return newClient(conf, st, st, listener)
	}
	st := newSlackStream(conf.Token, conf.Debug)
	return newClient(conf, st, st, listener)
}

// MemStream returns the in-memory stream backing a mem-type client, or nil
// for a real connection. Embedding packages use it to script events in
// their tests.
func (c *Client) MemStream() *MemStream {
	st, _ := c.stream.(*MemStream)
	return st
}

func newClient(conf *config.Config, st stream, fetch fetcher, listener Listener) *Client {
	c := &Client{
		conf:     conf,
		stream:   st,
		listener: listener,
		locks:    newFetchLocker(),
		settle:   settleDelay,
	}
	c.store = newEntityStore(func(id, name string) {
		listener.Rename(&RenameNotification{Channel: id, Name: name})
	})
	c.resolver = newResolver(c.store, c.locks, fetch)
	return c
}

// Start opens the realtime stream and blocks until the connection is ready
// to deliver real messages, or fails with the handshake error. On success
// the event loop keeps running in the background until the stream dies or
// Stop is called; it does not reconnect by itself.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return errAlreadyStarted
	}
	c.state = StateConnecting
	c.armed = false
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	events, err := c.stream.Connect(ctx)
	if err != nil {
		cancel()
		c.setState(StateDisconnected)
		return err
	}
	for {
		select {
		case <-ctx.Done():
			cancel()
			_ = c.stream.Close()
			c.setState(StateDisconnected)
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				cancel()
				c.setState(StateDisconnected)
				return errStreamEnded
			}
			switch ev := ev.(type) {
			case *fatalEvent:
				cancel()
				_ = c.stream.Close()
				c.setState(StateDisconnected)
				return ev.Err
			case *disconnectedEvent:
				cancel()
				_ = c.stream.Close()
				c.setState(StateDisconnected)
				if ev.Err != nil {
					return ev.Err
				}
				return errors.New("disconnected during handshake")
			case *authenticatedEvent:
				c.handleAuthenticated(ev)
			case *readyEvent:
				c.handleReady()
				loop, loopCtx := errgroup.WithContext(ctx)
				messages := make(chan *messageEvent, messageBacklog)
				c.mu.Lock()
				c.cancel = cancel
				c.loop = loop
				c.messages = messages
				c.mu.Unlock()
				loop.Go(func() error {
					return c.run(loopCtx, events)
				})
				loop.Go(func() error {
					return c.forwardLoop(loopCtx, messages)
				})
				return nil
			default:
				c.handleEvent(ctx, ev)
			}
		}
	}
}

// Stop tears down the connection and waits for the event loop to exit. It
// is safe to call on an already-stopped client.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, loop := c.cancel, c.loop
	c.cancel, c.loop = nil, nil
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = c.stream.Close()
	if loop != nil {
		_ = loop.Wait()
	}
	c.setState(StateDisconnected)
}

// forwardLoop delivers queued messages to the listener one at a time, so the
// relay observes them in stream arrival order even when a sender fetch is
// slow. Sender resolution inside forwardMessage is the only point where
// delivery may stall.
func (c *Client) forwardLoop(ctx context.Context, messages <-chan *messageEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-messages:
			c.forwardMessage(ctx, ev)
		}
	}
}

func (c *Client) run(ctx context.Context, events <-chan event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				c.handleDisconnect(errStreamEnded)
				return nil
			}
			if ev, isDisconnect := ev.(*disconnectedEvent); isDisconnect {
				c.handleDisconnect(ev.Err)
				return nil
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Client) handleAuthenticated(ev *authenticatedEvent) {
	c.mu.Lock()
	c.state = StateAuthenticated
	c.self = ev.Self
	c.team = ev.Team
	c.mu.Unlock()
	c.store.Seed(ev.Users, ev.Channels, ev.Bots)
	log.Printf("slack: logged in as %s of team %s", ev.Self.Name, ev.Team)
}

func (c *Client) handleReady() {
	c.mu.Lock()
	c.state = StateReady
	c.settleTimer = time.AfterFunc(c.settle, c.armMessages)
	c.mu.Unlock()
	c.listener.Connected()
}

func (c *Client) armMessages() {
	c.mu.Lock()
	c.armed = true
	c.mu.Unlock()
	log.Printf("slack: message forwarding armed")
}

func (c *Client) handleDisconnect(err error) {
	if err != nil {
		log.Printf("slack: disconnected: %s", err.Error())
	}
	c.mu.Lock()
	c.state = StateDisconnected
	cancel := c.cancel
	c.cancel = nil
	c.loop = nil
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = c.stream.Close()
	c.listener.Disconnected()
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelfUserID returns the session's own user ID, set once authenticated
func (c *Client) SelfUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self.ID
}

// Team returns the authenticated workspace name
func (c *Client) Team() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.team
}

// Users returns all users currently known to the entity store
func (c *Client) Users() []User {
	return c.store.Users()
}

// Channels returns all conversations currently known to the entity store
func (c *Client) Channels() []Channel {
	return c.store.Channels()
}

// UserByID resolves a user, fetching it if the store does not know it.
// Unknown users resolve to nil.
func (c *Client) UserByID(ctx context.Context, id string) *User {
	return c.resolver.UserByID(ctx, id)
}

// RoomByID resolves any conversation, fetching it on a store miss
func (c *Client) RoomByID(ctx context.Context, id string) *Channel {
	return c.resolver.RoomByID(ctx, id)
}

// ChannelByID resolves a non-direct conversation, fetching it on a store miss
func (c *Client) ChannelByID(ctx context.Context, id string) *Channel {
	return c.resolver.ChannelByID(ctx, id)
}

// RoomData returns display metadata for a room. Direct rooms are named after
// the counterpart user and get a team-labeled topic.
func (c *Client) RoomData(ctx context.Context, id string) (*RoomData, error) {
	room := c.resolver.RoomByID(ctx, id)
	if room == nil {
		return nil, errors.New("room " + id + " not found")
	}
	data := &RoomData{IsDirect: room.IsDirect}
	if room.IsDirect {
		// direct rooms have no name of their own; fall back to the
		// counterpart's ID if the user cannot be resolved
		data.Name = room.User
		data.Topic = "Slack Direct Message (Team: " + c.conf.TeamName + ")"
		if user := c.resolver.UserByID(ctx, room.User); user != nil {
			data.Name = user.Name
		}
		return data, nil
	}
	data.Name = room.Name
	data.Topic = room.Purpose
	return data, nil
}

// SendMessage sends plain text to a room over the realtime connection
func (c *Client) SendMessage(roomID, text string) error {
	return c.stream.SendMessage(roomID, text)
}

// SendFile uploads a file to a room. The realtime connection cannot carry
// files, so this goes through the web API.
func (c *Client) SendFile(ctx context.Context, roomID, title, filename string, content io.Reader) error {
	return c.stream.Upload(ctx, roomID, title, filename, content)
}

// SendImage uploads an image to a room, titled with its name
func (c *Client) SendImage(ctx context.Context, roomID, title string, content io.Reader) error {
	return c.stream.Upload(ctx, roomID, title, title, content)
}
