// Package bridge embeds the realtime client into a message-relay
// application: it forwards normalized notifications to the relay layer and
// owns the reconnect policy.
package bridge

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/kfatehi/matrix-puppet-slack/config"
	"github.com/kfatehi/matrix-puppet-slack/slack"
)

// reconnectDelay is the fixed interval between a disconnect and the single
// scheduled retry. Deliberately not exponential backoff; a failed retry
// schedules the next one at the same interval.
const reconnectDelay = time.Minute

// Bridge connects one Slack account to one relay. It implements
// slack.Listener and translates lifecycle transitions into relay status
// messages and reconnect attempts.
type Bridge struct {
	conf   *config.Config
	relay  Relay
	client *slack.Client

	mu        sync.Mutex
	ctx       context.Context
	reconnect *time.Timer
	delay     time.Duration
	stopped   bool
}

// New creates a bridge for the given account and relay
func New(conf *config.Config, relay Relay) *Bridge {
	b := &Bridge{
		conf:  conf,
		relay: relay,
		delay: reconnectDelay,
	}
	b.client = slack.NewClient(conf, b)
	return b
}

// Start connects the client and blocks until it is ready. A handshake
// failure is reported to the relay and returned; the caller decides whether
// to retry. Later disconnects reconnect automatically.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.stopped = false
	b.mu.Unlock()
	if err := b.client.Start(ctx); err != nil {
		b.relay.SendStatus("unable to start: " + err.Error())
		return err
	}
	return nil
}

// Stop cancels any pending reconnect and tears down the connection
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopped = true
	if b.reconnect != nil {
		b.reconnect.Stop()
		b.reconnect = nil
	}
	b.mu.Unlock()
	b.client.Stop()
}

// Connected implements slack.Listener
func (b *Bridge) Connected() {
	b.relay.SendStatus("connected")
}

// Disconnected implements slack.Listener; it schedules exactly one retry
func (b *Bridge) Disconnected() {
	b.relay.SendStatus("disconnected. will try to reconnect in a minute...")
	b.scheduleReconnect()
}

// Message implements slack.Listener
func (b *Bridge) Message(payload *slack.MessagePayload) {
	b.relay.SendMessage(payload)
}

// Rename implements slack.Listener
func (b *Bridge) Rename(rename *slack.RenameNotification) {
	b.relay.SendRename(rename)
}

// Typing implements slack.Listener
func (b *Bridge) Typing(typing *slack.TypingNotification) {
	b.relay.SendTyping(typing)
}

func (b *Bridge) scheduleReconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || b.reconnect != nil {
		return // at most one scheduled retry per disconnect
	}
	b.reconnect = time.AfterFunc(b.delay, b.retry)
}

func (b *Bridge) retry() {
	b.mu.Lock()
	b.reconnect = nil
	stopped := b.stopped
	ctx := b.ctx
	b.mu.Unlock()
	if stopped {
		return
	}
	if err := b.client.Start(ctx); err != nil {
		b.relay.SendStatus("reconnect failed: " + err.Error())
		b.scheduleReconnect()
	}
}

// SendMessage sends text to a Slack room on behalf of the puppet
func (b *Bridge) SendMessage(roomID, text string) error {
	return b.client.SendMessage(roomID, text)
}

// SendFile uploads a file to a Slack room
func (b *Bridge) SendFile(ctx context.Context, roomID, title, filename string, content io.Reader) error {
	return b.client.SendFile(ctx, roomID, title, filename, content)
}

// SendImage uploads an image to a Slack room
func (b *Bridge) SendImage(ctx context.Context, roomID, title string, content io.Reader) error {
	return b.client.SendImage(ctx, roomID, title, content)
}

// RoomData returns display metadata for a room, for relay-side provisioning
func (b *Bridge) RoomData(ctx context.Context, id string) (*slack.RoomData, error) {
	return b.client.RoomData(ctx, id)
}

// UserData resolves a user for relay-side profile provisioning. The returned
// user is nil if the account cannot be resolved.
func (b *Bridge) UserData(ctx context.Context, id string) *slack.User {
	return b.client.UserByID(ctx, id)
}
