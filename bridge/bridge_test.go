package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kfatehi/matrix-puppet-slack/config"
	"github.com/kfatehi/matrix-puppet-slack/slack"
	"github.com/kfatehi/matrix-puppet-slack/util"
)

const maxWaitTime = 2 * time.Second

type memRelay struct {
	mu       sync.Mutex
	statuses []string
	messages []slack.MessagePayload
	renames  []slack.RenameNotification
	typings  []slack.TypingNotification
}

func (r *memRelay) SendStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *memRelay) SendMessage(payload *slack.MessagePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *payload)
}

func (r *memRelay) SendRename(rename *slack.RenameNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renames = append(r.renames, *rename)
}

func (r *memRelay) SendTyping(typing *slack.TypingNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typings = append(r.typings, *typing)
}

func (r *memRelay) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

func (r *memRelay) Renames() []slack.RenameNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]slack.RenameNotification(nil), r.renames...)
}

func (r *memRelay) Typings() []slack.TypingNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]slack.TypingNotification(nil), r.typings...)
}

func (r *memRelay) hasStatus(prefix string) bool {
	for _, s := range r.Statuses() {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func (r *memRelay) countStatus(prefix string) int {
	n := 0
	for _, s := range r.Statuses() {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

func startTestBridge(t *testing.T) (*Bridge, *slack.MemStream, *memRelay) {
	t.Helper()
	relay := &memRelay{}
	b := New(config.New("mem"), relay)
	b.delay = 50 * time.Millisecond
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Stop)
	return b, b.client.MemStream(), relay
}

func TestBridgeStartReportsConnected(t *testing.T) {
	_, st, relay := startTestBridge(t)
	assert.Equal(t, []string{"connected"}, relay.Statuses())
	assert.Equal(t, 1, st.Connects())
}

func TestBridgeStartFailureReported(t *testing.T) {
	relay := &memRelay{}
	b := New(config.New("mem"), relay)
	b.client.MemStream().FailAuth(errors.New("invalid credentials"))

	err := b.Start(context.Background())
	assert.EqualError(t, err, "invalid credentials")
	assert.Equal(t, []string{"unable to start: invalid credentials"}, relay.Statuses())
	assert.True(t, util.WaitTrue(func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.reconnect == nil
	}, maxWaitTime)) // the caller owns the first-start retry, not the bridge
}

func TestBridgeReconnectsOnceAfterDisconnect(t *testing.T) {
	_, st, relay := startTestBridge(t)

	st.Drop(errors.New("stream gone"))
	assert.True(t, util.WaitTrue(func() bool {
		return relay.hasStatus("disconnected")
	}, maxWaitTime))
	assert.True(t, util.WaitTrue(func() bool {
		return st.Connects() == 2
	}, maxWaitTime))
	assert.True(t, util.WaitTrue(func() bool {
		return relay.countStatus("connected") == 2
	}, maxWaitTime))

	// no retry storm: one disconnect, one reconnect
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, st.Connects())
}

func TestBridgeRetriesAgainWhenReconnectFails(t *testing.T) {
	_, st, relay := startTestBridge(t)

	st.FailAuth(errors.New("token revoked"))
	st.Drop(errors.New("stream gone"))
	assert.True(t, util.WaitTrue(func() bool {
		return relay.countStatus("reconnect failed") >= 2
	}, maxWaitTime))

	st.FailAuth(nil)
	assert.True(t, util.WaitTrue(func() bool {
		return relay.countStatus("connected") == 2
	}, maxWaitTime))
}

func TestBridgeStopCancelsPendingReconnect(t *testing.T) {
	b, st, _ := startTestBridge(t)
	b.delay = 100 * time.Millisecond

	st.Drop(errors.New("stream gone"))
	assert.True(t, util.WaitTrue(func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.reconnect != nil
	}, maxWaitTime))

	b.Stop()
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, st.Connects())
}

func TestBridgeForwardsNotifications(t *testing.T) {
	_, st, relay := startTestBridge(t)

	st.InjectTyping("C1", "U9")
	assert.True(t, util.WaitTrue(func() bool {
		return len(relay.Typings()) == 1
	}, maxWaitTime))
	assert.Equal(t, slack.TypingNotification{Channel: "C1", User: "U9"}, relay.Typings()[0])

	st.InjectChannelJoined(slack.Channel{ID: "C1", Name: "general"})
	st.InjectChannelRename("C1", "general-v2")
	assert.True(t, util.WaitTrue(func() bool {
		return len(relay.Renames()) == 1
	}, maxWaitTime))
	assert.Equal(t, slack.RenameNotification{Channel: "C1", Name: "general-v2"}, relay.Renames()[0])
}
