package slack

import (
	"context"
	"io"
)

type event interface{}

// authenticatedEvent carries the session identity and any initial entity
// snapshot the stream delivers during the handshake
type authenticatedEvent struct {
	Self     User
	Team     string
	Users    []User
	Channels []Channel
	Bots     []Bot
}

// readyEvent signals that the stream will now deliver real messages
type readyEvent struct{}

// disconnectedEvent signals a terminal stream failure or server-initiated
// disconnect; the stream is dead after this
type disconnectedEvent struct {
	Err error
}

// fatalEvent signals an unrecoverable handshake failure
type fatalEvent struct {
	Err error
}

type messageEvent struct {
	Channel     string
	User        string
	Text        string
	SubType     string
	BotID       string
	Username    string // embedded display name for USLACKBOT/bot messages
	SubUser     string // sender of the edited message (message_changed)
	SubText     string // new text of the edited message (message_changed)
	FileName    string
	FileComment string
	Attachments []Attachment
}

type channelJoinedEvent struct {
	Channel Channel
}

type channelRenamedEvent struct {
	ID   string
	Name string
}

type userChangedEvent struct {
	User User
}

type botChangedEvent struct {
	Bot Bot
}

type typingEvent struct {
	Channel string
	User    string
}

// stream is the realtime event source plus the outbound send path. Connect
// may be called again after the previous event channel has been closed; each
// call establishes a fresh connection.
type stream interface {
	Connect(ctx context.Context) (<-chan event, error)
	SendMessage(roomID, text string) error
	Upload(ctx context.Context, roomID, title, filename string, content io.Reader) error
	Close() error
}
