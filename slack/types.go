// Package slack implements the realtime client core of the puppet bridge:
// the connection lifecycle, the entity cache with deduplicated on-demand
// fetches, and the event dispatcher that turns raw realtime events into
// normalized notifications for the relay layer.
package slack

// User is a Slack workspace member known to the client
type User struct {
	ID        string
	Name      string
	RealName  string
	AvatarURL string
}

// Channel is a Slack conversation: a channel, a private group or a direct
// message room. For direct rooms, User holds the counterpart user ID.
type Channel struct {
	ID       string
	Name     string
	Topic    string
	Purpose  string
	IsDirect bool
	User     string
}

// Bot is a Slack bot integration
type Bot struct {
	ID      string
	Name    string
	IconURL string
}

// Attachment is the subset of a Slack message attachment that survives
// normalization into plain text
type Attachment struct {
	Pretext    string
	AuthorName string
	AuthorLink string
	Title      string
	TitleLink  string
	Text       string
	Footer     string
	Fields     []AttachmentField
	Actions    []string
}

// AttachmentField is a titled key/value pair inside an attachment
type AttachmentField struct {
	Title string
	Value string
}

// MessagePayload is the normalized message notification handed to the relay
// layer. SenderID is empty for the puppet's own messages so that the relay
// does not echo them back as a foreign user.
type MessagePayload struct {
	RoomID     string
	SenderID   string
	SenderName string
	AvatarURL  string
	Text       string
}

// RenameNotification is emitted when a known channel changes its name
type RenameNotification struct {
	Channel string
	Name    string
}

// TypingNotification is a raw typing-indicator passthrough
type TypingNotification struct {
	Channel string
	User    string
}

// RoomData describes a room for the relay layer's room provisioning
type RoomData struct {
	Name     string
	Topic    string
	IsDirect bool
}

// Listener receives lifecycle and message notifications from the client.
// All methods are called from the client's event loop (message notifications
// from per-message goroutines); implementations must not block for long.
type Listener interface {
	Connected()
	Disconnected()
	Message(payload *MessagePayload)
	Rename(rename *RenameNotification)
	Typing(typing *TypingNotification)
}
