package bridge

import (
	"github.com/kfatehi/matrix-puppet-slack/slack"
)

// Relay is the outbound boundary to the message-relay framework. All calls
// are best-effort notifications; the relay decides how to surface them.
type Relay interface {
	// SendStatus reports a connection-lifecycle status line
	SendStatus(text string)

	// SendMessage delivers a normalized message to the relayed room
	SendMessage(payload *slack.MessagePayload)

	// SendRename reports a channel display-name change
	SendRename(rename *slack.RenameNotification)

	// SendTyping passes a typing indicator through
	SendTyping(typing *slack.TypingNotification)
}
