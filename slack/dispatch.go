package slack

import (
	"context"
	"log"
	"strings"
)

// selfBotUser is Slack's built-in bot pseudo-user; it carries its profile
// inline with the message instead of resolving like a normal user
const selfBotUser = "USLACKBOT"

// handleEvent applies one raw event in arrival order. Entity updates mutate
// the store directly and never block on network I/O; only the message path
// resolves on demand, and it hands off to the single forward loop so that
// messages reach the listener in the order they arrived.
func (c *Client) handleEvent(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case *channelJoinedEvent:
		c.store.InsertChannelIfAbsent(ev.Channel)
	case *channelRenamedEvent:
		c.store.RenameChannel(ev.ID, ev.Name)
	case *userChangedEvent:
		c.store.UpsertUser(ev.User)
	case *botChangedEvent:
		c.store.UpsertBot(ev.Bot)
	case *typingEvent:
		c.listener.Typing(&TypingNotification{Channel: ev.Channel, User: ev.User})
	case *messageEvent:
		c.mu.Lock()
		armed, messages := c.armed, c.messages
		c.mu.Unlock()
		if !armed {
			return // still settling after connect
		}
		select {
		case messages <- ev:
		case <-ctx.Done():
		}
	default:
		// Ignore other events
	}
}

func (c *Client) forwardMessage(ctx context.Context, ev *messageEvent) {
	if ev.SubType == "message_changed" {
		payload := c.buildPayload(ctx, ev.Channel, ev.SubUser, "", "")
		payload.Text = "Edit: " + ev.SubText
		c.listener.Message(payload)
		return
	}
	if ev.FileName != "" {
		payload := c.buildPayload(ctx, ev.Channel, ev.User, ev.BotID, ev.Username)
		payload.Text = ev.FileName
		c.listener.Message(payload)
		if ev.FileComment != "" {
			comment := c.buildPayload(ctx, ev.Channel, ev.User, ev.BotID, ev.Username)
			comment.Text = normalizeText(ev.FileComment, ev.Attachments)
			c.listener.Message(comment)
		}
		return
	}
	payload := c.buildPayload(ctx, ev.Channel, ev.User, ev.BotID, ev.Username)
	payload.Text = normalizeText(ev.Text, ev.Attachments)
	c.listener.Message(payload)
}

// buildPayload attaches resolved sender metadata to an outbound message.
// Resolution failures degrade to the sender name "unknown"; they never fail
// the message.
func (c *Client) buildPayload(ctx context.Context, channel, user, botID, username string) *MessagePayload {
	payload := &MessagePayload{RoomID: channel}
	switch {
	case user == selfBotUser:
		payload.SenderID = user
		payload.SenderName = username
		if payload.SenderName == "" {
			payload.SenderName = "unknown"
		}
	case user != "":
		if user != c.SelfUserID() {
			payload.SenderID = user
		}
		if resolved := c.resolver.UserByID(ctx, user); resolved != nil {
			payload.SenderName = resolved.Name
			payload.AvatarURL = resolved.AvatarURL
		} else {
			payload.SenderName = "unknown"
		}
	case botID != "":
		bot := c.resolver.BotByID(ctx, botID)
		payload.SenderID = botID
		payload.SenderName = bot.Name
		payload.AvatarURL = bot.IconURL
	}
	return payload
}

// normalizeText flattens a message's attachments into plain text lines
// appended to the body. If flattening goes wrong the raw text is delivered
// as-is; the message is never dropped.
func normalizeText(text string, attachments []Attachment) (normalized string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("slack: could not normalize message: %v", r)
			normalized = text
		}
	}()
	messages := []string{text}
	for _, att := range attachments {
		if att.Pretext != "" {
			messages = append(messages, att.Pretext)
		}
		var lines []string
		if att.AuthorName != "" {
			if att.AuthorLink != "" {
				lines = append(lines, "["+att.AuthorName+"]("+att.AuthorLink+")")
			} else {
				lines = append(lines, att.AuthorName)
			}
		}
		if att.Title != "" {
			if att.TitleLink != "" {
				lines = append(lines, "*["+att.Title+"]("+att.TitleLink+")*")
			} else {
				lines = append(lines, "*"+att.Title+"*")
			}
		}
		if att.Text != "" {
			lines = append(lines, att.Text)
		}
		for _, field := range att.Fields {
			if field.Title != "" {
				lines = append(lines, "*"+field.Title+"*")
			}
			if field.Value != "" {
				lines = append(lines, field.Value)
			}
		}
		if len(att.Actions) > 0 {
			actions := make([]string, 0, len(att.Actions))
			for _, action := range att.Actions {
				actions = append(actions, "["+action+"]")
			}
			lines = append(lines, "Actions (Unsupported): "+strings.Join(actions, " "))
		}
		if att.Footer != "" {
			lines = append(lines, "_"+att.Footer+"_")
		}
		for _, line := range lines {
			messages = append(messages, "● "+line)
		}
	}
	var kept []string
	for _, m := range messages {
		if m = strings.TrimSpace(m); m != "" {
			kept = append(kept, m)
		}
	}
	return strings.Join(kept, "\n")
}
