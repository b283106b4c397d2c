package slack

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/slack-go/slack"
)

// slackStream is the real remote-platform boundary: a slack-go RTM
// connection for the event stream and outbound text, and the web API for
// point queries and file uploads. It implements both stream and fetcher.
type slackStream struct {
	token string
	debug bool
	mu    sync.RWMutex
	api   *slack.Client
	rtm   *slack.RTM
}

func newSlackStream(token string, debug bool) *slackStream {
	return &slackStream{
		token: token,
		debug: debug,
	}
}

func (s *slackStream) Connect(ctx context.Context) (<-chan event, error) {
	s.mu.Lock()
	s.api = slack.New(s.token, slack.OptionDebug(s.debug))
	s.rtm = s.api.NewRTM()
	rtm := s.rtm
	s.mu.Unlock()
	go rtm.ManageConnection()
	events := make(chan event)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				_ = rtm.Disconnect()
				return
			case raw, ok := <-rtm.IncomingEvents:
				if !ok {
					return
				}
				translated, terminal := s.translate(raw)
				for _, ev := range translated {
					select {
					case events <- ev:
					case <-ctx.Done():
						_ = rtm.Disconnect()
						return
					}
				}
				if terminal {
					_ = rtm.Disconnect()
					return
				}
			}
		}
	}()
	return events, nil
}

func (s *slackStream) SendMessage(roomID, text string) error {
	s.mu.RLock()
	rtm := s.rtm
	s.mu.RUnlock()
	if rtm == nil {
		return errors.New("not connected")
	}
	rtm.SendMessage(rtm.NewOutgoingMessage(text, roomID))
	return nil
}

func (s *slackStream) Upload(ctx context.Context, roomID, title, filename string, content io.Reader) error {
	s.mu.RLock()
	api := s.api
	s.mu.RUnlock()
	if api == nil {
		return errors.New("not connected")
	}
	_, err := api.UploadFileContext(ctx, slack.FileUploadParameters{
		Reader:   content,
		Filename: filename,
		Title:    title,
		Filetype: "auto",
		Channels: []string{roomID},
	})
	return err
}

func (s *slackStream) Close() error {
	s.mu.Lock()
	rtm := s.rtm
	s.rtm = nil
	s.mu.Unlock()
	if rtm == nil {
		return nil
	}
	return rtm.Disconnect()
}

// translate maps one raw RTM event to internal events. The second return is
// true when the stream is dead and the pump must stop: the client owns
// reconnect policy, so a dropped connection is surfaced instead of letting
// the RTM manager quietly redial.
func (s *slackStream) translate(raw slack.RTMEvent) ([]event, bool) {
	switch ev := raw.Data.(type) {
	case *slack.ConnectedEvent:
		auth := &authenticatedEvent{}
		if ev.Info != nil {
			if ev.Info.User != nil {
				auth.Self = User{ID: ev.Info.User.ID, Name: ev.Info.User.Name}
			}
			if ev.Info.Team != nil {
				auth.Team = ev.Info.Team.Name
			}
		}
		return []event{auth, &readyEvent{}}, false
	case *slack.InvalidAuthEvent:
		return []event{&fatalEvent{Err: errors.New("invalid credentials")}}, true
	case *slack.DisconnectedEvent:
		if ev.Intentional {
			return nil, true
		}
		return []event{&disconnectedEvent{Err: ev.Cause}}, true
	case *slack.RTMError:
		log.Printf("slack: rtm error: %s", ev.Error())
		return nil, false
	case *slack.ConnectionErrorEvent:
		log.Printf("slack: connection error: %s", ev.Error())
		return nil, false
	case *slack.LatencyReport:
		log.Printf("slack: current latency: %v", ev.Value)
		return nil, false
	case *slack.MessageEvent:
		return []event{translateMessage(ev)}, false
	case *slack.ChannelJoinedEvent:
		return []event{&channelJoinedEvent{Channel: channelFromSlack(ev.Channel)}}, false
	case *slack.GroupJoinedEvent:
		return []event{&channelJoinedEvent{Channel: channelFromSlack(ev.Channel)}}, false
	case *slack.IMCreatedEvent:
		return []event{&channelJoinedEvent{Channel: Channel{
			ID:       ev.Channel.ID,
			Name:     ev.Channel.Name,
			IsDirect: true,
			User:     ev.User,
		}}}, false
	case *slack.ChannelRenameEvent:
		return []event{&channelRenamedEvent{ID: ev.Channel.ID, Name: ev.Channel.Name}}, false
	case *slack.TeamJoinEvent:
		return []event{&userChangedEvent{User: userFromSlack(ev.User)}}, false
	case *slack.UserChangeEvent:
		return []event{&userChangedEvent{User: userFromSlack(ev.User)}}, false
	case *slack.BotAddedEvent:
		return []event{&botChangedEvent{Bot: botFromSlack(ev.Bot)}}, false
	case *slack.BotChangedEvent:
		return []event{&botChangedEvent{Bot: botFromSlack(ev.Bot)}}, false
	case *slack.UserTypingEvent:
		return []event{&typingEvent{Channel: ev.Channel, User: ev.User}}, false
	default:
		return nil, false // Ignore other events
	}
}

func translateMessage(ev *slack.MessageEvent) *messageEvent {
	// Msg carries only the inline display name, not the user_profile block,
	// so USLACKBOT messages come through without an avatar
	msg := &messageEvent{
		Channel:  ev.Channel,
		User:     ev.User,
		Text:     ev.Text,
		SubType:  ev.SubType,
		BotID:    ev.BotID,
		Username: ev.Username,
	}
	if ev.SubMessage != nil {
		msg.SubUser = ev.SubMessage.User
		msg.SubText = ev.SubMessage.Text
	}
	if len(ev.Files) > 0 {
		msg.FileName = ev.Files[0].Name
		msg.FileComment = ev.Files[0].InitialComment.Comment
	}
	for _, att := range ev.Attachments {
		msg.Attachments = append(msg.Attachments, attachmentFromSlack(att))
	}
	return msg
}

func userFromSlack(user slack.User) User {
	return User{
		ID:        user.ID,
		Name:      user.Name,
		RealName:  user.RealName,
		AvatarURL: user.Profile.Image512,
	}
}

func channelFromSlack(channel slack.Channel) Channel {
	return Channel{
		ID:       channel.ID,
		Name:     channel.Name,
		Topic:    channel.Topic.Value,
		Purpose:  channel.Purpose.Value,
		IsDirect: channel.IsIM,
		User:     channel.User,
	}
}

func botFromSlack(bot slack.Bot) Bot {
	return Bot{
		ID:      bot.ID,
		Name:    bot.Name,
		IconURL: bot.Icons.Image72,
	}
}

func attachmentFromSlack(att slack.Attachment) Attachment {
	a := Attachment{
		Pretext:    att.Pretext,
		AuthorName: att.AuthorName,
		AuthorLink: att.AuthorLink,
		Title:      att.Title,
		TitleLink:  att.TitleLink,
		Text:       att.Text,
		Footer:     att.Footer,
	}
	for _, field := range att.Fields {
		a.Fields = append(a.Fields, AttachmentField{Title: field.Title, Value: field.Value})
	}
	for _, action := range att.Actions {
		a.Actions = append(a.Actions, action.Text)
	}
	return a
}

// FetchUser looks up a single user through the web API
func (s *slackStream) FetchUser(ctx context.Context, id string) (*User, error) {
	api, err := s.webAPI()
	if err != nil {
		return nil, err
	}
	info, err := api.GetUserInfoContext(ctx, id)
	if err != nil {
		return nil, err
	}
	user := userFromSlack(*info)
	return &user, nil
}

// FetchBot looks up a single bot through the web API
func (s *slackStream) FetchBot(ctx context.Context, id string) (*Bot, error) {
	api, err := s.webAPI()
	if err != nil {
		return nil, err
	}
	info, err := api.GetBotInfoContext(ctx, id)
	if err != nil {
		return nil, err
	}
	bot := botFromSlack(*info)
	return &bot, nil
}

// FetchChannel looks up a single conversation through the web API
func (s *slackStream) FetchChannel(ctx context.Context, id string) (*Channel, error) {
	api, err := s.webAPI()
	if err != nil {
		return nil, err
	}
	info, err := api.GetConversationInfoContext(ctx, id, false)
	if err != nil {
		return nil, err
	}
	channel := channelFromSlack(*info)
	return &channel, nil
}

func (s *slackStream) webAPI() (*slack.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.api == nil {
		return nil, errors.New("not connected")
	}
	return s.api, nil
}
