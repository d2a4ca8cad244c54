// Package slack implements the Slack adapter of the Channel Adapter
// Registry (spec §4.2) over Socket Mode, avoiding any public HTTP
// endpoint for event delivery.
//
// Not grounded on vanducng-goclaw (Slack is not one of its channels);
// built from slack-go/slack's documented socketmode.Client usage, the
// same dependency the pack introduces via Qefaraki-picoclaw/go.mod, in
// the idiom established by the teacher's other adapters (BaseChannel
// embedding, policy/allowlist gating, chunked sends).
package slack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

// Channel connects to Slack via Socket Mode.
type Channel struct {
	*channels.BaseChannel
	api            *slack.Client
	client         *socketmode.Client
	config         config.SlackConfig
	requireMention bool
	botUserID      string
	cancel         context.CancelFunc
	done           chan struct{}
}

// New creates a Slack channel from config.
func New(cfg config.SlackConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack bot_token and app_token are required")
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	client := socketmode.New(api)

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("slack", router, cfg.AllowFrom),
		api:            api,
		client:         client,
		config:         cfg,
		requireMention: requireMention,
	}, nil
}

// ChatTypeRoutes reports Slack's two conversation kinds (spec §4.2).
func (c *Channel) ChatTypeRoutes() []channels.ChatTypeRoute {
	return []channels.ChatTypeRoute{
		{ChatTypeTag: "slack:private", Kind: channels.Private},
		{ChatTypeTag: "slack:group", Kind: channels.Group},
	}
}

// MaxMessageBytes is Slack's conservative per-message cap (spec §6).
func (c *Channel) MaxMessageBytes() int { return channels.MaxBytesSlack }

// SendText posts one already-split chunk to a channel or DM.
func (c *Channel) SendText(_ context.Context, externalChatID, text string) error {
	_, _, err := c.api.PostMessage(externalChatID, slack.MsgOptionText(text, false))
	return err
}

// Start connects the Socket Mode client and begins dispatching events.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting slack bot (socket mode)")

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for evt := range c.client.Events {
			c.handleEvent(evt)
		}
	}()

	go func() {
		if err := c.client.RunContext(runCtx); err != nil {
			slog.Error("slack socket mode run exited", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("slack bot connected", "user_id", auth.UserID, "team", auth.Team)
	return nil
}

// Stop cancels the Socket Mode connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping slack bot")
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Channel) handleEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if evt.Request != nil {
		c.client.Ack(*evt.Request)
	}

	switch eventsAPIEvent.Type {
	case slackevents.CallbackEvent:
		switch inner := eventsAPIEvent.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			c.handleMessageEvent(inner)
		case *slackevents.AppMentionEvent:
			c.handleAppMention(inner)
		}
	}
}

func (c *Channel) handleMessageEvent(ev *slackevents.MessageEvent) {
	if ev.User == "" || ev.User == c.botUserID || ev.BotID != "" {
		return
	}
	if ev.SubType != "" {
		return // edits, joins, etc.
	}

	isDM := ev.ChannelType == "im"
	chatType := "slack:group"
	if isDM {
		chatType = "slack:private"
	}

	mentioned := isDM || !c.requireMention
	c.publishMessage(ev.Channel, ev.User, ev.Text, ev.TimeStamp, isDM, mentioned, chatType)
}

func (c *Channel) handleAppMention(ev *slackevents.AppMentionEvent) {
	c.publishMessage(ev.Channel, ev.User, ev.Text, ev.TimeStamp, false, true, "slack:group")
}

func (c *Channel) publishMessage(channelID, userID, text, ts string, isDM, mentioned bool, chatType string) {
	c.Publish(bus.InboundMessage{
		ExternalChatID:     channelID,
		SenderDisplay:      c.resolveDisplayName(userID),
		BodyText:           text,
		TransportMessageID: ts + ":" + channelID,
		IsDirectMessage:    isDM,
		IsBotMentioned:     mentioned,
		ChatType:           chatType,
		Metadata:           map[string]string{"sender_id": userID},
	})
}

func (c *Channel) resolveDisplayName(userID string) string {
	user, err := c.api.GetUserInfo(userID)
	if err != nil || user == nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.Name
}
