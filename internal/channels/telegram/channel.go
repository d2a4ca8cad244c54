// Package telegram implements the Telegram adapter of the Channel Adapter
// Registry (spec §4.2) using long polling against the Bot API.
//
// Grounded on vanducng-goclaw/internal/channels/telegram/channel.go: the
// telego.NewBot/UpdatesViaLongPolling/Stop lifecycle is kept verbatim in
// spirit. Dropped: forum-topic thread routing, streaming-preview message
// editing, status-reaction controllers, pairing-reply debouncing, and the
// group-file-writer/teams command surface — all out of spec scope, and all
// depended on store interfaces (PairingStore/AgentStore/TeamStore) that
// have no equivalent in the new single-tenant store (see DESIGN.md).
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot            *telego.Bot
	config         config.TelegramConfig
	requireMention bool
	pollCancel     context.CancelFunc
	pollDone       chan struct{}
}

// New creates a Telegram channel from config.
func New(cfg config.TelegramConfig, router bus.MessageRouter) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	base := channels.NewBaseChannel("telegram", router, cfg.AllowFrom)

	return &Channel{
		BaseChannel:    base,
		bot:            bot,
		config:         cfg,
		requireMention: requireMention,
	}, nil
}

// ChatTypeRoutes reports Telegram's two conversation kinds (spec §4.2).
func (c *Channel) ChatTypeRoutes() []channels.ChatTypeRoute {
	return []channels.ChatTypeRoute{
		{ChatTypeTag: "telegram:private", Kind: channels.Private},
		{ChatTypeTag: "telegram:group", Kind: channels.Group},
		{ChatTypeTag: "telegram:supergroup", Kind: channels.Group},
	}
}

// MaxMessageBytes is Telegram's 4096-UTF16-code-unit message cap, treated
// conservatively as a byte cap (spec §6).
func (c *Channel) MaxMessageBytes() int { return channels.MaxBytesTelegram }

// SendText sends one already-split chunk of text to a chat.
func (c *Channel) SendText(ctx context.Context, externalChatID, text string) error {
	chatID, err := strconv.ParseInt(externalChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", externalChatID, err)
	}
	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit,
// releasing Telegram's getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// handleMessage translates a telego.Message into a bus.InboundMessage and
// publishes it through BaseChannel.Publish.
func (c *Channel) handleMessage(msg *telego.Message) {
	if msg.Text == "" && msg.Caption == "" && len(msg.Photo) == 0 && msg.Document == nil {
		return
	}

	body := msg.Text
	if body == "" {
		body = msg.Caption
	}

	chatType := "telegram:private"
	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"
	if isGroup {
		chatType = "telegram:group"
	}

	senderDisplay := ""
	senderID := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		senderDisplay = msg.From.Username
		if senderDisplay == "" {
			senderDisplay = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
	}

	mentioned := !isGroup || !c.requireMention || c.detectMention(msg)

	c.Publish(bus.InboundMessage{
		ExternalChatID:      strconv.FormatInt(msg.Chat.ID, 10),
		SenderDisplay:       senderDisplay,
		BodyText:            body,
		TransportMessageID:  strconv.Itoa(msg.MessageID) + ":" + strconv.FormatInt(msg.Chat.ID, 10),
		Attachments:         c.resolveAttachments(msg),
		IsDirectMessage:     !isGroup,
		IsBotMentioned:      mentioned,
		ChatTitle:           msg.Chat.Title,
		ChatType:            chatType,
		Metadata:            map[string]string{"sender_id": senderID},
	})
}

// detectMention reports whether the bot's @username appears as a substring
// of the message text or caption, or the message replies to a bot's
// message (spec §4.2 group mention gating).
func (c *Channel) detectMention(msg *telego.Message) bool {
	botUsername := strings.ToLower(c.bot.Username())
	if botUsername == "" {
		return false
	}
	if msg.Text != "" && strings.Contains(strings.ToLower(msg.Text), "@"+botUsername) {
		return true
	}
	if msg.Caption != "" && strings.Contains(strings.ToLower(msg.Caption), "@"+botUsername) {
		return true
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.IsBot {
		return true
	}
	return false
}

// resolveAttachments extracts file references (photos, documents) as
// bus.Attachment, with the Telegram file id in URL; the ingress pipeline
// derives an upload path for each but does not fetch the bytes.
func (c *Channel) resolveAttachments(msg *telego.Message) []bus.Attachment {
	var atts []bus.Attachment
	if n := len(msg.Photo); n > 0 {
		largest := msg.Photo[n-1]
		atts = append(atts, bus.Attachment{URL: largest.FileID, FileName: "photo.jpg", ContentType: "image/jpeg"})
	}
	if msg.Document != nil {
		atts = append(atts, bus.Attachment{URL: msg.Document.FileID, FileName: msg.Document.FileName, ContentType: msg.Document.MIMEType})
	}
	return atts
}
