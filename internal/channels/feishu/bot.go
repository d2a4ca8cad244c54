package feishu

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
)

// mentionInfo describes one @-mention inside a Feishu message's content.
type mentionInfo struct {
	Key    string // @_user_N placeholder
	OpenID string
	Name   string
}

// messageContext holds parsed information from a Feishu message event.
type messageContext struct {
	ChatID       string
	MessageID    string
	SenderID     string // sender_id.open_id
	ChatType     string // "p2p" or "group"
	Content      string
	ContentType  string // "text", "post", "image", etc.
	MentionedBot bool
	RootID       string
	ParentID     string
	Mentions     []mentionInfo
}

// handleMessageEvent parses and publishes an incoming Feishu message event.
func (c *Channel) handleMessageEvent(ctx context.Context, event *MessageEvent) {
	if event == nil {
		return
	}

	messageID := event.Event.Message.MessageID
	if messageID == "" {
		return
	}
	if c.isDuplicate(messageID) {
		slog.Debug("feishu message deduplicated", "message_id", messageID)
		return
	}

	mc := c.parseMessageEvent(event)
	if mc == nil {
		return
	}

	senderName := c.resolveSenderName(ctx, mc.SenderID)

	isGroup := mc.ChatType == "group"
	chatType := "feishu:private"
	if isGroup {
		chatType = "feishu:group"
	}

	content := mc.Content
	if content == "" {
		content = "[empty message]"
	}

	mentioned := !isGroup || !c.requireMention || mc.MentionedBot

	c.Publish(bus.InboundMessage{
		ExternalChatID:     mc.ChatID,
		SenderDisplay:      senderName,
		BodyText:           content,
		TransportMessageID: messageID,
		IsDirectMessage:    !isGroup,
		IsBotMentioned:     mentioned,
		ChatType:           chatType,
		Metadata:           map[string]string{"sender_id": mc.SenderID, "content_type": mc.ContentType},
	})
}

// resolveSenderName fetches and caches the display name for an open_id.
func (c *Channel) resolveSenderName(ctx context.Context, openID string) string {
	if openID == "" {
		return ""
	}
	if entry, ok := c.senderCache.Load(openID); ok {
		e := entry.(*senderCacheEntry)
		if time.Now().Before(e.expiresAt) {
			return e.name
		}
		c.senderCache.Delete(openID)
	}

	name, err := c.client.GetUser(ctx, openID, "open_id")
	if err != nil {
		slog.Debug("feishu fetch sender name failed", "open_id", openID, "error", err)
		return ""
	}
	if name != "" {
		c.senderCache.Store(openID, &senderCacheEntry{name: name, expiresAt: time.Now().Add(senderCacheTTL)})
	}
	return name
}
