// Package channels implements the Channel Adapter Registry (spec §4.2):
// a uniform capability contract over Telegram, Discord, Slack, Feishu,
// Matrix, IRC, WhatsApp, Email, Signal, QQ, iMessage, DingTalk, Nostr and
// any webhook-only channel, plus the ingress pipeline and the per-channel
// text splitter.
//
// Adapted from the teacher's internal/channels package: DM/Group policy
// names and BaseChannel's allowlist matching are kept, re-pointed at the
// new bus.InboundMessage shape.
package channels

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
)

// ConversationKind is spec §4.2's chat_type_routes() tag.
type ConversationKind string

const (
	Private ConversationKind = "private"
	Group   ConversationKind = "group"
)

// DMPolicy controls how direct messages from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"
	DMPolicyAllowlist DMPolicy = "allowlist"
	DMPolicyOpen      DMPolicy = "open"
	DMPolicyDisabled  DMPolicy = "disabled"
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"
	GroupPolicyAllowlist GroupPolicy = "allowlist"
	GroupPolicyDisabled  GroupPolicy = "disabled"
)

// ChatTypeRoute pairs a channel's own chat-type tag with the
// ConversationKind it maps to (spec §4.2 chat_type_routes()).
type ChatTypeRoute struct {
	ChatTypeTag string
	Kind        ConversationKind
}

// Channel is the capability contract every adapter satisfies (spec §4.2).
type Channel interface {
	Name() string
	ChatTypeRoutes() []ChatTypeRoute
	SendText(ctx context.Context, externalChatID, text string) error
	MaxMessageBytes() int

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// AttachmentSender is the optional send_attachment capability (spec §4.2).
type AttachmentSender interface {
	SendAttachment(ctx context.Context, externalChatID string, att bus.MediaAttachment) error
}

// BaseChannel provides the allowlist/policy logic shared by every adapter.
// Concrete adapters embed this and implement the transport-specific half
// of the Channel interface themselves.
type BaseChannel struct {
	name      string
	router    bus.MessageRouter
	running   bool
	allowList []string
}

// NewBaseChannel constructs a BaseChannel bound to a name, router and
// static allowlist (empty allowlist = accept everyone, subject to policy).
func NewBaseChannel(name string, router bus.MessageRouter, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, router: router, allowList: allowList}
}

func (c *BaseChannel) Name() string             { return c.name }
func (c *BaseChannel) IsRunning() bool           { return c.running }
func (c *BaseChannel) SetRunning(running bool)   { c.running = running }
func (c *BaseChannel) Router() bus.MessageRouter { return c.router }
func (c *BaseChannel) HasAllowList() bool        { return len(c.allowList) > 0 }

// IsAllowed checks a sender against the static allowlist. Supports the
// compound "id|username" senderID form so either side can match.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	idPart, userPart := splitCompoundID(senderID)
	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID, allowedUser := splitCompoundID(trimmed)
		if senderID == allowed || idPart == allowed ||
			senderID == trimmed || idPart == trimmed || idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}
	return false
}

func splitCompoundID(s string) (id, user string) {
	if idx := strings.IndexByte(s, '|'); idx > 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// CheckPolicy evaluates the DM/Group policy for a message (spec §4.2's
// "DM/Group Policy (pairing/allowlist/open/disabled)"). Pairing is
// resolved upstream by a pairing service before ingestion ever reaches
// here; if a message arrives unpaired this falls back to the allowlist.
func (c *BaseChannel) CheckPolicy(kind ConversationKind, dmPolicy DMPolicy, groupPolicy GroupPolicy, senderID string) bool {
	var policy string
	if kind == Group {
		policy = string(groupPolicy)
	} else {
		policy = string(dmPolicy)
	}
	switch policy {
	case "", string(DMPolicyOpen):
		return true
	case string(DMPolicyDisabled):
		return false
	case string(DMPolicyAllowlist):
		return c.IsAllowed(senderID)
	case string(DMPolicyPairing):
		return c.IsAllowed(senderID)
	default:
		return true
	}
}

// Publish forwards a parsed InboundMessage to the message router. Callers
// (concrete adapters) build the InboundMessage from the transport's
// native event shape.
func (c *BaseChannel) Publish(msg bus.InboundMessage) {
	if !c.IsAllowed(msg.SenderDisplay) {
		return
	}
	msg.Channel = c.name
	c.router.PublishInbound(msg)
}
