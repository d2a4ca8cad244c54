// Package discord implements the Discord adapter of the Channel Adapter
// Registry (spec §4.2) using discordgo's gateway event stream.
//
// Grounded on vanducng-goclaw/internal/channels/discord/discord.go: the
// session construction and intents are kept; chunking is done by the
// shared channels.SplitText before SendText is called. Dropped:
// placeholder "Thinking..." message editing, per-channel typing-indicator
// controllers, pending-group-history annotation, and the pairing-debounce
// DM flow — all depended on a `store.PairingStore`/`internal/channels/typing`
// package that has no equivalent in the new single-tenant store (C1), and
// none are named by SPEC_FULL.md's channel contract.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session        *discordgo.Session
	config         config.DiscordConfig
	botUserID      string
	requireMention bool
}

// New creates a Discord channel from config.
func New(cfg config.DiscordConfig, router bus.MessageRouter) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	base := channels.NewBaseChannel("discord", router, cfg.AllowFrom)

	ch := &Channel{
		BaseChannel:    base,
		session:        session,
		config:         cfg,
		requireMention: requireMention,
	}
	session.AddHandler(ch.handleMessage)
	return ch, nil
}

// ChatTypeRoutes reports Discord's two conversation kinds (spec §4.2).
func (c *Channel) ChatTypeRoutes() []channels.ChatTypeRoute {
	return []channels.ChatTypeRoute{
		{ChatTypeTag: "discord:private", Kind: channels.Private},
		{ChatTypeTag: "discord:group", Kind: channels.Group},
	}
}

// MaxMessageBytes is Discord's 2000-character message cap (spec §6).
func (c *Channel) MaxMessageBytes() int { return channels.MaxBytesDiscord }

// SendText delivers one already-split chunk of text to a channel.
func (c *Channel) SendText(_ context.Context, externalChatID, text string) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	_, err := c.session.ChannelMessageSend(externalChatID, text)
	return err
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// handleMessage translates a discordgo.MessageCreate into a
// bus.InboundMessage and publishes it through BaseChannel.Publish.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	isDM := m.GuildID == ""
	chatType := "discord:private"
	if !isDM {
		chatType = "discord:group"
	}

	content := m.Content
	var atts []bus.Attachment
	for _, att := range m.Attachments {
		atts = append(atts, bus.Attachment{URL: att.URL, FileName: att.Filename, ContentType: att.ContentType})
	}

	mentioned := isDM || !c.requireMention
	if !mentioned {
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
	}

	c.Publish(bus.InboundMessage{
		ExternalChatID:     m.ChannelID,
		SenderDisplay:      resolveDisplayName(m),
		BodyText:           content,
		TransportMessageID: m.ID + ":" + m.ChannelID,
		Attachments:        atts,
		IsDirectMessage:    isDM,
		IsBotMentioned:     mentioned,
		ChatType:           chatType,
		Metadata:           map[string]string{"sender_id": m.Author.ID, "guild_id": m.GuildID},
	})
}

// resolveDisplayName returns the best available display name for a Discord
// message author: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
