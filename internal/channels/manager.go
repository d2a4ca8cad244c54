package channels

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// Manager owns every registered adapter's lifecycle and the outbound
// dispatch loop that splits and routes replies to the right channel.
// Grounded on vanducng-goclaw/internal/channels/manager.go, trimmed of
// its StreamingChannel/ReactionChannel/RunContext machinery (spec.md has
// no per-channel streaming-edit or emoji-reaction requirement; the
// event_sink of spec §4.3 is consumed by internal/observability instead).
type Manager struct {
	registry *Registry
	router   bus.MessageRouter
	store    *store.Store
	cancel   context.CancelFunc
}

// NewManager builds a Manager over an already-populated Registry.
func NewManager(registry *Registry, router bus.MessageRouter, st *store.Store) *Manager {
	return &Manager{registry: registry, router: router, store: st}
}

// StartAll starts every registered adapter and the outbound dispatcher.
// The dispatcher always runs, even with zero adapters registered yet.
func (m *Manager) StartAll(ctx context.Context) error {
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.dispatchOutbound(dispatchCtx)

	if err := m.registry.StartAll(ctx); err != nil {
		return err
	}
	slog.Info("all channels started", "count", len(m.registry.All()))
	return nil
}

// StopAll stops the outbound dispatcher then every adapter.
func (m *Manager) StopAll(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	for _, err := range m.registry.StopAll(ctx) {
		slog.Error("error stopping channel", "error", err)
	}
}

// dispatchOutbound consumes OutboundMessages and routes them to the
// adapter named by msg.Channel, splitting text at that channel's byte cap.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Info("outbound dispatcher started")
	for {
		msg, ok := m.router.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}
		m.deliver(ctx, msg)
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) {
	ch, ok := m.registry.ByName(msg.Channel)
	if !ok {
		slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
		return
	}

	chat, err := m.store.GetChat(ctx, msg.ChatID)
	if err != nil || chat == nil {
		slog.Error("outbound: chat lookup failed", "chat_id", msg.ChatID, "error", err)
		return
	}

	for _, chunk := range SplitText(msg.Text, ch.MaxMessageBytes()) {
		if err := ch.SendText(ctx, chat.ExternalChatID, chunk); err != nil {
			slog.Error("error sending message to channel", "channel", msg.Channel, "error", err)
		}
	}

	if sender, ok := ch.(AttachmentSender); ok {
		for _, media := range msg.Media {
			if err := sender.SendAttachment(ctx, chat.ExternalChatID, media); err != nil {
				slog.Error("error sending attachment", "channel", msg.Channel, "error", err)
			}
			if media.Path != "" {
				if rmErr := os.Remove(media.Path); rmErr != nil {
					slog.Debug("failed to clean up media file", "path", media.Path, "error", rmErr)
				}
			}
		}
	}

	if err := m.store.StoreMessage(ctx, store.Message{
		ID:         "bot-" + strconv.FormatInt(msg.ChatID, 10) + "-" + strconv.FormatInt(time.Now().UnixNano(), 10),
		ChatID:     msg.ChatID,
		SenderName: "bot",
		Content:    msg.Text,
		IsFromBot:  true,
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		slog.Error("outbound: failed to persist bot reply", "error", err)
	}
}
