// Package whatsapp implements the WhatsApp adapter of the Channel Adapter
// Registry (spec §4.2) with three selectable transports, chosen by
// config.WhatsAppConfig.Mode:
//
//   - "meta" (default): the Business Cloud API webhook spec §6 actually
//     names (`entry[].changes[].value.messages[]`, `X-Hub-Signature-256`
//     verification, Graph API send) — see meta.go.
//   - "whatsmeow": the native multi-device protocol, for operators who
//     link a personal/business number directly rather than going
//     through Meta's hosted API.
//   - "bridge": a WebSocket JSON bridge process, for operators who
//     already run a separate whatsapp-web.js-style bridge.
//
// The whatsmeow path is grounded on
// thrapt-picobot/internal/channels/whatsapp.go (device-store/event-
// handler/typing-presence pattern, kept close to verbatim, re-pointed
// at bus.InboundMessage); the bridge path on
// vanducng-goclaw/internal/channels/whatsapp/whatsapp.go (WebSocket
// JSON message shape and reconnect-with-backoff loop, kept close to
// verbatim, pairing-service dependency dropped).
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

// Channel connects to WhatsApp either natively (whatsmeow) or through a
// bridge process (WebSocket JSON).
type Channel struct {
	*channels.BaseChannel
	config config.WhatsAppConfig
	dbPath string

	waClient *whatsmeow.Client
	typingMu sync.Mutex
	typing   map[string]chan struct{}

	conn      *websocket.Conn
	connMu    sync.Mutex
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc

	httpServer *http.Server
	dedup      sync.Map // meta message id -> struct{}
}

// New creates a WhatsApp channel from config. dbPath is where the
// whatsmeow device store lives when running in native mode.
func New(cfg config.WhatsAppConfig, router bus.MessageRouter, dataDir string) (*Channel, error) {
	if cfg.Mode == "" {
		cfg.Mode = "meta"
	}
	switch cfg.Mode {
	case "bridge":
		if cfg.BridgeURL == "" {
			return nil, fmt.Errorf("whatsapp bridge_url is required in bridge mode")
		}
	case "meta":
		if cfg.MetaPhoneNumberID == "" || cfg.MetaAccessToken == "" {
			return nil, fmt.Errorf("whatsapp meta_phone_number_id and meta_access_token are required in meta mode")
		}
		if cfg.MetaAPIBase == "" {
			cfg.MetaAPIBase = "https://graph.facebook.com/v19.0"
		}
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", router, cfg.AllowFrom),
		config:      cfg,
		dbPath:      filepath.Join(dataDir, "whatsapp.db"),
		typing:      make(map[string]chan struct{}),
	}, nil
}

// ChatTypeRoutes reports WhatsApp's two conversation kinds (spec §4.2).
// Meta's Business Cloud API has no group concept, so "meta" mode traffic
// always lands on the private route.
func (c *Channel) ChatTypeRoutes() []channels.ChatTypeRoute {
	return []channels.ChatTypeRoute{
		{ChatTypeTag: "whatsapp:private", Kind: channels.Private},
		{ChatTypeTag: "whatsapp:group", Kind: channels.Group},
	}
}

// MaxMessageBytes is a conservative cap well under WhatsApp's ~65KB limit
// (spec §6).
func (c *Channel) MaxMessageBytes() int { return channels.MaxBytesWhatsApp }

func (c *Channel) usesBridge() bool { return c.config.Mode == "bridge" }
func (c *Channel) usesMeta() bool   { return c.config.Mode == "meta" }

// SendText routes to whichever transport is active.
func (c *Channel) SendText(ctx context.Context, externalChatID, text string) error {
	switch {
	case c.usesBridge():
		return c.sendBridge(externalChatID, text)
	case c.usesMeta():
		return c.sendMeta(ctx, externalChatID, text)
	default:
		return c.sendNative(ctx, externalChatID, text)
	}
}

// Start launches whichever transport is configured: the Meta webhook
// HTTP server, the whatsmeow native client, or the bridge WebSocket.
func (c *Channel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	switch {
	case c.usesBridge():
		return c.startBridge()
	case c.usesMeta():
		return c.startMeta()
	default:
		return c.startNative(ctx)
	}
}

// Stop shuts down whichever transport is active.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping whatsapp channel")
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.usesMeta() {
		if c.httpServer != nil {
			return c.httpServer.Shutdown(ctx)
		}
		return nil
	}
	if c.usesBridge() {
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		return nil
	}
	c.stopAllTyping()
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
	return nil
}

// --- Native (whatsmeow) transport ---

type whatsmeowLogger struct{}

func (whatsmeowLogger) Errorf(msg string, args ...interface{}) { slog.Error(fmt.Sprintf(msg, args...)) }
func (whatsmeowLogger) Warnf(msg string, args ...interface{})  { slog.Warn(fmt.Sprintf(msg, args...)) }
func (whatsmeowLogger) Infof(msg string, args ...interface{})  { slog.Info(fmt.Sprintf(msg, args...)) }
func (whatsmeowLogger) Debugf(msg string, args ...interface{}) {}
func (l whatsmeowLogger) Sub(string) waLog.Logger              { return l }

func (c *Channel) startNative(ctx context.Context) error {
	container, err := sqlstore.New(ctx, "sqlite", "file:"+c.dbPath+"?_foreign_keys=on", whatsmeowLogger{})
	if err != nil {
		return fmt.Errorf("open whatsapp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get whatsapp device: %w", err)
	}

	c.waClient = whatsmeow.NewClient(device, whatsmeowLogger{})
	if c.waClient.Store.ID == nil {
		return fmt.Errorf("whatsapp device not linked yet — pair it out of band before starting the gateway")
	}

	c.waClient.AddEventHandler(c.handleWhatsmeowEvent)
	if err := c.waClient.Connect(); err != nil {
		return fmt.Errorf("connect to whatsapp: %w", err)
	}

	c.SetRunning(true)
	slog.Info("whatsapp connected", "user", c.waClient.Store.ID.User)
	return nil
}

func (c *Channel) handleWhatsmeowEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		if err := c.waClient.SendPresence(c.ctx, types.PresenceAvailable); err != nil {
			slog.Warn("whatsapp: failed to send available presence", "error", err)
		}
	case *events.Message:
		c.handleWhatsmeowMessage(v)
	}
}

func (c *Channel) handleWhatsmeowMessage(msg *events.Message) {
	if msg.Info.IsFromMe {
		return
	}

	senderID := msg.Info.Sender.User
	chatType := "whatsapp:private"
	if msg.Info.IsGroup {
		chatType = "whatsapp:group"
	}

	content := ""
	switch {
	case msg.Message.Conversation != nil:
		content = *msg.Message.Conversation
	case msg.Message.ExtendedTextMessage != nil && msg.Message.ExtendedTextMessage.Text != nil:
		content = *msg.Message.ExtendedTextMessage.Text
	case msg.Message.ImageMessage != nil && msg.Message.ImageMessage.Caption != nil:
		content = *msg.Message.ImageMessage.Caption
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	_ = c.waClient.MarkRead(c.ctx, []types.MessageID{msg.Info.ID}, msg.Info.Timestamp, msg.Info.Chat, msg.Info.Sender)
	c.startTyping(msg.Info.Chat)

	c.Publish(bus.InboundMessage{
		ExternalChatID:     msg.Info.Chat.String(),
		SenderDisplay:      senderID,
		BodyText:           content,
		TransportMessageID: msg.Info.ID,
		IsDirectMessage:    !msg.Info.IsGroup,
		IsBotMentioned:     !msg.Info.IsGroup,
		ChatType:           chatType,
		Metadata:           map[string]string{"sender_id": senderID},
	})
}

func (c *Channel) sendNative(ctx context.Context, externalChatID, text string) error {
	recipient, err := types.ParseJID(externalChatID)
	if err != nil {
		return fmt.Errorf("invalid whatsapp chat id %q: %w", externalChatID, err)
	}
	c.stopTyping(externalChatID)
	_, err = c.waClient.SendMessage(ctx, recipient, &waProto.Message{Conversation: &text})
	return err
}

// startTyping begins a continuous "composing" presence for a chat until
// stopTyping is called, 5 minutes pass, or the channel stops.
func (c *Channel) startTyping(jid types.JID) {
	key := jid.String()
	c.typingMu.Lock()
	if stop, ok := c.typing[key]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	c.typing[key] = stop
	c.typingMu.Unlock()

	go func() {
		_ = c.waClient.SendChatPresence(c.ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
		ticker := time.NewTicker(8 * time.Second)
		defer ticker.Stop()
		timeout := time.NewTimer(5 * time.Minute)
		defer timeout.Stop()
		for {
			select {
			case <-stop:
				_ = c.waClient.SendChatPresence(c.ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
				return
			case <-timeout.C, <-c.ctx.Done():
				return
			case <-ticker.C:
				_ = c.waClient.SendChatPresence(c.ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
			}
		}
	}()
}

func (c *Channel) stopTyping(chatID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if stop, ok := c.typing[chatID]; ok {
		close(stop)
		delete(c.typing, chatID)
	}
}

func (c *Channel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for _, stop := range c.typing {
		close(stop)
	}
	c.typing = make(map[string]chan struct{})
}

// --- Bridge (WebSocket JSON) transport ---

func (c *Channel) startBridge() error {
	slog.Info("starting whatsapp channel (bridge mode)", "bridge_url", c.config.BridgeURL)
	if err := c.connectBridge(); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}
	go c.bridgeListenLoop()
	c.SetRunning(true)
	return nil
}

func (c *Channel) connectBridge() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.Dial(c.config.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()
	slog.Info("whatsapp bridge connected", "url", c.config.BridgeURL)
	return nil
}

func (c *Channel) bridgeListenLoop() {
	backoff := time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connectBridge(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				if backoff *= 2; backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				continue
			}
			backoff = time.Second
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp bridge read error, will reconnect", "error", err)
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connected = false
			c.connMu.Unlock()
			continue
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Warn("invalid whatsapp bridge message JSON", "error", err)
			continue
		}
		if msgType, _ := msg["type"].(string); msgType == "message" {
			c.handleBridgeMessage(msg)
		}
	}
}

// handleBridgeMessage parses the bridge's
// {"type":"message","from":"...","chat":"...","content":"...","id":"..."}
// envelope and publishes it.
func (c *Channel) handleBridgeMessage(msg map[string]interface{}) {
	senderID, _ := msg["from"].(string)
	if senderID == "" {
		return
	}
	chatID, _ := msg["chat"].(string)
	if chatID == "" {
		chatID = senderID
	}
	content, _ := msg["content"].(string)
	if content == "" {
		return
	}
	messageID, _ := msg["id"].(string)

	isGroup := strings.HasSuffix(chatID, "@g.us")
	chatType := "whatsapp:private"
	if isGroup {
		chatType = "whatsapp:group"
	}

	c.Publish(bus.InboundMessage{
		ExternalChatID:     chatID,
		SenderDisplay:      senderID,
		BodyText:           content,
		TransportMessageID: messageID,
		IsDirectMessage:    !isGroup,
		IsBotMentioned:     !isGroup,
		ChatType:           chatType,
		Metadata:           map[string]string{"sender_id": senderID},
	})
}

func (c *Channel) sendBridge(externalChatID, text string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	data, err := json.Marshal(map[string]interface{}{"type": "message", "to": externalChatID, "content": text})
	if err != nil {
		return fmt.Errorf("marshal whatsapp bridge message: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
