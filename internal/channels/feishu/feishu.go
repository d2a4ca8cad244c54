// Package feishu implements the Feishu/Lark channel of the Channel
// Adapter Registry (spec §4.2) as a webhook-mode bot: an HTTP callback
// endpoint (AES-decrypted when EncryptKey is set; no signature or
// verification-token check) receiving im.message.receive_v1 events, replying
// through the tenant_access_token REST API.
//
// Grounded on vanducng-goclaw/internal/channels/feishu/{feishu.go,bot.go,
// bot_parse.go,larkclient.go}: the hand-rolled LarkClient (token refresh,
// generic JSON/multipart/download helpers) and the post/markdown content
// parsing in bot_parse.go are kept close to verbatim — they're
// self-contained net/http code with no external dependency to swap in.
// Dropped the teacher's WebSocket connection mode: it talked to an
// undocumented Lark long-connection handshake that no retrieved file
// actually implements (NewWSClient/WSClient were referenced but never
// defined in the retrieved set), so only the well-specified webhook
// callback mode is built here. The declared `larksuite/oapi-sdk-go/v3`
// dependency is dropped for the same reason — no retrieved file shows
// its builder-pattern call shape, and the teacher's own hand-rolled
// client already covers the REST surface this adapter needs (see
// DESIGN.md).
package feishu

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const (
	defaultTextChunkLimit = 4000
	defaultWebhookPath    = "/feishu/events"
	senderCacheTTL        = 10 * time.Minute
)

// MessageEvent is the im.message.receive_v1 event body (spec §6's Feishu
// event shape).
type MessageEvent struct {
	Header struct {
		EventType string `json:"event_type"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderID struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
		} `json:"sender"`
		Message struct {
			ChatID      string `json:"chat_id"`
			MessageID   string `json:"message_id"`
			ChatType    string `json:"chat_type"`
			MessageType string `json:"message_type"`
			RootID      string `json:"root_id"`
			ParentID    string `json:"parent_id"`
			Content     string `json:"content"`
			Mentions    []struct {
				Key string `json:"key"`
				ID  struct {
					OpenID string `json:"open_id"`
				} `json:"id"`
				Name string `json:"name"`
			} `json:"mentions"`
		} `json:"message"`
	} `json:"event"`
}

type senderCacheEntry struct {
	name      string
	expiresAt time.Time
}

// Channel connects to Feishu/Lark via a webhook callback.
type Channel struct {
	*channels.BaseChannel
	cfg            config.FeishuConfig
	client         *LarkClient
	botOpenID      string
	requireMention bool
	senderCache    sync.Map // open_id -> *senderCacheEntry
	dedup          sync.Map // message_id -> struct{}
	httpServer     *http.Server
}

// New creates a Feishu/Lark channel from config.
func New(cfg config.FeishuConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("feishu app_id and app_secret are required")
	}

	client := NewLarkClient(cfg.AppID, cfg.AppSecret, "https://open.larksuite.com")
	base := channels.NewBaseChannel("feishu", router, cfg.AllowFrom)

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    base,
		cfg:            cfg,
		client:         client,
		requireMention: requireMention,
	}, nil
}

// ChatTypeRoutes reports Feishu's two conversation kinds (spec §4.2).
func (c *Channel) ChatTypeRoutes() []channels.ChatTypeRoute {
	return []channels.ChatTypeRoute{
		{ChatTypeTag: "feishu:private", Kind: channels.Private},
		{ChatTypeTag: "feishu:group", Kind: channels.Group},
	}
}

// MaxMessageBytes is Feishu's conservative per-message cap (spec §6).
func (c *Channel) MaxMessageBytes() int { return channels.MaxBytesFeishu }

// SendText sends one already-split chunk as a post-type message.
func (c *Channel) SendText(ctx context.Context, externalChatID, text string) error {
	receiveIDType := resolveReceiveIDType(externalChatID)
	content := buildPostContent(text)
	if _, err := c.client.SendMessage(ctx, receiveIDType, externalChatID, "post", content); err != nil {
		return fmt.Errorf("feishu send text: %w", err)
	}
	return nil
}

// Start probes the bot's identity and starts the webhook HTTP server.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting feishu/lark bot (webhook mode)")

	if err := c.probeBotInfo(ctx); err != nil {
		slog.Warn("feishu bot probe failed (will continue)", "error", err)
	} else {
		slog.Info("feishu bot connected", "bot_open_id", c.botOpenID)
	}

	path := c.cfg.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, c.handleWebhook)
	c.httpServer = &http.Server{Addr: ":3000", Handler: mux}

	go func() {
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("feishu webhook server error", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("feishu webhook listening", "path", path)
	return nil
}

// Stop shuts down the webhook HTTP server.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping feishu/lark bot")
	c.SetRunning(false)
	if c.httpServer != nil {
		return c.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleWebhook answers Feishu's URL-verification challenge and parses
// message events, decrypting them first if an EncryptKey is configured.
func (c *Channel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	payload := raw
	if c.cfg.EncryptKey != "" {
		decrypted, err := decryptFeishuPayload(raw, c.cfg.EncryptKey)
		if err != nil {
			slog.Warn("feishu webhook decrypt failed", "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		payload = decrypted
	}

	var challenge struct {
		Challenge string `json:"challenge"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(payload, &challenge); err == nil && challenge.Challenge != "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": challenge.Challenge})
		return
	}

	var event MessageEvent
	if err := json.Unmarshal(payload, &event); err == nil && event.Header.EventType == "im.message.receive_v1" {
		c.handleMessageEvent(r.Context(), &event)
	}
	w.WriteHeader(http.StatusOK)
}

// decryptFeishuPayload reverses Feishu's AES-256-CBC event encryption:
// key = SHA-256(encryptKey), IV = first 16 bytes of the base64-decoded
// ciphertext, PKCS7-unpadded after decryption.
func decryptFeishuPayload(raw json.RawMessage, encryptKey string) (json.RawMessage, error) {
	var wrapper struct {
		Encrypt string `json:"encrypt"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Encrypt == "" {
		return raw, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(wrapper.Encrypt)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	key := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]
	if len(body)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext not block-aligned")
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	plain := make([]byte, len(body))
	mode.CryptBlocks(plain, body)

	if n := len(plain); n > 0 {
		pad := int(plain[n-1])
		if pad > 0 && pad <= aes.BlockSize && pad <= n {
			plain = plain[:n-pad]
		}
	}
	return plain, nil
}

func (c *Channel) probeBotInfo(ctx context.Context) error {
	openID, err := c.client.GetBotInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch bot info: %w", err)
	}
	if openID == "" {
		return fmt.Errorf("bot open_id is empty")
	}
	c.botOpenID = openID
	return nil
}

func resolveReceiveIDType(id string) string {
	switch {
	case strings.HasPrefix(id, "oc_"):
		return "chat_id"
	case strings.HasPrefix(id, "ou_"):
		return "open_id"
	case strings.HasPrefix(id, "on_"):
		return "union_id"
	default:
		return "chat_id"
	}
}

func buildPostContent(text string) string {
	content := map[string]interface{}{
		"zh_cn": map[string]interface{}{
			"content": [][]map[string]interface{}{
				{{"tag": "md", "text": text}},
			},
		},
	}
	data, _ := json.Marshal(content)
	return string(data)
}

// isDuplicate returns true if messageID was already processed within the
// last 5 minutes.
func (c *Channel) isDuplicate(messageID string) bool {
	_, loaded := c.dedup.LoadOrStore(messageID, struct{}{})
	if !loaded {
		go func() {
			time.Sleep(5 * time.Minute)
			c.dedup.Delete(messageID)
		}()
	}
	return loaded
}
