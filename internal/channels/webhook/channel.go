// Package webhook implements the shared shape behind spec §6's minor
// inbound webhook contracts: a configurable HTTP POST endpoint,
// fixed-header token verification, JSON body decoding, `message_id`
// dedup, and rate limiting — parameterized per channel (DingTalk,
// Email, Nostr, QQ, Signal) rather than duplicated five times.
//
// Grounded on feishu.Channel's webhook server (http.Server lifecycle,
// ListenAndServe/Shutdown pattern) and internal/channels/ratelimit.go's
// WebhookRateLimiter, given a configurable window/cap per channel here.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
)

// Fields is the subset of the generic webhook body every concrete
// channel extracts (spec §6's body column, widened with a chat title
// and arbitrary per-channel metadata).
type Fields struct {
	ExternalChatID string
	SenderDisplay  string
	Text           string
	MessageID      string // optional; empty disables dedup for this delivery
	Metadata       map[string]string
}

// Parser decodes one request body into Fields. ok=false with a nil
// error means "ignore silently" (e.g. a non-message callback type);
// a non-nil error means "reject with 400".
type Parser func(body []byte) (fields Fields, ok bool, err error)

// Sender delivers one already-split text chunk to externalChatID.
type Sender func(ctx context.Context, externalChatID, text string) error

// Config parameterizes one concrete webhook channel instance.
type Config struct {
	Name        string // channel registry name, e.g. "dingtalk"
	Path        string // default path if cfg.WebhookPath is empty
	TokenHeader string // e.g. "x-dingtalk-webhook-token"
	Token       string // configured secret; empty accepts unauthenticated requests
	ChatTypeTag string
	MaxBytes    int
	AllowFrom   []string
	Addr        string // listen address; default ":3000"
	Parse       Parser
	Send        Sender

	RateLimitWindow  time.Duration // default 60s
	RateLimitMaxHits int           // default 30 requests per window
}

// Channel is a spec §6 generic webhook adapter instance.
type Channel struct {
	*channels.BaseChannel
	cfg        Config
	limiter    *channels.WebhookRateLimiter
	dedup      sync.Map // message id -> struct{}
	httpServer *http.Server
}

// New creates a generic webhook channel. router/cfg mirror the other
// adapters' New(cfg, router) constructors; Config.Parse/Send supply the
// per-channel wire format and outbound delivery.
func New(cfg Config, router bus.MessageRouter) (*Channel, error) {
	if cfg.Parse == nil || cfg.Send == nil {
		return nil, fmt.Errorf("webhook channel %q requires Parse and Send", cfg.Name)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("webhook channel %q requires a Path", cfg.Name)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(cfg.Name, router, cfg.AllowFrom),
		cfg:         cfg,
		limiter:     channels.NewWebhookRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMaxHits),
	}, nil
}

// ChatTypeRoutes reports this channel's single conversation kind. The
// generic webhook contract carries no group/private distinction, so
// every delivery is treated as a direct message (spec §6's body shapes
// have no chat-kind field).
func (c *Channel) ChatTypeRoutes() []channels.ChatTypeRoute {
	return []channels.ChatTypeRoute{{ChatTypeTag: c.cfg.ChatTypeTag, Kind: channels.Private}}
}

// MaxMessageBytes returns the configured per-channel cap.
func (c *Channel) MaxMessageBytes() int { return c.cfg.MaxBytes }

// SendText delegates to the channel-specific Sender.
func (c *Channel) SendText(ctx context.Context, externalChatID, text string) error {
	return c.cfg.Send(ctx, externalChatID, text)
}

// Start begins listening for webhook deliveries.
func (c *Channel) Start(_ context.Context) error {
	path := c.cfg.Path

	mux := http.NewServeMux()
	mux.HandleFunc(path, c.handle)
	c.httpServer = &http.Server{Addr: c.cfg.Addr, Handler: mux}

	go func() {
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook channel server error", "channel", c.cfg.Name, "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("webhook channel started", "channel", c.cfg.Name, "path", path)
	return nil
}

// Stop shuts down the HTTP server.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping webhook channel", "channel", c.cfg.Name)
	c.SetRunning(false)
	if c.httpServer != nil {
		return c.httpServer.Shutdown(ctx)
	}
	return nil
}

// handle implements spec §6's common inbound contract: header-token
// verification (missing/empty token accepts only if no token is
// configured; wrong token -> 403), JSON decode, message_id dedup (200
// no-op on repeat), rate limiting per remote address.
func (c *Channel) handle(w http.ResponseWriter, r *http.Request) {
	if !c.limiter.Allow(r.RemoteAddr) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	if c.cfg.Token != "" {
		if r.Header.Get(c.cfg.TokenHeader) != c.cfg.Token {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	fields, ok, err := c.cfg.Parse(body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	if fields.MessageID != "" {
		if _, loaded := c.dedup.LoadOrStore(fields.MessageID, struct{}{}); loaded {
			w.WriteHeader(http.StatusOK)
			return
		}
		go func(id string) {
			time.Sleep(5 * time.Minute)
			c.dedup.Delete(id)
		}(fields.MessageID)
	}

	c.Publish(bus.InboundMessage{
		ExternalChatID:     fields.ExternalChatID,
		SenderDisplay:      fields.SenderDisplay,
		BodyText:           fields.Text,
		TransportMessageID: fields.MessageID,
		IsDirectMessage:    true,
		IsBotMentioned:     true,
		ChatType:           c.cfg.ChatTypeTag,
		Metadata:           fields.Metadata,
	})
	w.WriteHeader(http.StatusOK)
}
