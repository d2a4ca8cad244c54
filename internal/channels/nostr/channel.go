// Package nostr implements the Nostr channel adapter's inbound half via
// the shared generic webhook contract (spec §6, POST /nostr/events,
// header x-nostr-webhook-token, body {pubkey, content, event_id?, kind?}).
//
// Outbound publish requires signing a Nostr event (secp256k1 Schnorr
// signature over the serialized event per NIP-01) and relaying it over
// a websocket. No Nostr client or secp256k1-signing library appears
// anywhere in the retrieved pack, so SendText reports the gap rather
// than hand-rolling cryptographic signing without a groundable
// reference implementation.
package nostr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/channels/webhook"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const defaultWebhookPath = "/nostr/events"

type inboundBody struct {
	Pubkey  string `json:"pubkey"`
	Content string `json:"content"`
	EventID string `json:"event_id,omitempty"`
	Kind    int    `json:"kind,omitempty"`
}

// New constructs the Nostr webhook channel. token is read from
// config.WebhooksConfig.NostrToken (env-only secret).
func New(cfg config.NostrConfig, token string, router bus.MessageRouter) (*webhook.Channel, error) {
	path := cfg.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	return webhook.New(webhook.Config{
		Name:        "nostr",
		Path:        path,
		TokenHeader: "x-nostr-webhook-token",
		Token:       token,
		ChatTypeTag: "nostr",
		MaxBytes:    channels.MaxBytesGenericWebhook,
		Addr:        ":3003",
		AllowFrom:   cfg.AllowFrom,
		Parse:       parse,
		Send:        send,
	}, router)
}

func parse(body []byte) (webhook.Fields, bool, error) {
	var in inboundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return webhook.Fields{}, false, fmt.Errorf("decode nostr webhook body: %w", err)
	}
	if in.Pubkey == "" || in.Content == "" {
		return webhook.Fields{}, false, nil
	}
	return webhook.Fields{
		ExternalChatID: in.Pubkey,
		SenderDisplay:  in.Pubkey,
		Text:           in.Content,
		MessageID:      in.EventID,
		Metadata:       map[string]string{"kind": fmt.Sprintf("%d", in.Kind)},
	}, true, nil
}

func send(_ context.Context, _, _ string) error {
	return fmt.Errorf("nostr outbound send is not wired: no groundable Nostr event-signing library in the retrieved pack")
}
