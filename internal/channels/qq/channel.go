// Package qq implements the QQ channel adapter as a thin wrapper over
// the shared generic webhook contract (spec §6): POST /qq/events,
// header x-qq-webhook-token, body {user_id, text, message_id?}.
//
// tencent-connect/botgo was considered and dropped — see DESIGN.md
// "Dropped teacher dependencies". QQ's real outbound API requires an
// OpenAPI app/access-token exchange that has no usage file anywhere in
// the retrieved pack to ground a call shape against, so SendText
// reports the gap explicitly rather than guessing one.
package qq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/channels/webhook"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const defaultWebhookPath = "/qq/events"

type inboundBody struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// New constructs the QQ webhook channel. token is read from
// config.WebhooksConfig.QQToken (env-only secret).
func New(cfg config.QQConfig, token string, router bus.MessageRouter) (*webhook.Channel, error) {
	path := cfg.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	return webhook.New(webhook.Config{
		Name:        "qq",
		Path:        path,
		TokenHeader: "x-qq-webhook-token",
		Token:       token,
		ChatTypeTag: "qq",
		MaxBytes:    channels.MaxBytesGenericWebhook,
		Addr:        ":3004",
		AllowFrom:   cfg.AllowFrom,
		Parse:       parse,
		Send:        send,
	}, router)
}

func parse(body []byte) (webhook.Fields, bool, error) {
	var in inboundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return webhook.Fields{}, false, fmt.Errorf("decode qq webhook body: %w", err)
	}
	if in.UserID == "" || in.Text == "" {
		return webhook.Fields{}, false, nil
	}
	return webhook.Fields{
		ExternalChatID: in.UserID,
		SenderDisplay:  in.UserID,
		Text:           in.Text,
		MessageID:      in.MessageID,
	}, true, nil
}

func send(_ context.Context, _, _ string) error {
	return fmt.Errorf("qq outbound send is not wired: requires QQ OpenAPI access-token exchange")
}
