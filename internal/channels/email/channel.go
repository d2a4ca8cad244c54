// Package email implements the Email channel adapter: inbound via the
// shared generic webhook contract (spec §6, POST /email/webhook, header
// x-email-webhook-token, body {from, reply_to?, subject?, text,
// message_id?}), outbound via plain SMTP (net/smtp, no third-party mail
// library appears anywhere in the pack, so stdlib is the grounded
// choice here).
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/channels/webhook"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const defaultWebhookPath = "/email/webhook"

type inboundBody struct {
	From      string `json:"from"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// New constructs the Email webhook channel. token is read from
// config.WebhooksConfig.EmailToken (env-only secret).
func New(cfg config.EmailConfig, token string, router bus.MessageRouter) (*webhook.Channel, error) {
	path := cfg.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	return webhook.New(webhook.Config{
		Name:        "email",
		Path:        path,
		TokenHeader: "x-email-webhook-token",
		Token:       token,
		ChatTypeTag: "email",
		MaxBytes:    channels.MaxBytesGenericWebhook,
		Addr:        ":3002",
		AllowFrom:   cfg.AllowFrom,
		Parse:       parse,
		Send:        sendFunc(cfg),
	}, router)
}

func parse(body []byte) (webhook.Fields, bool, error) {
	var in inboundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return webhook.Fields{}, false, fmt.Errorf("decode email webhook body: %w", err)
	}
	if in.From == "" || in.Text == "" {
		return webhook.Fields{}, false, nil
	}
	// Reply to reply_to when present (mailing-list style), else to from.
	chatID := in.ReplyTo
	if chatID == "" {
		chatID = in.From
	}
	return webhook.Fields{
		ExternalChatID: chatID,
		SenderDisplay:  in.From,
		Text:           in.Text,
		MessageID:      in.MessageID,
		Metadata:       map[string]string{"subject": in.Subject},
	}, true, nil
}

// sendFunc delivers a reply via SMTP using net/smtp.SendMail with no
// authentication (a nil smtp.Auth), for a local or trusted relay.
// cfg.SMTPAddr is "host:port". SMTP AUTH is never attempted, so a relay
// that requires it rejects the send.
func sendFunc(cfg config.EmailConfig) webhook.Sender {
	return func(ctx context.Context, externalChatID, text string) error {
		if cfg.SMTPAddr == "" || cfg.SMTPFrom == "" {
			return fmt.Errorf("email outbound send requires smtp_addr and smtp_from to be configured")
		}

		msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Re: your message\r\n\r\n%s\r\n",
			cfg.SMTPFrom, externalChatID, text)

		return smtp.SendMail(cfg.SMTPAddr, nil, cfg.SMTPFrom, []string{externalChatID}, []byte(msg))
	}
}
