// Package signal implements the Signal channel adapter: inbound via
// the shared generic webhook contract (spec §6, POST /signal/messages,
// header x-signal-webhook-token, body {sender, text, message_id?}),
// outbound via the signal-cli REST API (github.com/bbernhard/signal-cli-rest-api),
// a plain HTTP POST — no client SDK for it appears in the pack, so this
// is a direct net/http call against its documented /v2/send shape.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/channels/webhook"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const defaultWebhookPath = "/signal/messages"

type inboundBody struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// New constructs the Signal webhook channel. token is read from
// config.WebhooksConfig.SignalToken (env-only secret).
func New(cfg config.SignalConfig, token string, router bus.MessageRouter) (*webhook.Channel, error) {
	path := cfg.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	return webhook.New(webhook.Config{
		Name:        "signal",
		Path:        path,
		TokenHeader: "x-signal-webhook-token",
		Token:       token,
		ChatTypeTag: "signal",
		MaxBytes:    channels.MaxBytesGenericWebhook,
		Addr:        ":3005",
		AllowFrom:   cfg.AllowFrom,
		Parse:       parse,
		Send:        sendFunc(cfg.SendURL),
	}, router)
}

func parse(body []byte) (webhook.Fields, bool, error) {
	var in inboundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return webhook.Fields{}, false, fmt.Errorf("decode signal webhook body: %w", err)
	}
	if in.Sender == "" || in.Text == "" {
		return webhook.Fields{}, false, nil
	}
	return webhook.Fields{
		ExternalChatID: in.Sender,
		SenderDisplay:  in.Sender,
		Text:           in.Text,
		MessageID:      in.MessageID,
	}, true, nil
}

// sendFunc posts to signal-cli-rest-api's /v2/send endpoint with the body
// {"message": text, "recipients": [externalChatID]}; no "number" (sender)
// field is sent. sendURL is the REST API base, e.g.
// "http://localhost:8080", so only the recipient varies per call.
func sendFunc(sendURL string) webhook.Sender {
	return func(ctx context.Context, externalChatID, text string) error {
		if sendURL == "" {
			return fmt.Errorf("signal outbound send requires send_url to be configured")
		}

		payload, err := json.Marshal(map[string]interface{}{
			"message":    text,
			"recipients": []string{externalChatID},
		})
		if err != nil {
			return fmt.Errorf("marshal signal send body: %w", err)
		}

		endpoint := strings.TrimRight(sendURL, "/") + "/v2/send"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("signal send request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("signal send failed: HTTP %d %s", resp.StatusCode, string(respBody))
		}
		return nil
	}
}
