// Package dingtalk implements the DingTalk channel adapter as a thin
// wrapper over the shared generic webhook contract (spec §6): POST
// /dingtalk/events, header x-dingtalk-webhook-token, body
// {chat_id, sender_id, text, message_id?}.
//
// open-dingtalk/dingtalk-stream-sdk-go was considered and dropped — see
// DESIGN.md "Dropped teacher dependencies".
package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/channels/webhook"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const defaultWebhookPath = "/dingtalk/events"

type inboundBody struct {
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// New constructs the DingTalk webhook channel. token is read from
// config.WebhooksConfig.DingTalkToken (env-only secret).
func New(cfg config.DingTalkConfig, token string, router bus.MessageRouter) (*webhook.Channel, error) {
	path := cfg.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	robotURL := cfg.OutboundRobotURL
	return webhook.New(webhook.Config{
		Name:        "dingtalk",
		Path:        path,
		TokenHeader: "x-dingtalk-webhook-token",
		Token:       token,
		ChatTypeTag: "dingtalk",
		MaxBytes:    channels.MaxBytesGenericWebhook,
		Addr:        ":3001",
		AllowFrom:   cfg.AllowFrom,
		Parse:       parse,
		Send:        sendFunc(robotURL),
	}, router)
}

func parse(body []byte) (webhook.Fields, bool, error) {
	var in inboundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return webhook.Fields{}, false, fmt.Errorf("decode dingtalk webhook body: %w", err)
	}
	if in.ChatID == "" || in.Text == "" {
		return webhook.Fields{}, false, nil
	}
	return webhook.Fields{
		ExternalChatID: in.ChatID,
		SenderDisplay:  in.SenderID,
		Text:           in.Text,
		MessageID:      in.MessageID,
		Metadata:       map[string]string{"sender_id": in.SenderID},
	}, true, nil
}

// sendFunc posts to a configured DingTalk custom-robot webhook URL. The
// robot API is single-URL-per-group (no per-chat routing), matching the
// custom-robot model DingTalk documents; externalChatID is accepted for
// interface symmetry but unused.
func sendFunc(robotURL string) webhook.Sender {
	return func(ctx context.Context, externalChatID, text string) error {
		if robotURL == "" {
			return fmt.Errorf("dingtalk outbound send requires outbound_robot_url to be configured")
		}

		payload, err := json.Marshal(map[string]interface{}{
			"msgtype": "text",
			"text":    map[string]string{"content": text},
		})
		if err != nil {
			return fmt.Errorf("marshal dingtalk robot message: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, robotURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("dingtalk robot send request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("dingtalk robot send failed: HTTP %d %s", resp.StatusCode, string(respBody))
		}
		return nil
	}
}
