// Package imessage implements the iMessage channel adapter. Unlike
// spec §6's five other minor channels, spec.md documents no inbound
// wire contract for iMessage — the original macOS implementation
// (original_source/src/channels/imessage.rs) has no inbound webhook at
// all and reads new messages by polling Messages.app's local chat.db,
// which is out of idiomatic Go's reach and out of this gateway's
// process boundary. Inbound here is built by extension, on the same
// generic webhook shape as the other minor channels, so an external
// poller/bridge process can still feed messages in; outbound keeps the
// original's osascript/AppleScript shell-out exactly, since that is the
// only way to drive Messages.app and the one channel this repository's
// Open Question on shell-egress avoidance explicitly excludes.
package imessage

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/channels/webhook"
	"github.com/nextlevelbuilder/goclaw/internal/config"
)

const defaultWebhookPath = "/imessage/events"

type inboundBody struct {
	Handle    string `json:"handle"`
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// New constructs the iMessage webhook channel. token is read from
// config.WebhooksConfig.IMessageToken (env-only secret).
func New(cfg config.IMessageConfig, token string, router bus.MessageRouter) (*webhook.Channel, error) {
	path := cfg.WebhookPath
	if path == "" {
		path = defaultWebhookPath
	}

	return webhook.New(webhook.Config{
		Name:        "imessage",
		Path:        path,
		TokenHeader: "x-imessage-webhook-token",
		Token:       token,
		ChatTypeTag: "imessage",
		MaxBytes:    channels.MaxBytesGenericWebhook,
		Addr:        ":3006",
		AllowFrom:   cfg.AllowFrom,
		Parse:       parse,
		Send:        send,
	}, router)
}

func parse(body []byte) (webhook.Fields, bool, error) {
	var in inboundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return webhook.Fields{}, false, fmt.Errorf("decode imessage webhook body: %w", err)
	}
	if in.Handle == "" || in.Text == "" {
		return webhook.Fields{}, false, nil
	}
	return webhook.Fields{
		ExternalChatID: in.Handle,
		SenderDisplay:  in.Handle,
		Text:           in.Text,
		MessageID:      in.MessageID,
	}, true, nil
}

// send drives Messages.app via osascript, matching the original
// implementation's exclusive outbound mechanism. Only runs on macOS;
// on any other platform osascript is absent and the exec call fails
// with a clear error.
func send(ctx context.Context, externalChatID, text string) error {
	script := fmt.Sprintf(`tell application "Messages"
	set targetService to 1st service whose service type = iMessage
	set targetBuddy to buddy "%s" of targetService
	send "%s" to targetBuddy
end tell`, escapeAppleScriptString(externalChatID), escapeAppleScriptString(text))

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript imessage send failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScriptString(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
