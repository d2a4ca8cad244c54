package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// SendMessageTool implements spec §4.4's "send_message" capability: the
// agent can proactively push a message to a chat — either the caller's
// own chat or, if the caller's chat is in control_chat_ids, any chat —
// grounded on the teacher's internal/tools/sessions_send.go.
type SendMessageTool struct {
	st       *store.Store
	registry *channels.Registry
}

func NewSendMessageTool(st *store.Store, registry *channels.Registry) *SendMessageTool {
	return &SendMessageTool{st: st, registry: registry}
}

func (t *SendMessageTool) Name() string { return "send_message" }
func (t *SendMessageTool) Description() string {
	return "Send a message to a chat outside of the normal reply flow"
}
func (t *SendMessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"chat_id": map[string]interface{}{"type": "integer", "description": "Target chat id; defaults to the current chat"},
			"text":    map[string]interface{}{"type": "string", "description": "Message text"},
		},
		"required": []string{"text"},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, auth AuthContext, args map[string]interface{}) *Result {
	text, _ := args["text"].(string)
	if text == "" {
		return Errorf("bad_args", "text is required")
	}
	targetChatID := auth.CallerChatID
	if idFloat, ok := args["chat_id"].(float64); ok {
		targetChatID = int64(idFloat)
	}
	if !auth.Allowed(targetChatID) {
		return Errorf("authorization", "not permitted to send to chat #%d", targetChatID)
	}

	chat, err := t.st.GetChat(ctx, targetChatID)
	if err != nil || chat == nil {
		return Errorf("store", "unknown chat #%d", targetChatID)
	}
	ch, err := t.registry.Resolve(chat.ChatType)
	if err != nil {
		return Errorf("config", "no channel adapter for chat #%d: %v", targetChatID, err)
	}
	if err := ch.SendText(ctx, chat.ExternalChatID, text); err != nil {
		return Errorf("network", "send failed: %v", err)
	}
	return Ok(fmt.Sprintf("sent to chat #%d", targetChatID))
}
