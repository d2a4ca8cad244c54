package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// ExportTool implements spec §4.4's "export" capability: dump the current
// chat's recent history to a markdown archive file under the data
// directory, reusing spec §4.3.4's compaction archive layout
// (<data_dir>/groups/<channel>/<chat_id>/conversations/<timestamp>.md).
type ExportTool struct {
	st      *store.Store
	dataDir string
}

func NewExportTool(st *store.Store, dataDir string) *ExportTool {
	return &ExportTool{st: st, dataDir: dataDir}
}

func (t *ExportTool) Name() string        { return "export_conversation" }
func (t *ExportTool) Description() string { return "Export the chat's recent history to a markdown file" }
func (t *ExportTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{"type": "integer", "description": "Max messages to export, default 200"},
		},
	}
}

func (t *ExportTool) Execute(ctx context.Context, auth AuthContext, args map[string]interface{}) *Result {
	limit := 200
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	chat, err := t.st.GetChat(ctx, auth.CallerChatID)
	if err != nil || chat == nil {
		return Errorf("store", "unknown chat #%d", auth.CallerChatID)
	}
	msgs, err := t.st.RecentMessages(ctx, auth.CallerChatID, limit)
	if err != nil {
		return Errorf("store", "failed to load history: %v", err)
	}

	path, err := ArchiveConversation(t.dataDir, chat.Channel, auth.CallerChatID, msgs)
	if err != nil {
		return Errorf("io", "failed to write archive: %v", err)
	}
	return Ok(fmt.Sprintf("exported %d messages to %s", len(msgs), path))
}

// ArchiveConversation writes msgs as a markdown transcript under
// <data_dir>/groups/<channel>/<chat_id>/conversations/<timestamp>.md —
// shared by ExportTool and the "/archive" command (spec §4.7) and the
// Agent Loop's compaction step (spec §4.3.4), which all write to the same
// layout.
func ArchiveConversation(dataDir, channel string, chatID int64, msgs []store.Message) (string, error) {
	dir := filepath.Join(dataDir, "groups", channel, strconv.FormatInt(chatID, 10), "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.md", time.Now().Unix()))

	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation archive — chat #%d\n\n", chatID)
	for _, m := range msgs {
		role := m.SenderName
		if m.IsFromBot {
			role = "assistant"
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n%s\n\n", role, m.Timestamp.Format(time.RFC3339), m.Content)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
