package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// MemoryTool implements spec §4.4's memory CRUD capability: the agent can
// insert a memory mid-conversation via InsertMemory, grounded on the
// teacher's sessions.go-style direct store-backed tools.
type MemoryTool struct {
	st *store.Store
}

func NewMemoryTool(st *store.Store) *MemoryTool { return &MemoryTool{st: st} }

func (t *MemoryTool) Name() string { return "remember" }
func (t *MemoryTool) Description() string {
	return "Persist a durable memory about the current chat (profile fact, piece of knowledge, or event)"
}
func (t *MemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content":  map[string]interface{}{"type": "string", "description": "The memory text, <=150 chars"},
			"category": map[string]interface{}{"type": "string", "enum": []string{"PROFILE", "KNOWLEDGE", "EVENT"}},
		},
		"required": []string{"content", "category"},
	}
}

func (t *MemoryTool) Execute(ctx context.Context, auth AuthContext, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	category, _ := args["category"].(string)
	if content == "" || category == "" {
		return Errorf("bad_args", "content and category are required")
	}
	cat := store.MemoryCategory(category)
	if cat != store.MemoryProfile && cat != store.MemoryKnowledge && cat != store.MemoryEvent {
		return Errorf("bad_args", "category must be PROFILE, KNOWLEDGE, or EVENT")
	}
	if r := []rune(content); len(r) > 150 {
		content = string(r[:150])
	}

	chatID := auth.CallerChatID
	now := time.Now()
	id, err := t.st.InsertMemory(ctx, &store.Memory{
		ChatID:     &chatID,
		Content:    content,
		Category:   cat,
		Confidence: 0.8,
		Source:     store.SourceTool,
		LastSeenAt: &now,
	})
	if err != nil {
		return Errorf("store", "failed to save memory: %v", err)
	}
	return Ok(fmt.Sprintf("remembered #%d: %s", id, content))
}
