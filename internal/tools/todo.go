package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TodoItem is one entry in a chat's in-memory task list.
type TodoItem struct {
	Text string
	Done bool
}

// TodoTool implements spec §4.4's "todo list" capability: a small
// per-chat scratch list the agent can use to track multi-step work
// within a session, grounded on the teacher's pattern of keeping
// lightweight per-chat state in a mutex-guarded map (internal/tools/
// delegate_state.go).
type TodoTool struct {
	mu    sync.Mutex
	lists map[int64][]TodoItem
}

func NewTodoTool() *TodoTool {
	return &TodoTool{lists: make(map[int64][]TodoItem)}
}

func (t *TodoTool) Name() string        { return "todo" }
func (t *TodoTool) Description() string { return "Manage a per-chat scratch todo list" }
func (t *TodoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{"type": "string", "enum": []string{"add", "complete", "list", "clear"}},
			"text":   map[string]interface{}{"type": "string", "description": "Item text (add only)"},
			"index":  map[string]interface{}{"type": "integer", "description": "1-based item index (complete only)"},
		},
		"required": []string{"action"},
	}
}

func (t *TodoTool) Execute(_ context.Context, auth AuthContext, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	t.mu.Lock()
	defer t.mu.Unlock()
	items := t.lists[auth.CallerChatID]

	switch action {
	case "add":
		text, _ := args["text"].(string)
		if text == "" {
			return Errorf("bad_args", "text is required")
		}
		items = append(items, TodoItem{Text: text})
		t.lists[auth.CallerChatID] = items
		return Ok(fmt.Sprintf("added item %d: %s", len(items), text))
	case "complete":
		idxFloat, ok := args["index"].(float64)
		if !ok || int(idxFloat) < 1 || int(idxFloat) > len(items) {
			return Errorf("bad_args", "index out of range")
		}
		items[int(idxFloat)-1].Done = true
		return Ok(fmt.Sprintf("completed item %d", int(idxFloat)))
	case "clear":
		delete(t.lists, auth.CallerChatID)
		return Ok("todo list cleared")
	case "list":
		if len(items) == 0 {
			return Ok("(todo list empty)")
		}
		var b strings.Builder
		for i, item := range items {
			mark := " "
			if item.Done {
				mark = "x"
			}
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, mark, item.Text)
		}
		return Ok(strings.TrimSpace(b.String()))
	default:
		return Errorf("bad_args", "action must be add, complete, list, or clear")
	}
}
