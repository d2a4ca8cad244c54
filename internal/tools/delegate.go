package tools

import (
	"context"
)

// SubAgentRunner is the narrow slice of the Agent Loop that the delegate
// tool needs — injected to avoid an import cycle with internal/agent,
// mirroring the AgentRunner seam internal/channels/ingress.go already
// uses for the same reason.
type SubAgentRunner interface {
	Process(ctx context.Context, chatID int64, callerChannel, chatType, overridePrompt string) (string, error)
}

// DelegateTool implements spec §4.4's "sub-agent delegation" capability:
// run a one-off Agent Loop invocation against the same chat, with a fixed
// override prompt, and return its final text — adapted from the
// teacher's internal/tools/delegate.go, dropping its separate delegate
// session/state/policy machinery (delegate_state.go, delegate_policy.go)
// since this implementation has no distinct sub-agent identity to track.
type DelegateTool struct {
	runner SubAgentRunner
}

func NewDelegateTool(runner SubAgentRunner) *DelegateTool { return &DelegateTool{runner: runner} }

func (t *DelegateTool) Name() string        { return "delegate" }
func (t *DelegateTool) Description() string { return "Delegate a focused sub-task to a fresh agent invocation and return its result" }
func (t *DelegateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{"type": "string", "description": "The sub-task prompt to run"},
		},
		"required": []string{"task"},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, auth AuthContext, args map[string]interface{}) *Result {
	task, _ := args["task"].(string)
	if task == "" {
		return Errorf("bad_args", "task is required")
	}
	if t.runner == nil {
		return Errorf("config", "sub-agent delegation is not configured")
	}
	reply, err := t.runner.Process(ctx, auth.CallerChatID, auth.CallerChannel, "", "[delegate]: "+task)
	if err != nil {
		return Errorf("internal", "delegated task failed: %v", err)
	}
	return Ok(reply)
}
