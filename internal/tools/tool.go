// Package tools implements the Tool Registry (spec §4.4): named
// capabilities the Agent Loop's tool-use loop invokes, each declaring a
// JSON-schema input and returning the envelope spec §4.4 defines —
// {content, is_error, duration_ms, status_code?, bytes, error_type?}.
//
// Adapted from the teacher's internal/tools package: the per-tool files
// (exec, filesystem, web fetch/search) keep the teacher's shape and deny
// patterns but drop the Docker-sandbox and multi-tenant-approval plumbing
// that belongs to the teacher's managed mode, which spec.md does not
// describe (see DESIGN.md "Dropped teacher code").
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// AuthContext is spec §4.4's per-call authorization context: a tool may
// only act on CallerChatID unless it is in ControlChatIDs.
type AuthContext struct {
	CallerChannel  string
	CallerChatID   int64
	ControlChatIDs map[int64]bool
}

// Allowed reports whether auth permits acting on targetChatID.
func (a AuthContext) Allowed(targetChatID int64) bool {
	if targetChatID == a.CallerChatID {
		return true
	}
	return a.ControlChatIDs[a.CallerChatID]
}

// Result is the tool-call envelope of spec §4.4.
type Result struct {
	Content    string
	IsError    bool
	DurationMs int64
	StatusCode int
	Bytes      int
	ErrorType  string
}

func Ok(content string) *Result {
	return &Result{Content: content, Bytes: len(content)}
}

func Errorf(errType, format string, args ...interface{}) *Result {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Result{Content: msg, IsError: true, Bytes: len(msg), ErrorType: errType}
}

// Tool is one named capability in the registry.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, auth AuthContext, args map[string]interface{}) *Result
}

// Registry holds every constructed tool, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool catalog in the JSON-schema form the LLM
// provider needs (spec §4.3.5 step 1: "full system prompt, current
// messages, and the tool catalog").
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CatalogSummary renders a human-level capability listing for the system
// prompt preface (spec §4.3.1 "listing its tool capabilities at human
// level").
func (r *Registry) CatalogSummary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Execute runs a tool by name, measuring duration and translating an
// unknown tool name or a failed args decode into an error envelope rather
// than panicking the Agent Loop (spec §4.4: "the core only guarantees
// schema validation, authorization, duration measurement, and the
// envelope shape").
func (r *Registry) Execute(ctx context.Context, name string, auth AuthContext, argsJSON json.RawMessage) *Result {
	start := time.Now()
	t, ok := r.Get(name)
	if !ok {
		res := Errorf("unknown_tool", "unknown tool: %s", name)
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}
	var args map[string]interface{}
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			res := Errorf("bad_args", "invalid tool arguments: %v", err)
			res.DurationMs = time.Since(start).Milliseconds()
			return res
		}
	}
	res := t.Execute(ctx, auth, args)
	if res == nil {
		res = Ok("")
	}
	res.DurationMs = time.Since(start).Milliseconds()
	if res.Bytes == 0 {
		res.Bytes = len(res.Content)
	}
	return res
}
