// Package agent implements the Agent Loop (spec §4.3): context assembly,
// session resume, compaction, and the tool-use loop that drives one LLM
// provider against the Tool Registry for a single chat turn.
//
// Adapted from the teacher's internal/agent package (loop.go/loop_history.go/
// media.go/resolver.go): the overall two-phase shape — assemble messages,
// then iterate LLM calls against a tool registry — is kept, but every piece
// of the teacher's managed-mode/multi-tenant/UUID-session machinery is
// replaced with the chat_id-keyed, single-tenant semantics spec.md §4.3
// describes.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
)

// Loop is the Agent Loop's runtime: one per process, shared across chats.
type Loop struct {
	Store    *store.Store
	Tools    *tools.Registry
	Provider providers.Provider
	Config   config.AgentDefaults
	DataDir  string
	Skills   *tools.SkillsCatalog

	controlChatIDs map[int64]bool
}

// New builds a Loop, precomputing the control_chat_ids set from config.
func New(st *store.Store, reg *tools.Registry, provider providers.Provider, cfg config.AgentDefaults, dataDir string, skills *tools.SkillsCatalog) *Loop {
	control := make(map[int64]bool, len(cfg.ControlChatIDs))
	for _, s := range cfg.ControlChatIDs {
		var id int64
		if _, err := fmt.Sscanf(s, "%d", &id); err == nil {
			control[id] = true
		}
	}
	return &Loop{Store: st, Tools: reg, Provider: provider, Config: cfg, DataDir: dataDir, Skills: skills, controlChatIDs: control}
}

// Process satisfies channels.AgentRunner: the ingress pipeline's normal,
// non-scheduled invocation for one inbound message already persisted to
// chatID. usedSendMessage signals the ingress pipeline to suppress its own
// delivery of the returned text (spec §4.2 step 7).
func (l *Loop) Process(ctx context.Context, chatID int64, callerChannel, chatType string, sink bus.EventSink) (string, bool, error) {
	return l.run(ctx, chatID, callerChannel, chatType, "", nil, sink)
}

// RunOverride satisfies tools.SubAgentRunner (sub-agent delegation) and is
// also used directly by the Scheduler (spec §4.5 step 2): a turn driven by
// a fixed prompt rather than a freshly-ingested user message.
func (l *Loop) RunOverride(ctx context.Context, chatID int64, callerChannel, chatType, overridePrompt string) (string, error) {
	text, _, err := l.run(ctx, chatID, callerChannel, chatType, overridePrompt, nil, nil)
	return text, err
}

// RunWithImage drives one turn with an attached image (spec §4.3.3).
func (l *Loop) RunWithImage(ctx context.Context, chatID int64, callerChannel, chatType string, img *ImageInput, sink bus.EventSink) (string, bool, error) {
	return l.run(ctx, chatID, callerChannel, chatType, "", img, sink)
}

func isGroupChatType(chatType string) bool {
	return strings.Contains(strings.ToLower(chatType), "group")
}

func (l *Loop) run(ctx context.Context, chatID int64, callerChannel, chatType, overridePrompt string, img *ImageInput, sink bus.EventSink) (finalText string, usedSendMessage bool, err error) {
	isGroup := isGroupChatType(chatType)

	systemPrompt, err := l.buildSystemPrompt(ctx, chatID)
	if err != nil {
		return "", false, err
	}

	messages, sess, err := l.loadMessages(ctx, chatID, isGroup)
	if err != nil {
		return "", false, err
	}
	if len(messages) == 0 {
		messages = []providers.Message{providers.NewTextMessage("user", "")}
	}

	// SPEC_FULL.md §D decision 2: "/model" only switches the active chat's
	// default model name for the already-configured provider.
	model := l.Config.Model
	if sess != nil && sess.Model != "" {
		model = sess.Model
	}

	messages = applyOverridePrompt(messages, overridePrompt)
	messages = applyImage(messages, img)
	messages = l.maybeCompact(ctx, chatID, callerChannel, messages)

	auth := tools.AuthContext{CallerChannel: callerChannel, CallerChatID: chatID, ControlChatIDs: l.controlChatIDs}

	finalText, usedSendMessage, messages, err = l.toolUseLoop(ctx, chatID, auth, systemPrompt, model, messages, sink)
	if err != nil {
		return "", usedSendMessage, err
	}

	sd := &store.SessionData{
		ChatID: chatID, Messages: stripImages(messages),
		Provider: l.Provider.Name(), Model: model, Channel: callerChannel,
		UpdatedAt: time.Now().UTC(),
	}
	if err := l.Store.SaveSession(ctx, sd); err != nil {
		return finalText, usedSendMessage, err
	}

	if strings.TrimSpace(finalText) != "" {
		if err := l.Store.StoreMessage(ctx, store.Message{
			ID: fmt.Sprintf("bot-%d-%d", chatID, time.Now().UnixNano()),
			ChatID: chatID, SenderName: "bot", Content: finalText, IsFromBot: true, Timestamp: time.Now().UTC(),
		}); err != nil {
			slog.Warn("failed to persist bot reply", "chat_id", chatID, "error", err)
		}
	}

	if sink != nil {
		sink(bus.Event{Name: bus.EventFinalResponse, Payload: bus.FinalResponsePayload{ChatID: chatID, Text: finalText}})
	}
	return finalText, usedSendMessage, nil
}

// toolUseLoop implements spec §4.3.5's bounded iteration loop.
func (l *Loop) toolUseLoop(ctx context.Context, chatID int64, auth tools.AuthContext, systemPrompt, model string, messages []providers.Message, sink bus.EventSink) (string, bool, []providers.Message, error) {
	usedSendMessage := false
	var consecutiveIdenticalCalls int
	var lastCallSignature string

	for iteration := 0; iteration < l.Config.MaxToolIterations; iteration++ {
		if sink != nil {
			sink(bus.Event{Name: bus.EventIteration, Payload: bus.IterationPayload{ChatID: chatID, Index: iteration}})
		}

		req := providers.ChatRequest{
			System: systemPrompt, Messages: messages, Tools: l.Tools.Definitions(),
			Model: model, MaxTokens: l.Config.MaxTokens, Temperature: l.Config.Temperature,
		}

		var resp *providers.ChatResponse
		var err error
		if sink != nil {
			resp, err = l.Provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
				if chunk.TextDelta != "" {
					sink(bus.Event{Name: bus.EventTextDelta, Payload: bus.TextDeltaPayload{ChatID: chatID, Text: chunk.TextDelta}})
				}
			})
		} else {
			resp, err = l.Provider.Chat(ctx, req)
		}
		if err != nil {
			return "", usedSendMessage, messages, err
		}

		if logErr := l.Store.LogUsage(ctx, store.LlmUsageEntry{
			ChatID: &chatID, CallerChannel: auth.CallerChannel, RequestKind: store.RequestAgentLoop,
			Provider: l.Provider.Name(), Model: req.Model,
			InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens,
		}); logErr != nil {
			slog.Warn("agent loop usage log failed", "chat_id", chatID, "error", logErr)
		}

		switch resp.StopReason {
		case providers.StopToolUse:
			messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content})

			toolUses := resp.ToolUses()
			signature := toolCallSignature(toolUses)
			if signature != "" && signature == lastCallSignature {
				consecutiveIdenticalCalls++
			} else {
				consecutiveIdenticalCalls = 0
			}
			lastCallSignature = signature

			// Loop-detection guard (SPEC_FULL.md §C): the same tool call
			// repeated back-to-back signals a stuck loop rather than progress.
			if consecutiveIdenticalCalls >= 6 {
				messages = append(messages, providers.NewTextMessage("assistant",
					"I detected a repeated tool call and stopped to avoid looping. Please rephrase or provide more detail."))
				return "I detected a repeated tool call and stopped to avoid looping. Please rephrase or provide more detail.", usedSendMessage, messages, nil
			}

			resultBlocks := l.runToolsConcurrently(ctx, chatID, auth, toolUses, sink, &usedSendMessage)
			if consecutiveIdenticalCalls == 3 {
				resultBlocks = append(resultBlocks, providers.ContentBlock{
					Type: providers.BlockText,
					Text: "Note: that exact tool call has now repeated three times in a row — consider a different approach.",
				})
			}
			messages = append(messages, providers.Message{Role: "user", Content: resultBlocks})
			continue

		case providers.StopEndTurn, providers.StopMaxTokens:
			text := resp.Text()
			messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content})
			if !l.Config.ShowThinking {
				text = stripThinking(text)
			}
			if strings.TrimSpace(text) == "" {
				text = emptyReplyFallback
			}
			return text, usedSendMessage, messages, nil

		default:
			text := resp.Text()
			messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content})
			if !l.Config.ShowThinking {
				text = stripThinking(text)
			}
			if strings.TrimSpace(text) == "" {
				text = emptyReplyFallback
			}
			return text, usedSendMessage, messages, nil
		}
	}

	const capMessage = "I reached the maximum number of tool iterations. Here is what I found so far; please ask again if you need more."
	messages = append(messages, providers.NewTextMessage("assistant", capMessage))
	return capMessage, usedSendMessage, messages, nil
}

// runToolsConcurrently executes every tool_use block from one assistant
// turn in parallel (SPEC_FULL.md §C "parallel tool execution"), preserving
// each result's position so the returned tool_result blocks line up with
// their originating tool_use ids regardless of finishing order.
func (l *Loop) runToolsConcurrently(ctx context.Context, chatID int64, auth tools.AuthContext, toolUses []providers.ContentBlock, sink bus.EventSink, usedSendMessage *bool) []providers.ContentBlock {
	results := make([]providers.ContentBlock, len(toolUses))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, tu := range toolUses {
		wg.Add(1)
		go func(i int, tu providers.ContentBlock) {
			defer wg.Done()

			if sink != nil {
				sink(bus.Event{Name: bus.EventToolStart, Payload: bus.ToolStartPayload{ChatID: chatID, Name: tu.ToolName}})
			}

			res := l.Tools.Execute(ctx, tu.ToolName, auth, json.RawMessage(tu.ToolInput))

			if tu.ToolName == "send_message" && !res.IsError {
				mu.Lock()
				*usedSendMessage = true
				mu.Unlock()
			}

			if sink != nil {
				sink(bus.Event{Name: bus.EventToolResult, Payload: bus.ToolResultPayload{
					ChatID: chatID, Name: tu.ToolName, IsError: res.IsError, Preview: preview(res.Content, 160),
					DurationMs: res.DurationMs, StatusCode: res.StatusCode, Bytes: res.Bytes, ErrorType: res.ErrorType,
				}})
			}

			results[i] = providers.ContentBlock{
				Type: providers.BlockToolResult, ToolUseID: tu.ToolUseID,
				ToolResult: res.Content, ToolIsError: res.IsError,
			}
		}(i, tu)
	}
	wg.Wait()
	return results
}

func toolCallSignature(toolUses []providers.ContentBlock) string {
	if len(toolUses) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tu := range toolUses {
		b.WriteString(tu.ToolName)
		b.Write(tu.ToolInput)
		b.WriteByte(';')
	}
	return b.String()
}

func preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// emptyReplyFallback is spec §7's exact user-visible string for an empty
// final text, regardless of which stop reason produced it.
const emptyReplyFallback = "I couldn't produce a visible reply after an automatic retry. Please try again."
