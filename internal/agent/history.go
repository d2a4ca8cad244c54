package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// loadMessages implements spec §4.3.2's session-resume algorithm.
func (l *Loop) loadMessages(ctx context.Context, chatID int64, isGroup bool) ([]providers.Message, *store.SessionData, error) {
	sess, err := l.Store.GetSession(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}

	if sess != nil && len(sess.Messages) > 0 {
		msgs := sess.Messages
		fresh, ferr := l.Store.MessagesSince(ctx, chatID, sess.UpdatedAt)
		if ferr != nil {
			return nil, nil, ferr
		}
		for _, m := range fresh {
			if m.IsFromBot {
				continue
			}
			msgs = append(msgs, providers.NewTextMessage("user", wrapUserMessage(m.SenderName, truncateUserContent(m.Content, l.Config.MaxMessageChars))))
		}
		return mergeConsecutiveRoles(msgs), sess, nil
	}

	history, herr := l.Store.HistoryForChat(ctx, chatID, isGroup, l.Config.MaxHistoryMessages, l.Config.MaxHistoryMessages)
	if herr != nil {
		return nil, nil, herr
	}
	msgs := historyToMessages(history, l.Config.MaxMessageChars)
	return msgs, sess, nil
}

// historyToMessages converts stored messages into provider turns, strips
// leading assistant messages, and pops a trailing assistant message (spec
// §4.3.2: "the LLM expects a user turn last").
func historyToMessages(history []store.Message, maxMessageChars int) []providers.Message {
	var msgs []providers.Message
	for _, m := range history {
		if m.IsFromBot {
			msgs = append(msgs, providers.NewTextMessage("assistant", m.Content))
			continue
		}
		msgs = append(msgs, providers.NewTextMessage("user", wrapUserMessage(m.SenderName, truncateUserContent(m.Content, maxMessageChars))))
	}
	msgs = mergeConsecutiveRoles(msgs)

	for len(msgs) > 0 && msgs[0].Role == "assistant" {
		msgs = msgs[1:]
	}
	if len(msgs) > 0 && msgs[len(msgs)-1].Role == "assistant" {
		msgs = msgs[:len(msgs)-1]
	}
	return msgs
}

// mergeConsecutiveRoles satisfies the role-alternation testable property
// (spec §8): no two adjacent messages share a role.
func mergeConsecutiveRoles(msgs []providers.Message) []providers.Message {
	if len(msgs) == 0 {
		return msgs
	}
	out := []providers.Message{msgs[0]}
	for _, m := range msgs[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role {
			last.Content = append(last.Content, m.Content...)
			continue
		}
		out = append(out, m)
	}
	return out
}

// applyOverridePrompt implements spec §4.3.3: append a `[scheduler]:`-
// prefixed user turn for a scheduler-driven invocation.
func applyOverridePrompt(msgs []providers.Message, overridePrompt string) []providers.Message {
	if overridePrompt == "" {
		return msgs
	}
	turn := providers.NewTextMessage("user", "[scheduler]: "+overridePrompt)
	if len(msgs) > 0 && msgs[len(msgs)-1].Role == "user" {
		msgs[len(msgs)-1].Content = append(msgs[len(msgs)-1].Content, turn.Content...)
		return msgs
	}
	return append(msgs, turn)
}

const compactionTimeout = 60 * time.Second

// maybeCompact implements spec §4.3.4: archive the full transcript, then
// summarize all but the last compact_keep_recent messages via a second
// LLM call with a 60-second timeout; on error or timeout, fall back to
// truncation only.
func (l *Loop) maybeCompact(ctx context.Context, chatID int64, channel string, msgs []providers.Message) []providers.Message {
	if len(msgs) <= l.Config.MaxSessionMessages {
		return msgs
	}

	if err := l.archiveMessages(chatID, channel, msgs); err != nil {
		slog.Warn("compaction archive failed", "chat_id", chatID, "error", err)
	}

	keepRecent := l.Config.CompactKeepRecent
	if keepRecent >= len(msgs) {
		return msgs
	}
	toSummarize, recent := msgs[:len(msgs)-keepRecent], msgs[len(msgs)-keepRecent:]

	summary, err := l.summarize(ctx, chatID, toSummarize)
	if err != nil {
		slog.Warn("compaction summarize failed, falling back to truncation", "chat_id", chatID, "error", err)
		return recent
	}

	compacted := []providers.Message{
		providers.NewTextMessage("user", summary),
		providers.NewTextMessage("assistant", "Got it — continuing from the summarized context above."),
	}
	compacted = append(compacted, recent...)
	return mergeConsecutiveRoles(compacted)
}

func (l *Loop) summarize(ctx context.Context, chatID int64, msgs []providers.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, compactionTimeout)
	defer cancel()

	var transcript strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Text())
	}

	req := providers.ChatRequest{
		System:    "Summarize the following conversation concisely, preserving facts, decisions, and open threads a continuation would need.",
		Messages:  []providers.Message{providers.NewTextMessage("user", transcript.String())},
		Model:     l.Config.Model,
		MaxTokens: 1024,
	}
	resp, err := l.Provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	if logErr := l.Store.LogUsage(ctx, store.LlmUsageEntry{
		ChatID: &chatID, RequestKind: store.RequestCompaction,
		Provider: l.Provider.Name(), Model: req.Model,
		InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens,
		TotalTokens: resp.Usage.TotalTokens,
	}); logErr != nil {
		slog.Warn("compaction usage log failed", "error", logErr)
	}
	return resp.Text(), nil
}

// archiveMessages writes msgs to the markdown archive layout spec §4.3.4/
// §6 define, shared with tools.ArchiveConversation and the "/archive"
// command — but history.go works from in-memory provider Messages rather
// than stored rows, so it renders directly rather than calling that helper.
func (l *Loop) archiveMessages(chatID int64, channel string, msgs []providers.Message) error {
	dir := filepath.Join(l.DataDir, "groups", channel, strconv.FormatInt(chatID, 10), "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, time.Now().UTC().Format("20060102-150405")+".md")

	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n---\n\n", m.Role, m.Text())
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
