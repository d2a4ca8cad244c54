// Package commands implements the Command Dispatcher (spec §4.7): the
// built-in "/"-prefixed commands that run before the Agent Loop and never
// touch the LLM.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
)

// Dispatcher satisfies channels.CommandDispatcher.
type Dispatcher struct {
	Store          *store.Store
	Skills         *tools.SkillsCatalog
	DataDir        string
	DefaultProvider string
	DefaultModel    string
}

func New(st *store.Store, skills *tools.SkillsCatalog, dataDir, defaultProvider, defaultModel string) *Dispatcher {
	return &Dispatcher{Store: st, Skills: skills, DataDir: dataDir, DefaultProvider: defaultProvider, DefaultModel: defaultModel}
}

// Dispatch implements spec §4.7: recognize a leading "/" command, run it
// against the store directly, and report whether it was handled at all —
// an unrecognized command falls through to the Agent Loop per spec's
// "Unknown commands fall through" rule.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID int64, body string) (bool, string) {
	body = strings.TrimSpace(body)
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return false, ""
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/reset":
		return true, d.reset(ctx, chatID)
	case "/skills":
		return true, d.skills()
	case "/reload-skills":
		return true, d.reloadSkills()
	case "/archive":
		return true, d.archive(ctx, chatID)
	case "/usage":
		return true, d.usage(ctx, chatID)
	case "/status":
		return true, d.status(ctx, chatID)
	case "/model":
		return true, d.model(ctx, chatID, args)
	default:
		return false, ""
	}
}

func (d *Dispatcher) reset(ctx context.Context, chatID int64) string {
	if err := d.Store.ResetChat(ctx, chatID); err != nil {
		slog.Warn("/reset failed", "chat_id", chatID, "error", err)
		return "Failed to clear context, please try again."
	}
	return "Context cleared (session + chat history)."
}

func (d *Dispatcher) skills() string {
	if d.Skills == nil {
		return "No skills catalog configured."
	}
	names := d.Skills.Names()
	if len(names) == 0 {
		return "No skills installed."
	}
	return "Available skills:\n" + strings.Join(names, "\n")
}

func (d *Dispatcher) reloadSkills() string {
	if d.Skills == nil {
		return "No skills catalog configured."
	}
	if err := d.Skills.Reload(); err != nil {
		return fmt.Sprintf("Skill reload failed: %v", err)
	}
	return fmt.Sprintf("Reloaded %d skills.", len(d.Skills.Names()))
}

func (d *Dispatcher) archive(ctx context.Context, chatID int64) string {
	chat, err := d.Store.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return "Could not resolve this chat."
	}
	sess, err := d.Store.GetSession(ctx, chatID)
	if err != nil {
		return fmt.Sprintf("Archive failed: %v", err)
	}
	limit := 0
	if sess != nil {
		limit = len(sess.Messages)
	}
	if limit == 0 {
		return "No active session to archive."
	}
	msgs, err := d.Store.RecentMessages(ctx, chatID, limit)
	if err != nil || len(msgs) == 0 {
		return "No active session to archive."
	}
	path, err := tools.ArchiveConversation(d.DataDir, chat.Channel, chatID, msgs)
	if err != nil {
		return fmt.Sprintf("Archive failed: %v", err)
	}
	return fmt.Sprintf("Archived %d messages to %s", len(msgs), path)
}

func (d *Dispatcher) usage(ctx context.Context, chatID int64) string {
	id := chatID
	now := time.Now().UTC()
	day := now.Add(-24 * time.Hour)
	week := now.Add(-7 * 24 * time.Hour)

	allTime, err := d.Store.UsageTotalsSince(ctx, &id, nil)
	if err != nil {
		return fmt.Sprintf("Usage query failed: %v", err)
	}
	last24h, _ := d.Store.UsageTotalsSince(ctx, &id, &day)
	last7d, _ := d.Store.UsageTotalsSince(ctx, &id, &week)
	top, _ := d.Store.TopModelsByUsage(ctx, &id, nil, 3)

	var b strings.Builder
	fmt.Fprintf(&b, "Usage for this chat:\n")
	fmt.Fprintf(&b, "  all-time:  %d calls, %d tokens\n", allTime.Calls, allTime.TotalTokens)
	fmt.Fprintf(&b, "  last 24h:  %d calls, %d tokens\n", last24h.Calls, last24h.TotalTokens)
	fmt.Fprintf(&b, "  last 7d:   %d calls, %d tokens\n", last7d.Calls, last7d.TotalTokens)
	if len(top) > 0 {
		b.WriteString("  top models:\n")
		for _, m := range top {
			fmt.Fprintf(&b, "    %s: %d calls, %d tokens\n", m.Model, m.Calls, m.TotalTokens)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) status(ctx context.Context, chatID int64) string {
	chat, err := d.Store.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return "Could not resolve this chat."
	}
	sess, _ := d.Store.GetSession(ctx, chatID)

	provider, model := d.DefaultProvider, d.DefaultModel
	sessionSize := 0
	if sess != nil {
		if sess.Provider != "" {
			provider = sess.Provider
		}
		if sess.Model != "" {
			model = sess.Model
		}
		sessionSize = len(sess.Messages)
	}

	tasks, _ := d.Store.ListScheduledTasksByChat(ctx, chatID)
	counts := map[store.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n", chat.Channel)
	fmt.Fprintf(&b, "Provider/model: %s / %s\n", provider, model)
	fmt.Fprintf(&b, "Session size: %d messages\n", sessionSize)
	fmt.Fprintf(&b, "Scheduled tasks: %d active, %d paused, %d completed, %d cancelled\n",
		counts[store.TaskActive], counts[store.TaskPaused], counts[store.TaskCompleted], counts[store.TaskCancelled])
	return strings.TrimRight(b.String(), "\n")
}

// model implements spec §4.7's "/model": report the current provider/model
// with no arguments, or switch the chat's default model name with one
// (SPEC_FULL.md §D decision 2 — no cross-provider hot-swap, just the
// per-chat model name stored on the session).
func (d *Dispatcher) model(ctx context.Context, chatID int64, args []string) string {
	sess, err := d.Store.GetSession(ctx, chatID)
	if err != nil {
		return fmt.Sprintf("Model query failed: %v", err)
	}

	if len(args) == 0 {
		provider, model := d.DefaultProvider, d.DefaultModel
		if sess != nil {
			if sess.Provider != "" {
				provider = sess.Provider
			}
			if sess.Model != "" {
				model = sess.Model
			}
		}
		return fmt.Sprintf("Current provider/model: %s / %s", provider, model)
	}

	newModel := args[0]
	if sess == nil {
		sess = &store.SessionData{ChatID: chatID, Provider: d.DefaultProvider}
	}
	sess.Model = newModel
	sess.UpdatedAt = time.Now().UTC()
	if err := d.Store.SaveSession(ctx, sess); err != nil {
		return fmt.Sprintf("Model switch failed: %v", err)
	}
	return fmt.Sprintf("Switched this chat's default model to %s.", newModel)
}
