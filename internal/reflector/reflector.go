// Package reflector implements the Reflector (spec §4.6): a periodic tick
// that extracts durable facts from recent chat activity into Memory rows,
// deduplicating against what's already stored via word-Jaccard similarity.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

const (
	recentMessageLimit = 30
	dedupThreshold     = 0.5
	maxContentChars     = 150
	defaultConfidence  = 0.6
)

const extractionSystemPrompt = `You extract durable facts worth remembering from a conversation excerpt.
Return a JSON array only, each element shaped {"content": string, "category": "PROFILE"|"KNOWLEDGE"|"EVENT"}.
"content" must be <=150 characters. Only include facts that are non-transient (skip small talk, one-off
requests, and anything already obvious from context). Return [] if nothing qualifies.`

type candidate struct {
	Content  string `json:"content"`
	Category string `json:"category"`
}

// Reflector drives the per-tick memory extraction described in spec §4.6.
type Reflector struct {
	Store    *store.Store
	Provider providers.Provider
	Model    string
	Interval time.Duration
	semantic *semanticDedup
}

func New(st *store.Store, provider providers.Provider, model string, interval time.Duration, embed chromem.EmbeddingFunc) *Reflector {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Reflector{Store: st, Provider: provider, Model: model, Interval: interval, semantic: newSemanticDedup(embed)}
}

// Run blocks, ticking every r.Interval until ctx is cancelled.
func (r *Reflector) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce implements spec §4.6 steps 1-5 for every chat active since
// `now - 2*interval`.
func (r *Reflector) RunOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-2 * r.Interval)
	chatIDs, err := r.Store.DistinctChatsWithMessagesSince(ctx, cutoff)
	if err != nil {
		slog.Warn("reflector: chat scan failed", "error", err)
		return
	}
	for _, chatID := range chatIDs {
		r.reflectChat(ctx, chatID)
	}
}

func (r *Reflector) reflectChat(ctx context.Context, chatID int64) {
	started := time.Now().UTC()

	msgs, err := r.Store.RecentMessages(ctx, chatID, recentMessageLimit)
	if err != nil {
		slog.Warn("reflector: history fetch failed", "chat_id", chatID, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	var transcript strings.Builder
	for _, m := range msgs {
		sender := m.SenderName
		if m.IsFromBot {
			sender = "assistant"
		}
		fmt.Fprintf(&transcript, "[%s]: %s\n", sender, m.Content)
	}

	resp, err := r.Provider.Chat(ctx, providers.ChatRequest{
		System:   extractionSystemPrompt,
		Messages: []providers.Message{providers.NewTextMessage("user", transcript.String())},
		Model:    r.Model,
		MaxTokens: 1024,
	})
	dedupMethod := "jaccard"
	if r.semantic != nil {
		dedupMethod = "jaccard+embedding"
	}
	run := store.MemoryReflectorRun{ChatID: &chatID, StartedAt: started, DedupMethod: dedupMethod}
	if err != nil {
		run.FinishedAt = time.Now().UTC()
		run.ParseOK = false
		if rerr := r.Store.RecordReflectorRun(ctx, run); rerr != nil {
			slog.Warn("reflector: failed to record run", "chat_id", chatID, "error", rerr)
		}
		slog.Warn("reflector: extraction call failed", "chat_id", chatID, "error", err)
		return
	}

	candidates, parseOK := parseCandidates(resp.Text())
	run.Extracted = len(candidates)
	run.ParseOK = parseOK

	if parseOK && len(candidates) > 0 {
		existing, eerr := r.Store.MemoriesForChatSince(ctx, chatID)
		if eerr != nil {
			slog.Warn("reflector: existing-memory fetch failed", "chat_id", chatID, "error", eerr)
			existing = nil
		}
		existingTokens := make([][]string, len(existing))
		existingContents := make([]string, len(existing))
		for i, m := range existing {
			existingTokens[i] = tokenize(m.Content)
			existingContents[i] = m.Content
		}

		for _, c := range candidates {
			content := truncate(strings.TrimSpace(c.Content), maxContentChars)
			if content == "" {
				run.Skipped++
				continue
			}
			category := normalizeCategory(c.Category)
			candTokens := tokenize(content)
			if isDuplicate(candTokens, existingTokens) {
				run.Skipped++
				continue
			}
			if r.semantic.isDuplicate(ctx, content, existingContents) {
				run.Skipped++
				continue
			}
			if _, ierr := r.Store.InsertMemory(ctx, &store.Memory{
				ChatID: &chatID, Content: content, Category: category,
				Source: store.SourceReflector, Confidence: defaultConfidence,
			}); ierr != nil {
				slog.Warn("reflector: insert memory failed", "chat_id", chatID, "error", ierr)
				run.Skipped++
				continue
			}
			run.Inserted++
			existingTokens = append(existingTokens, candTokens)
			existingContents = append(existingContents, content)
		}
	}

	run.FinishedAt = time.Now().UTC()
	if rerr := r.Store.RecordReflectorRun(ctx, run); rerr != nil {
		slog.Warn("reflector: failed to record run", "chat_id", chatID, "error", rerr)
	}
}

// parseCandidates implements spec §4.6 step 3: prefer a direct JSON array,
// else retry against the first "[" to last "]" substring.
func parseCandidates(text string) ([]candidate, bool) {
	var out []candidate
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, true
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err == nil {
		return out, true
	}
	return nil, false
}

func normalizeCategory(c string) store.MemoryCategory {
	switch strings.ToUpper(strings.TrimSpace(c)) {
	case string(store.MemoryProfile):
		return store.MemoryProfile
	case string(store.MemoryEvent):
		return store.MemoryEvent
	default:
		return store.MemoryKnowledge
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// isDuplicate implements spec §4.6 step 4: insert only if no existing
// memory has word-Jaccard similarity >= dedupThreshold against candidate.
func isDuplicate(candidate []string, existing [][]string) bool {
	for _, tokens := range existing {
		if jaccard(candidate, tokens) >= dedupThreshold {
			return true
		}
	}
	return false
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := make(map[string]bool, len(a))
	for _, w := range a {
		setA[w] = true
	}
	setB := make(map[string]bool, len(b))
	for _, w := range b {
		setB[w] = true
	}
	var intersection, union int
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union = len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
