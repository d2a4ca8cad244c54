package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// SessionData is the serialized per-chat conversation state (spec §3
// Session: "one per chat_id, serialized message sequence"), plus the
// bookkeeping columns added in migration v10 that the Agent Loop's
// compaction/usage accounting reads and writes.
type SessionData struct {
	ChatID   int64
	Messages []providers.Message

	Summary string // last compaction summary text, if any

	ParentSessionKey string
	ForkPoint        int

	Provider                  string
	Model                     string
	Channel                   string
	InputTokens               int
	OutputTokens              int
	CompactionCount           int
	MemoryFlushCompactionCount int
	ContextWindow             int
	LastPromptTokens          int
	Label                     string

	UpdatedAt time.Time
}

// GetSession fetches a chat's session, or (nil, nil) if none exists yet.
func (s *Store) GetSession(ctx context.Context, chatID int64) (*SessionData, error) {
	row := s.queryRow(ctx, `
		SELECT data, COALESCE(summary,''), updated_at,
		       COALESCE(parent_session_key,''), COALESCE(fork_point,0),
		       COALESCE(provider,''), COALESCE(model,''), COALESCE(channel,''),
		       input_tokens, output_tokens, compaction_count,
		       memory_flush_compaction_count, context_window, last_prompt_tokens,
		       COALESCE(label,'')
		FROM sessions WHERE chat_id = ?`, chatID)

	var data, updatedAt string
	sd := &SessionData{ChatID: chatID}
	err := row.Scan(&data, &sd.Summary, &updatedAt, &sd.ParentSessionKey, &sd.ForkPoint,
		&sd.Provider, &sd.Model, &sd.Channel, &sd.InputTokens, &sd.OutputTokens,
		&sd.CompactionCount, &sd.MemoryFlushCompactionCount, &sd.ContextWindow,
		&sd.LastPromptTokens, &sd.Label)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.Storage, "get session", err)
	}
	if err := json.Unmarshal([]byte(data), &sd.Messages); err != nil {
		return nil, apperr.New(apperr.Parsing, "unmarshal session data", err)
	}
	sd.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return sd, nil
}

// SaveSession upserts a chat's session state. Last-writer-wins: spec §5
// allows this without additional locking beyond the store's single-writer
// guarantee. No per-chat lock upstream serializes turns for the same chat,
// so of two concurrent turns the later save wins.
func (s *Store) SaveSession(ctx context.Context, sd *SessionData) error {
	data, err := json.Marshal(sd.Messages)
	if err != nil {
		return apperr.New(apperr.Parsing, "marshal session data", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	_, err = s.exec(ctx, `
		INSERT INTO sessions (
			chat_id, data, summary, updated_at, parent_session_key, fork_point,
			provider, model, channel, input_tokens, output_tokens,
			compaction_count, memory_flush_compaction_count, context_window,
			last_prompt_tokens, label
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			data = excluded.data,
			summary = excluded.summary,
			updated_at = excluded.updated_at,
			parent_session_key = excluded.parent_session_key,
			fork_point = excluded.fork_point,
			provider = excluded.provider,
			model = excluded.model,
			channel = excluded.channel,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			compaction_count = excluded.compaction_count,
			memory_flush_compaction_count = excluded.memory_flush_compaction_count,
			context_window = excluded.context_window,
			last_prompt_tokens = excluded.last_prompt_tokens,
			label = excluded.label`,
		sd.ChatID, string(data), nullIfEmpty(sd.Summary), now,
		nullIfEmpty(sd.ParentSessionKey), sd.ForkPoint,
		nullIfEmpty(sd.Provider), nullIfEmpty(sd.Model), nullIfEmpty(sd.Channel),
		sd.InputTokens, sd.OutputTokens, sd.CompactionCount,
		sd.MemoryFlushCompactionCount, sd.ContextWindow, sd.LastPromptTokens,
		nullIfEmpty(sd.Label))
	if err != nil {
		return apperr.New(apperr.Storage, "save session", err)
	}
	return nil
}

// CountSessions reports the number of live session rows, backing
// MetricsPoint.active_sessions (spec §3, §4.8).
func (s *Store) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM sessions`).Scan(&n); err != nil {
		return 0, apperr.New(apperr.Storage, "count sessions", err)
	}
	return n, nil
}

// DeleteSession removes a chat's session row (used by /reset and chat
// deletion; ResetChat/DeleteChatData do this inline within their own
// transaction, this is the standalone equivalent for other callers).
func (s *Store) DeleteSession(ctx context.Context, chatID int64) error {
	_, err := s.exec(ctx, `DELETE FROM sessions WHERE chat_id = ?`, chatID)
	if err != nil {
		return apperr.New(apperr.Storage, "delete session", err)
	}
	return nil
}

// ForkSession clones chatID's session under a new parent_session_key
// marker at the given fork point (spec §3 "Session fork metadata" —
// persisted only, not consumed downstream per SPEC_FULL.md §D decision 4).
func (s *Store) ForkSession(ctx context.Context, chatID int64, parentKey string, forkPoint int) error {
	sd, err := s.GetSession(ctx, chatID)
	if err != nil {
		return err
	}
	if sd == nil {
		sd = &SessionData{ChatID: chatID}
	}
	sd.ParentSessionKey = parentKey
	sd.ForkPoint = forkPoint
	return s.SaveSession(ctx, sd)
}
