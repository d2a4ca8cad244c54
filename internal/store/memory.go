package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
)

// MemoryCategory enumerates spec §3's Memory.category.
type MemoryCategory string

const (
	MemoryProfile   MemoryCategory = "PROFILE"
	MemoryKnowledge MemoryCategory = "KNOWLEDGE"
	MemoryEvent     MemoryCategory = "EVENT"
)

// MemorySource enumerates spec §3's Memory.source.
type MemorySource string

const (
	SourceTool            MemorySource = "tool"
	SourceReflector       MemorySource = "reflector"
	SourceExplicit        MemorySource = "explicit"
	SourceExplicitConflict MemorySource = "explicit_conflict"
	SourceLegacy          MemorySource = "legacy"
)

// Memory mirrors spec §3's Memory entity. ChatID is nil for global memories.
type Memory struct {
	ID              int64
	ChatID          *int64
	Content         string
	Category        MemoryCategory
	CreatedAt       time.Time
	UpdatedAt       time.Time
	EmbeddingModel  string
	Confidence      float64
	Source          MemorySource
	LastSeenAt      *time.Time
	IsArchived      bool
	ArchivedAt      *time.Time
	ChatChannel     string
	ExternalChatID  string
}

// MemoryReflectorRun mirrors spec §3's MemoryReflectorRun telemetry row.
type MemoryReflectorRun struct {
	ID          int64
	ChatID      *int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Extracted   int
	Inserted    int
	Updated     int
	Skipped     int
	DedupMethod string
	ParseOK     bool
}

// clampConfidence enforces spec §3's invariant: confidence in [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// InsertMemory inserts a new memory row, clamping confidence.
func (s *Store) InsertMemory(ctx context.Context, m *Memory) (int64, error) {
	now := time.Now().UTC()
	if m.Source == "" {
		m.Source = SourceTool
	}
	if m.Category == "" {
		m.Category = MemoryKnowledge
	}
	var chatIDArg interface{}
	if m.ChatID != nil {
		chatIDArg = *m.ChatID
	}
	res, err := s.exec(ctx, `
		INSERT INTO memories (
			chat_id, content, category, created_at, updated_at, embedding_model,
			confidence, source, last_seen_at, is_archived, chat_channel, external_chat_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		chatIDArg, m.Content, string(m.Category), now.Format(time.RFC3339), now.Format(time.RFC3339),
		nullIfEmpty(m.EmbeddingModel), clampConfidence(m.Confidence), string(m.Source),
		now.Format(time.RFC3339), nullIfEmpty(m.ChatChannel), nullIfEmpty(m.ExternalChatID))
	if err != nil {
		return 0, apperr.New(apperr.Storage, "insert memory", err)
	}
	return res.LastInsertId()
}

// MemoriesForContext returns up to limit non-archived memories with
// confidence >= minConfidence, scoped to chatID or global (chat_id IS
// NULL), for the Agent Loop's context assembly (spec §4.3.1: "≤30
// memories, confidence>=0.45, chat-scoped or global").
func (s *Store) MemoriesForContext(ctx context.Context, chatID int64, minConfidence float64, limit int) ([]Memory, error) {
	rows, err := s.query(ctx, `
		SELECT id, chat_id, content, category, created_at, updated_at,
		       COALESCE(embedding_model,''), confidence, source, last_seen_at,
		       is_archived, archived_at, COALESCE(chat_channel,''), COALESCE(external_chat_id,'')
		FROM memories
		WHERE is_archived = 0 AND confidence >= ? AND (chat_id = ? OR chat_id IS NULL)
		ORDER BY confidence DESC, last_seen_at DESC
		LIMIT ?`, minConfidence, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// MemoriesForChatSince returns non-archived chat-scoped memories, for
// dedup lookups by the reflector.
func (s *Store) MemoriesForChatSince(ctx context.Context, chatID int64) ([]Memory, error) {
	rows, err := s.query(ctx, `
		SELECT id, chat_id, content, category, created_at, updated_at,
		       COALESCE(embedding_model,''), confidence, source, last_seen_at,
		       is_archived, archived_at, COALESCE(chat_channel,''), COALESCE(external_chat_id,'')
		FROM memories WHERE chat_id = ? AND is_archived = 0`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		var m Memory
		var chatID sql.NullInt64
		var category, source, createdAt, updatedAt string
		var lastSeenAt, archivedAt sql.NullString
		var isArchived int
		if err := rows.Scan(&m.ID, &chatID, &m.Content, &category, &createdAt, &updatedAt,
			&m.EmbeddingModel, &m.Confidence, &source, &lastSeenAt, &isArchived, &archivedAt,
			&m.ChatChannel, &m.ExternalChatID); err != nil {
			return nil, apperr.New(apperr.Storage, "scan memory", err)
		}
		if chatID.Valid {
			v := chatID.Int64
			m.ChatID = &v
		}
		m.Category = MemoryCategory(category)
		m.Source = MemorySource(source)
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		if lastSeenAt.Valid {
			ts, _ := time.Parse(time.RFC3339, lastSeenAt.String)
			m.LastSeenAt = &ts
		}
		m.IsArchived = isArchived != 0
		if archivedAt.Valid {
			ts, _ := time.Parse(time.RFC3339, archivedAt.String)
			m.ArchivedAt = &ts
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ArchiveMemory marks a memory archived, enforcing the invariant that
// is_archived=1 implies archived_at is set.
func (s *Store) ArchiveMemory(ctx context.Context, tx *sql.Tx, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	exec := s.txExecOrDirect(ctx, tx)
	_, err := exec(`UPDATE memories SET is_archived = 1, archived_at = ? WHERE id = ?`, now, id)
	return err
}

// SupersedeMemory implements spec §4.6's explicit-conflict supersedence:
// insert the replacement, archive the original, and link them via a
// MemorySupersedeEdge, all in one transaction.
func (s *Store) SupersedeMemory(ctx context.Context, fromID int64, replacement *Memory, reason string) (int64, error) {
	var newID int64
	err := s.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		replacement.Source = SourceExplicitConflict
		now := time.Now().UTC()
		var chatIDArg interface{}
		if replacement.ChatID != nil {
			chatIDArg = *replacement.ChatID
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO memories (
				chat_id, content, category, created_at, updated_at, embedding_model,
				confidence, source, last_seen_at, is_archived, chat_channel, external_chat_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			chatIDArg, replacement.Content, string(replacement.Category), now.Format(time.RFC3339), now.Format(time.RFC3339),
			nullIfEmpty(replacement.EmbeddingModel), clampConfidence(replacement.Confidence), string(replacement.Source),
			now.Format(time.RFC3339), nullIfEmpty(replacement.ChatChannel), nullIfEmpty(replacement.ExternalChatID))
		if err != nil {
			return err
		}
		newID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET is_archived = 1, archived_at = ? WHERE id = ?`, now.Format(time.RFC3339), fromID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memory_supersede_edges (from_memory_id, to_memory_id, reason, created_at) VALUES (?, ?, ?, ?)`,
			fromID, newID, nullIfEmpty(reason), now.Format(time.RFC3339))
		return err
	})
	return newID, err
}

// RecordReflectorRun writes one MemoryReflectorRun telemetry row (spec
// §4.6: "write one MemoryReflectorRun row per reflector tick").
func (s *Store) RecordReflectorRun(ctx context.Context, r MemoryReflectorRun) error {
	var chatIDArg interface{}
	if r.ChatID != nil {
		chatIDArg = *r.ChatID
	}
	_, err := s.exec(ctx, `
		INSERT INTO memory_reflector_runs (
			chat_id, started_at, finished_at, extracted, inserted, updated, skipped, dedup_method, parse_ok
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chatIDArg, r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339),
		r.Extracted, r.Inserted, r.Updated, r.Skipped, nullIfEmpty(r.DedupMethod), boolToInt(r.ParseOK))
	if err != nil {
		return apperr.New(apperr.Storage, "record reflector run", err)
	}
	return nil
}

// LogMemoryInjection records that a memory was surfaced into a chat's
// context assembly (spec §3 MemoryInjectionLog).
func (s *Store) LogMemoryInjection(ctx context.Context, chatID, memoryID int64) error {
	_, err := s.exec(ctx, `
		INSERT INTO memory_injection_log (chat_id, memory_id, injected_at) VALUES (?, ?, ?)`,
		chatID, memoryID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.New(apperr.Storage, "log memory injection", err)
	}
	return nil
}

// DistinctChatsWithMessagesSince returns chat_ids with at least one
// non-bot message after cutoff, the reflector's per-tick scan seed
// (spec §4.6).
func (s *Store) DistinctChatsWithMessagesSince(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.query(ctx, `
		SELECT DISTINCT chat_id FROM messages WHERE is_from_bot = 0 AND timestamp > ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.New(apperr.Storage, "scan chat id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// txExecOrDirect lets a handful of helper methods run either inside an
// existing transaction or directly against the store, without duplicating
// every statement.
func (s *Store) txExecOrDirect(ctx context.Context, tx *sql.Tx) func(query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return func(query string, args ...interface{}) (sql.Result, error) {
			return tx.ExecContext(ctx, query, args...)
		}
	}
	return func(query string, args ...interface{}) (sql.Result, error) {
		return s.exec(ctx, query, args...)
	}
}
