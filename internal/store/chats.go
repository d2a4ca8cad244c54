package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
)

// Chat mirrors spec §3's Chat entity.
type Chat struct {
	ChatID          int64
	Channel         string
	ExternalChatID  string
	ChatTitle       string
	ChatType        string
	LastMessageTime time.Time
}

// ResolveOrCreateChatID implements spec §4.1's chat identity resolution:
//  1. look up (channel, external_chat_id); if found, refresh mutable fields
//     and return it.
//  2. if external_chat_id parses as an integer not yet used as a chat_id,
//     insert using it (preserves pre-migration numeric identity).
//  3. otherwise auto-assign a chat_id.
func (s *Store) ResolveOrCreateChatID(ctx context.Context, channel, externalChatID, chatTitle, chatType string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var chatID int64
	err := s.withLock(func() error {
		row := s.db.QueryRowContext(ctx, `SELECT chat_id FROM chats WHERE channel = ? AND external_chat_id = ?`, channel, externalChatID)
		switch scanErr := row.Scan(&chatID); scanErr {
		case nil:
			_, execErr := s.db.ExecContext(ctx, `UPDATE chats SET chat_title = ?, chat_type = ?, last_message_time = ? WHERE chat_id = ?`,
				nullIfEmpty(chatTitle), nullIfEmpty(chatType), now, chatID)
			return execErr
		case sql.ErrNoRows:
			// fall through to insert below
		default:
			return scanErr
		}

		if n, convErr := strconv.ParseInt(externalChatID, 10, 64); convErr == nil {
			var exists int
			checkErr := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chats WHERE chat_id = ?`, n).Scan(&exists)
			if checkErr != nil {
				return checkErr
			}
			if exists == 0 {
				_, insErr := s.db.ExecContext(ctx,
					`INSERT INTO chats (chat_id, channel, external_chat_id, chat_title, chat_type, last_message_time) VALUES (?, ?, ?, ?, ?, ?)`,
					n, channel, externalChatID, nullIfEmpty(chatTitle), nullIfEmpty(chatType), now)
				if insErr != nil {
					return insErr
				}
				chatID = n
				return nil
			}
		}

		res, insErr := s.db.ExecContext(ctx,
			`INSERT INTO chats (channel, external_chat_id, chat_title, chat_type, last_message_time) VALUES (?, ?, ?, ?, ?)`,
			channel, externalChatID, nullIfEmpty(chatTitle), nullIfEmpty(chatType), now)
		if insErr != nil {
			return insErr
		}
		chatID, insErr = res.LastInsertId()
		return insErr
	})
	if err != nil {
		return 0, apperr.New(apperr.Storage, "resolve_or_create_chat_id", err)
	}
	return chatID, nil
}

// GetChat fetches a chat by its surrogate id.
func (s *Store) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	row := s.queryRow(ctx, `SELECT chat_id, channel, external_chat_id, COALESCE(chat_title,''), COALESCE(chat_type,''), COALESCE(last_message_time,'') FROM chats WHERE chat_id = ?`, chatID)
	c := &Chat{}
	var lastMsg string
	if err := row.Scan(&c.ChatID, &c.Channel, &c.ExternalChatID, &c.ChatTitle, &c.ChatType, &lastMsg); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.New(apperr.Storage, "get chat", err)
	}
	if lastMsg != "" {
		c.LastMessageTime, _ = time.Parse(time.RFC3339, lastMsg)
	}
	return c, nil
}

// DeleteChatData cascades a chat deletion across every dependent table in
// one transaction (spec §3 invariant). Memories and chat metadata are NOT
// deleted by /reset (spec §4.7), only by this explicit operation.
func (s *Store) DeleteChatData(ctx context.Context, chatID int64) error {
	return s.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM llm_usage_log WHERE chat_id = ?`,
			`DELETE FROM sessions WHERE chat_id = ?`,
			`DELETE FROM messages WHERE chat_id = ?`,
			`DELETE FROM task_run_log WHERE chat_id = ?`,
			`DELETE FROM scheduled_task_dlq WHERE chat_id = ?`,
			`DELETE FROM scheduled_tasks WHERE chat_id = ?`,
			`DELETE FROM memory_injection_log WHERE chat_id = ?`,
			`DELETE FROM memory_reflector_runs WHERE chat_id = ?`,
			`DELETE FROM memory_supersede_edges WHERE from_memory_id IN (SELECT id FROM memories WHERE chat_id = ?) OR to_memory_id IN (SELECT id FROM memories WHERE chat_id = ?)`,
			`DELETE FROM memories WHERE chat_id = ?`,
			`DELETE FROM chats WHERE chat_id = ?`,
		}
		for _, stmt := range stmts {
			argCount := 1
			if stmt == stmts[8] {
				argCount = 2
			}
			var err error
			if argCount == 2 {
				_, err = tx.ExecContext(ctx, stmt, chatID, chatID)
			} else {
				_, err = tx.ExecContext(ctx, stmt, chatID)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetChat implements /reset: transactionally delete the session and the
// chat's message history, keeping memories and chat metadata (spec §4.7,
// scenario 4).
func (s *Store) ResetChat(ctx context.Context, chatID int64) error {
	return s.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE chat_id = ?`, chatID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
		return err
	})
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
