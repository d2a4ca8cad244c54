package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
)

// Message mirrors spec §3's Message entity.
type Message struct {
	ID         string
	ChatID     int64
	SenderName string
	Content    string
	IsFromBot  bool
	Timestamp  time.Time
}

// StoreMessage upserts a message by (id, chat_id): a message with a
// transport-supplied id already present for that chat is a no-op on the
// duplicate-id path per spec's "at most once" ingress invariant, but a
// direct StoreMessage call (e.g. the bot's own reply) always writes the
// latest content/timestamp (spec §8 "Message upsert idempotence").
func (s *Store) StoreMessage(ctx context.Context, m Message) error {
	_, err := s.exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_name, content, is_from_bot, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id, chat_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content     = excluded.content,
			is_from_bot = excluded.is_from_bot,
			timestamp   = excluded.timestamp`,
		m.ID, m.ChatID, nullIfEmpty(m.SenderName), m.Content, boolToInt(m.IsFromBot), m.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return apperr.New(apperr.Storage, "store message", err)
	}
	return nil
}

// MessageExists reports whether (id, chatID) is already stored — the
// ingress-dedup check of spec §4.2 step 2.
func (s *Store) MessageExists(ctx context.Context, id string, chatID int64) (bool, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(1) FROM messages WHERE id = ? AND chat_id = ?`, id, chatID).Scan(&n)
	if err != nil {
		return false, apperr.New(apperr.Storage, "message exists", err)
	}
	return n > 0, nil
}

// RecentMessages returns up to limit most recent messages for chatID,
// oldest-first, as the Store's general-purpose query (spec §4.1 "Recent-
// messages queries descend by timestamp and return oldest-first").
func (s *Store) RecentMessages(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	rows, err := s.query(ctx, `
		SELECT id, chat_id, COALESCE(sender_name,''), COALESCE(content,''), is_from_bot, timestamp
		FROM (
			SELECT * FROM messages WHERE chat_id = ? ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// HistoryForChat implements spec §4.1's group-vs-private history
// retrieval: in a group, messages since the bot's last message timestamp
// (bounded by max); otherwise the last `fallback` messages.
func (s *Store) HistoryForChat(ctx context.Context, chatID int64, isGroup bool, max, fallback int) ([]Message, error) {
	if !isGroup {
		return s.RecentMessages(ctx, chatID, fallback)
	}

	var lastBotTS sql.NullString
	err := s.queryRow(ctx, `SELECT MAX(timestamp) FROM messages WHERE chat_id = ? AND is_from_bot = 1`, chatID).Scan(&lastBotTS)
	if err != nil {
		return nil, apperr.New(apperr.Storage, "last bot message", err)
	}
	if !lastBotTS.Valid {
		return s.RecentMessages(ctx, chatID, fallback)
	}

	rows, err := s.query(ctx, `
		SELECT id, chat_id, COALESCE(sender_name,''), COALESCE(content,''), is_from_bot, timestamp
		FROM (
			SELECT * FROM messages WHERE chat_id = ? AND timestamp >= ? ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`, chatID, lastBotTS.String, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesSince returns every message for chatID strictly newer than
// since, oldest-first — used by the Agent Loop's session-resume step
// (spec §4.3.2 "append any user messages recorded since session.updated_at").
func (s *Store) MessagesSince(ctx context.Context, chatID int64, since time.Time) ([]Message, error) {
	rows, err := s.query(ctx, `
		SELECT id, chat_id, COALESCE(sender_name,''), COALESCE(content,''), is_from_bot, timestamp
		FROM messages WHERE chat_id = ? AND timestamp > ? ORDER BY timestamp ASC`,
		chatID, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		var isBot int
		var ts string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderName, &m.Content, &isBot, &ts); err != nil {
			return nil, apperr.New(apperr.Storage, "scan message", err)
		}
		m.IsFromBot = isBot != 0
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
