package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CurrentSchemaVersion is the version every migrate() call converges to.
const CurrentSchemaVersion = 10

// migrate brings a (possibly legacy, possibly brand-new) database to
// CurrentSchemaVersion. Every step function is idempotent and
// column-additive: it checks "does this exist?" before adding anything, so
// re-running the whole migrate() is always safe (spec §3 "Migration
// determinism", spec §4.1).
func (s *Store) migrate(ctx context.Context) error {
	if err := s.ensureDbMeta(ctx); err != nil {
		return err
	}
	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	steps := []func(context.Context, *sql.Tx) error{
		migrateV1, migrateV2, migrateV3, migrateV4, migrateV5,
		migrateV6, migrateV7, migrateV8, migrateV9, migrateV10,
	}

	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		step := steps[v-1]
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", v, err)
		}
		if err := step(ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", v, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, v, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", v, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE db_meta SET value = ? WHERE key = 'schema_version'`, fmt.Sprintf("%d", v)); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump schema_version to v%d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", v, err)
		}
	}
	return nil
}

func (s *Store) ensureDbMeta(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS db_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO db_meta (key, value) VALUES ('schema_version', '0')`)
	return err
}

// schemaVersion reads db_meta.schema_version, treating a legacy database
// missing the row as version 0 (spec §3 invariant).
func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v int
	row := s.db.QueryRowContext(ctx, `SELECT value FROM db_meta WHERE key = 'schema_version'`)
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func addColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, ddl string) error {
	exists, err := columnExists(ctx, tx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, ddl))
	return err
}

// v1: chats + messages.
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			chat_id           INTEGER PRIMARY KEY,
			channel           TEXT NOT NULL,
			external_chat_id  TEXT NOT NULL,
			chat_title        TEXT,
			chat_type         TEXT,
			last_message_time TEXT,
			UNIQUE (channel, external_chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id          TEXT NOT NULL,
			chat_id     INTEGER NOT NULL,
			sender_name TEXT,
			content     TEXT,
			is_from_bot INTEGER NOT NULL DEFAULT 0,
			timestamp   TEXT NOT NULL,
			PRIMARY KEY (id, chat_id),
			FOREIGN KEY (chat_id) REFERENCES chats(chat_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages(chat_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// v2: sessions.
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sessions (
		chat_id            INTEGER PRIMARY KEY,
		data               TEXT NOT NULL,
		summary            TEXT,
		updated_at         TEXT NOT NULL,
		parent_session_key TEXT,
		fork_point         INTEGER,
		FOREIGN KEY (chat_id) REFERENCES chats(chat_id)
	)`)
	return err
}

// v3: scheduled tasks + run log + dlq.
func migrateV3(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id        INTEGER NOT NULL,
			prompt         TEXT NOT NULL,
			schedule_type  TEXT NOT NULL,
			schedule_value TEXT NOT NULL,
			next_run       TEXT,
			last_run       TEXT,
			status         TEXT NOT NULL DEFAULT 'active',
			created_at     TEXT NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(chat_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks(status, next_run)`,
		`CREATE TABLE IF NOT EXISTS task_run_log (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id        INTEGER NOT NULL,
			chat_id        INTEGER NOT NULL,
			started_at     TEXT NOT NULL,
			finished_at    TEXT NOT NULL,
			duration_ms    INTEGER NOT NULL,
			success        INTEGER NOT NULL,
			result_summary TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_task_dlq (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id      INTEGER NOT NULL,
			chat_id      INTEGER NOT NULL,
			failed_at    TEXT NOT NULL,
			error        TEXT,
			replayed_at  TEXT,
			replay_note  TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// v4: memories + supersede edges.
func migrateV4(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id          INTEGER,
			content          TEXT NOT NULL,
			category         TEXT NOT NULL DEFAULT 'KNOWLEDGE',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,
			embedding_model  TEXT,
			confidence       REAL NOT NULL DEFAULT 0.5,
			source           TEXT NOT NULL DEFAULT 'tool',
			last_seen_at     TEXT,
			is_archived      INTEGER NOT NULL DEFAULT 0,
			archived_at      TEXT,
			chat_channel     TEXT,
			external_chat_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_chat ON memories(chat_id, is_archived)`,
		`CREATE TABLE IF NOT EXISTS memory_supersede_edges (
			from_memory_id INTEGER NOT NULL,
			to_memory_id   INTEGER NOT NULL,
			reason         TEXT,
			created_at     TEXT NOT NULL,
			PRIMARY KEY (from_memory_id, to_memory_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// v5: memory reflector runs + injection log.
func migrateV5(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_reflector_runs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id      INTEGER,
			started_at   TEXT NOT NULL,
			finished_at  TEXT NOT NULL,
			extracted    INTEGER NOT NULL DEFAULT 0,
			inserted     INTEGER NOT NULL DEFAULT 0,
			updated      INTEGER NOT NULL DEFAULT 0,
			skipped      INTEGER NOT NULL DEFAULT 0,
			dedup_method TEXT,
			parse_ok     INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS memory_injection_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id     INTEGER NOT NULL,
			memory_id   INTEGER NOT NULL,
			injected_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// v6: LLM usage log + metrics history.
func migrateV6(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS llm_usage_log (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id        INTEGER,
			caller_channel TEXT,
			provider       TEXT NOT NULL,
			model          TEXT NOT NULL,
			input_tokens   INTEGER NOT NULL DEFAULT 0,
			output_tokens  INTEGER NOT NULL DEFAULT 0,
			total_tokens   INTEGER NOT NULL DEFAULT 0,
			request_kind   TEXT NOT NULL,
			created_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_llm_usage_created ON llm_usage_log(created_at)`,
		`CREATE TABLE IF NOT EXISTS metrics_history (
			timestamp_ms     INTEGER PRIMARY KEY,
			completions      INTEGER NOT NULL DEFAULT 0,
			tokens           INTEGER NOT NULL DEFAULT 0,
			http_requests    INTEGER NOT NULL DEFAULT 0,
			tool_executions  INTEGER NOT NULL DEFAULT 0,
			mcp_calls        INTEGER NOT NULL DEFAULT 0,
			mcp_rejections   INTEGER NOT NULL DEFAULT 0,
			active_sessions  INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// v7: auth (passwords, operator sessions, API keys).
func migrateV7(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS auth_passwords (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS auth_sessions (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			prefix             TEXT NOT NULL,
			key_hash           TEXT NOT NULL,
			rotated_from_key_id INTEGER,
			created_at         TEXT NOT NULL,
			expires_at         TEXT,
			revoked_at         TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS api_key_scopes (
			api_key_id INTEGER NOT NULL,
			scope      TEXT NOT NULL,
			PRIMARY KEY (api_key_id, scope)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			actor      TEXT,
			action     TEXT NOT NULL,
			target     TEXT,
			status     TEXT NOT NULL,
			detail     TEXT,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// v8: back-fill channel/external_chat_id on legacy chat rows (spec §4.1
// "default channel inferred from legacy chat_type; default
// external_chat_id = CAST(chat_id AS TEXT)") — a no-op on a fresh database
// since v1 already requires both columns NOT NULL, but kept idempotent so
// it is also correct against a legacy pre-v1 database that defined chats
// without them.
func migrateV8(ctx context.Context, tx *sql.Tx) error {
	if err := addColumnIfMissing(ctx, tx, "chats", "channel", "TEXT"); err != nil {
		return err
	}
	if err := addColumnIfMissing(ctx, tx, "chats", "external_chat_id", "TEXT"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET channel = COALESCE(NULLIF(channel, ''), chat_type, 'unknown') WHERE channel IS NULL OR channel = ''`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET external_chat_id = CAST(chat_id AS TEXT) WHERE external_chat_id IS NULL OR external_chat_id = ''`); err != nil {
		return err
	}
	return nil
}

// v9: session fork metadata columns (spec §3 "Session fork metadata" —
// persisted, never consumed, per SPEC_FULL.md §D decision 4).
func migrateV9(ctx context.Context, tx *sql.Tx) error {
	if err := addColumnIfMissing(ctx, tx, "sessions", "parent_session_key", "TEXT"); err != nil {
		return err
	}
	return addColumnIfMissing(ctx, tx, "sessions", "fork_point", "INTEGER")
}

// v10: session bookkeeping columns used by the Agent Loop's adaptive
// throttle and compaction state (mirrors store.SessionData in the
// teacher's internal/store/session_store.go, adapted to sqlite columns
// instead of an in-process map).
func migrateV10(ctx context.Context, tx *sql.Tx) error {
	cols := []struct{ name, ddl string }{
		{"provider", "TEXT"},
		{"model", "TEXT"},
		{"channel", "TEXT"},
		{"input_tokens", "INTEGER NOT NULL DEFAULT 0"},
		{"output_tokens", "INTEGER NOT NULL DEFAULT 0"},
		{"compaction_count", "INTEGER NOT NULL DEFAULT 0"},
		{"memory_flush_compaction_count", "INTEGER NOT NULL DEFAULT 0"},
		{"context_window", "INTEGER NOT NULL DEFAULT 0"},
		{"last_prompt_tokens", "INTEGER NOT NULL DEFAULT 0"},
		{"label", "TEXT"},
	}
	for _, c := range cols {
		if err := addColumnIfMissing(ctx, tx, "sessions", c.name, c.ddl); err != nil {
			return err
		}
	}
	return nil
}
