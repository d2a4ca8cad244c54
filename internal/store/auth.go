package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
)

// AuthPassword mirrors spec §3's operator-login credential row.
type AuthPassword struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AuthSession mirrors spec §3's operator HTTP session row — distinct from
// the per-chat conversational Session and from an MCP session (GLOSSARY).
type AuthSession struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ApiKey mirrors spec §3's ApiKey entity, with an optional rotation chain.
type ApiKey struct {
	ID               int64
	Prefix           string
	KeyHash          string
	RotatedFromKeyID *int64
	CreatedAt        time.Time
	ExpiresAt        *time.Time
	RevokedAt        *time.Time
	Scopes           []string
}

// AuditEntry mirrors spec §3's AuditLog entity.
type AuditEntry struct {
	ID        int64
	Kind      string
	Actor     string
	Action    string
	Target    string
	Status    string
	Detail    string
	CreatedAt time.Time
}

// CreatePasswordAuth inserts an operator login credential.
func (s *Store) CreatePasswordAuth(ctx context.Context, username, passwordHash string) error {
	_, err := s.exec(ctx, `
		INSERT INTO auth_passwords (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.New(apperr.Storage, "create password auth", err)
	}
	return nil
}

// GetPasswordAuth looks up a credential by username.
func (s *Store) GetPasswordAuth(ctx context.Context, username string) (*AuthPassword, error) {
	row := s.queryRow(ctx, `SELECT id, username, password_hash, created_at FROM auth_passwords WHERE username = ?`, username)
	var a AuthPassword
	var createdAt string
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.New(apperr.Storage, "get password auth", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// CreateAuthSession opens an operator HTTP session with the given id and
// lifetime.
func (s *Store) CreateAuthSession(ctx context.Context, id, username string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.exec(ctx, `
		INSERT INTO auth_sessions (id, username, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		id, username, now.Format(time.RFC3339), now.Add(ttl).Format(time.RFC3339))
	if err != nil {
		return apperr.New(apperr.Storage, "create auth session", err)
	}
	return nil
}

// GetAuthSession fetches a session by id, or nil if it doesn't exist or
// has expired.
func (s *Store) GetAuthSession(ctx context.Context, id string) (*AuthSession, error) {
	row := s.queryRow(ctx, `SELECT id, username, created_at, expires_at FROM auth_sessions WHERE id = ?`, id)
	var a AuthSession
	var createdAt, expiresAt string
	if err := row.Scan(&a.ID, &a.Username, &createdAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.New(apperr.Storage, "get auth session", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	if time.Now().UTC().After(a.ExpiresAt) {
		return nil, nil
	}
	return &a, nil
}

// DeleteAuthSession logs an operator out.
func (s *Store) DeleteAuthSession(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM auth_sessions WHERE id = ?`, id)
	if err != nil {
		return apperr.New(apperr.Storage, "delete auth session", err)
	}
	return nil
}

// CreateApiKey inserts a new API key (optionally recording a rotation
// chain back to the key it replaces) with its scopes, in one transaction.
func (s *Store) CreateApiKey(ctx context.Context, prefix, keyHash string, rotatedFrom *int64, expiresAt *time.Time, scopes []string) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var rotatedArg, expiresArg interface{}
		if rotatedFrom != nil {
			rotatedArg = *rotatedFrom
		}
		if expiresAt != nil {
			expiresArg = expiresAt.UTC().Format(time.RFC3339)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO api_keys (prefix, key_hash, rotated_from_key_id, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?)`,
			prefix, keyHash, rotatedArg, time.Now().UTC().Format(time.RFC3339), expiresArg)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, scope := range scopes {
			if _, err := tx.ExecContext(ctx, `INSERT INTO api_key_scopes (api_key_id, scope) VALUES (?, ?)`, id, scope); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

// RevokeApiKey marks a key revoked.
func (s *Store) RevokeApiKey(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, `UPDATE api_keys SET revoked_at = ? WHERE id = ?`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return apperr.New(apperr.Storage, "revoke api key", err)
	}
	return nil
}

// GetApiKeyByPrefix fetches a key and its scopes by prefix, revoked or not
// (RevokedAt is set for a revoked key) —
// the lookup path for incoming API requests, which present prefix+secret.
func (s *Store) GetApiKeyByPrefix(ctx context.Context, prefix string) (*ApiKey, error) {
	row := s.queryRow(ctx, `
		SELECT id, prefix, key_hash, rotated_from_key_id, created_at, expires_at, revoked_at
		FROM api_keys WHERE prefix = ?`, prefix)
	var k ApiKey
	var createdAt string
	var rotatedFrom sql.NullInt64
	var expiresAt, revokedAt sql.NullString
	if err := row.Scan(&k.ID, &k.Prefix, &k.KeyHash, &rotatedFrom, &createdAt, &expiresAt, &revokedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.New(apperr.Storage, "get api key", err)
	}
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if rotatedFrom.Valid {
		v := rotatedFrom.Int64
		k.RotatedFromKeyID = &v
	}
	if expiresAt.Valid {
		ts, _ := time.Parse(time.RFC3339, expiresAt.String)
		k.ExpiresAt = &ts
	}
	if revokedAt.Valid {
		ts, _ := time.Parse(time.RFC3339, revokedAt.String)
		k.RevokedAt = &ts
	}

	scopeRows, err := s.query(ctx, `SELECT scope FROM api_key_scopes WHERE api_key_id = ?`, k.ID)
	if err != nil {
		return nil, err
	}
	defer scopeRows.Close()
	for scopeRows.Next() {
		var sc string
		if err := scopeRows.Scan(&sc); err != nil {
			return nil, apperr.New(apperr.Storage, "scan api key scope", err)
		}
		k.Scopes = append(k.Scopes, sc)
	}
	return &k, scopeRows.Err()
}

// WriteAudit synchronously records a security-relevant event (spec §4.8
// "audit log written synchronously around security-relevant events").
func (s *Store) WriteAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.exec(ctx, `
		INSERT INTO audit_log (kind, actor, action, target, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, nullIfEmpty(e.Actor), e.Action, nullIfEmpty(e.Target), e.Status, nullIfEmpty(e.Detail),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.New(apperr.Storage, "write audit entry", err)
	}
	return nil
}

// RecentAuditEntries returns the most recent audit rows, newest first.
func (s *Store) RecentAuditEntries(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, kind, COALESCE(actor,''), action, COALESCE(target,''), status, COALESCE(detail,''), created_at
		FROM audit_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Actor, &e.Action, &e.Target, &e.Status, &e.Detail, &createdAt); err != nil {
			return nil, apperr.New(apperr.Storage, "scan audit entry", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
