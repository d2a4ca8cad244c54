package store

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
)

// RequestKind tags why an LLM call happened (spec §3 LlmUsageLog.request_kind).
type RequestKind string

const (
	RequestAgentLoop  RequestKind = "agent_loop"
	RequestCompaction RequestKind = "compaction"
	RequestReflector  RequestKind = "reflector"
)

// LlmUsageEntry mirrors spec §3's LlmUsageLog entity.
type LlmUsageEntry struct {
	ChatID        *int64
	CallerChannel string
	Provider      string
	Model         string
	InputTokens   int
	OutputTokens  int
	TotalTokens   int
	RequestKind   RequestKind
	CreatedAt     time.Time
}

// LogUsage records one LLM call (spec §4.8 "LLM usage log per-call with
// request_kind tagging caller").
func (s *Store) LogUsage(ctx context.Context, e LlmUsageEntry) error {
	var chatIDArg interface{}
	if e.ChatID != nil {
		chatIDArg = *e.ChatID
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO llm_usage_log (
			chat_id, caller_channel, provider, model, input_tokens, output_tokens, total_tokens, request_kind, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chatIDArg, nullIfEmpty(e.CallerChannel), e.Provider, e.Model, e.InputTokens, e.OutputTokens,
		e.TotalTokens, string(e.RequestKind), createdAt.Format(time.RFC3339))
	if err != nil {
		return apperr.New(apperr.Storage, "log usage", err)
	}
	return nil
}

// UsageTotals aggregates token/call counts, optionally filtered by chat id
// and a since timestamp — backs the /usage command's all-time/last24h/
// last7d breakdown (spec §4.7).
type UsageTotals struct {
	Calls        int
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

func (s *Store) UsageTotalsSince(ctx context.Context, chatID *int64, since *time.Time) (UsageTotals, error) {
	query := `SELECT COUNT(1), COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0), COALESCE(SUM(total_tokens),0) FROM llm_usage_log WHERE 1=1`
	var args []interface{}
	if chatID != nil {
		query += ` AND chat_id = ?`
		args = append(args, *chatID)
	}
	if since != nil {
		query += ` AND created_at >= ?`
		args = append(args, since.UTC().Format(time.RFC3339))
	}
	var t UsageTotals
	err := s.queryRow(ctx, query, args...).Scan(&t.Calls, &t.InputTokens, &t.OutputTokens, &t.TotalTokens)
	if err != nil {
		return UsageTotals{}, apperr.New(apperr.Storage, "usage totals", err)
	}
	return t, nil
}

// ModelUsage is one row of the /usage command's per-model breakdown.
type ModelUsage struct {
	Model        string
	Calls        int
	TotalTokens  int
}

// TopModelsByUsage returns the top-N models by total tokens, optionally
// scoped to a chat and a since timestamp.
func (s *Store) TopModelsByUsage(ctx context.Context, chatID *int64, since *time.Time, limit int) ([]ModelUsage, error) {
	query := `SELECT model, COUNT(1), COALESCE(SUM(total_tokens),0) FROM llm_usage_log WHERE 1=1`
	var args []interface{}
	if chatID != nil {
		query += ` AND chat_id = ?`
		args = append(args, *chatID)
	}
	if since != nil {
		query += ` AND created_at >= ?`
		args = append(args, since.UTC().Format(time.RFC3339))
	}
	query += ` GROUP BY model ORDER BY SUM(total_tokens) DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Model, &m.Calls, &m.TotalTokens); err != nil {
			return nil, apperr.New(apperr.Storage, "scan model usage", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MetricsPoint mirrors spec §3's MetricsHistoryPoint entity.
type MetricsPoint struct {
	TimestampMs    int64
	Completions    int64
	Tokens         int64
	HTTPRequests   int64
	ToolExecutions int64
	McpCalls       int64
	McpRejections  int64
	ActiveSessions int64
}

// UpsertMetricsPoint writes (or replaces) one per-minute metrics history
// point (spec §4.8 "metrics history per-minute upsert ON CONFLICT REPLACE").
func (s *Store) UpsertMetricsPoint(ctx context.Context, p MetricsPoint) error {
	_, err := s.exec(ctx, `
		INSERT INTO metrics_history (
			timestamp_ms, completions, tokens, http_requests, tool_executions, mcp_calls, mcp_rejections, active_sessions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (timestamp_ms) DO UPDATE SET
			completions = excluded.completions,
			tokens = excluded.tokens,
			http_requests = excluded.http_requests,
			tool_executions = excluded.tool_executions,
			mcp_calls = excluded.mcp_calls,
			mcp_rejections = excluded.mcp_rejections,
			active_sessions = excluded.active_sessions`,
		p.TimestampMs, p.Completions, p.Tokens, p.HTTPRequests, p.ToolExecutions, p.McpCalls, p.McpRejections, p.ActiveSessions)
	if err != nil {
		return apperr.New(apperr.Storage, "upsert metrics point", err)
	}
	return nil
}

// RecentMetricsPoints returns metrics points at or after sinceMs, ascending.
func (s *Store) RecentMetricsPoints(ctx context.Context, sinceMs int64) ([]MetricsPoint, error) {
	rows, err := s.query(ctx, `
		SELECT timestamp_ms, completions, tokens, http_requests, tool_executions, mcp_calls, mcp_rejections, active_sessions
		FROM metrics_history WHERE timestamp_ms >= ? ORDER BY timestamp_ms ASC`, sinceMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricsPoint
	for rows.Next() {
		var p MetricsPoint
		if err := rows.Scan(&p.TimestampMs, &p.Completions, &p.Tokens, &p.HTTPRequests, &p.ToolExecutions, &p.McpCalls, &p.McpRejections, &p.ActiveSessions); err != nil {
			return nil, apperr.New(apperr.Storage, "scan metrics point", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
