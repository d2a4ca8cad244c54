// Package observability implements spec §4.8's metrics history: a
// per-minute snapshot of completions/tokens/active-sessions, upserted so a
// re-run within the same minute replaces rather than duplicates the row.
//
// Grounded on store.UpsertMetricsPoint's ON CONFLICT REPLACE contract;
// there is no admin HTTP surface in SPEC_FULL.md to poll these points from
// yet (see DESIGN.md), so this package only owns the write side.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// Collector periodically snapshots cumulative usage into MetricsPoint rows.
type Collector struct {
	Store    *store.Store
	Interval time.Duration

	lastCalls  int64
	lastTokens int64
}

func NewCollector(st *store.Store, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{Store: st, Interval: interval}
}

// Run blocks, snapshotting every c.Interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	totals, err := c.Store.UsageTotalsSince(ctx, nil, nil)
	if err != nil {
		slog.Warn("observability: usage totals fetch failed", "error", err)
		return
	}
	sessions, err := c.Store.CountSessions(ctx)
	if err != nil {
		slog.Warn("observability: session count failed", "error", err)
	}

	completions := int64(totals.Calls) - c.lastCalls
	tokens := int64(totals.TotalTokens) - c.lastTokens
	c.lastCalls = int64(totals.Calls)
	c.lastTokens = int64(totals.TotalTokens)

	now := time.Now().UTC()
	point := store.MetricsPoint{
		TimestampMs:    now.Truncate(time.Minute).UnixMilli(),
		Completions:    completions,
		Tokens:         tokens,
		ActiveSessions: sessions,
	}
	if err := c.Store.UpsertMetricsPoint(ctx, point); err != nil {
		slog.Warn("observability: metrics point write failed", "error", err)
	}
}
