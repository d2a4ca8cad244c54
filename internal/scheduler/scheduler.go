// Package scheduler implements the Scheduler (spec §4.5): a 60-second tick
// loop that fires due ScheduledTasks back through the Agent Loop via
// override_prompt, independent of any inbound channel message.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// AgentRunner is the subset of agent.Loop the Scheduler drives — declared
// locally (rather than importing internal/agent) to keep the dependency
// direction the same as channels.AgentRunner: callers depend on agent,
// agent depends on nothing above it.
type AgentRunner interface {
	RunOverride(ctx context.Context, chatID int64, callerChannel, chatType, overridePrompt string) (string, error)
}

const resultSummaryMaxChars = 200

// Scheduler runs the tick loop described in spec §4.5.
type Scheduler struct {
	Store    *store.Store
	Agent    AgentRunner
	Channels *channels.Registry
	Timezone *time.Location
	Tick     time.Duration
}

func New(st *store.Store, agent AgentRunner, reg *channels.Registry, tz *time.Location, tick time.Duration) *Scheduler {
	if tz == nil {
		tz = time.UTC
	}
	if tick <= 0 {
		tick = 60 * time.Second
	}
	return &Scheduler{Store: st, Agent: agent, Channels: reg, Timezone: tz, Tick: tick}
}

// Run blocks, ticking every s.Tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one tick: every due task, sequentially, in next_run
// order (spec §4.5 step 2 "sequentially per tick").
func (s *Scheduler) RunOnce(ctx context.Context) {
	due, err := s.Store.DueTasks(ctx, time.Now().UTC())
	if err != nil {
		slog.Warn("scheduler: due-task query failed", "error", err)
		return
	}
	for _, task := range due {
		s.fire(ctx, task)
	}
}

func (s *Scheduler) fire(ctx context.Context, task store.ScheduledTask) {
	started := time.Now().UTC()

	chat, err := s.Store.GetChat(ctx, task.ChatID)
	if err != nil || chat == nil {
		s.recordFailure(ctx, task, started, fmt.Errorf("cannot resolve chat #%d: %w", task.ChatID, err))
		return
	}

	text, err := s.Agent.RunOverride(ctx, task.ChatID, chat.Channel, chat.ChatType, task.Prompt)
	finished := time.Now().UTC()
	if err != nil {
		s.recordFailure(ctx, task, started, err)
		return
	}

	if strings.TrimSpace(text) != "" {
		if ch, ok := s.Channels.ByName(chat.Channel); ok {
			if sendErr := ch.SendText(ctx, chat.ExternalChatID, text); sendErr != nil {
				slog.Warn("scheduler: delivery failed", "task_id", task.ID, "error", sendErr)
			}
		}
	}

	if logErr := s.Store.RecordTaskRun(ctx, task.ID, store.TaskRunLog{
		TaskID: task.ID, ChatID: task.ChatID, StartedAt: started, FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(), Success: true,
		ResultSummary: truncateSummary(text),
	}, s.nextRunFor(task), s.nextStatusFor(task)); logErr != nil {
		slog.Warn("scheduler: failed to record task run", "task_id", task.ID, "error", logErr)
	}
}

func (s *Scheduler) recordFailure(ctx context.Context, task store.ScheduledTask, started time.Time, cause error) {
	finished := time.Now().UTC()
	slog.Warn("scheduler: task run failed", "task_id", task.ID, "error", cause)

	if err := s.Store.EnqueueDlq(ctx, task.ID, task.ChatID, finished, cause.Error()); err != nil {
		slog.Warn("scheduler: failed to enqueue dlq entry", "task_id", task.ID, "error", err)
	}

	// spec §7 "Scheduler task failure" user-visible message, delivered on a
	// best-effort basis — the chat may no longer resolve to a live adapter.
	if chat, cerr := s.Store.GetChat(ctx, task.ChatID); cerr == nil && chat != nil {
		if ch, ok := s.Channels.ByName(chat.Channel); ok {
			msg := fmt.Sprintf("Scheduled task #%d failed: %s", task.ID, cause.Error())
			if sendErr := ch.SendText(ctx, chat.ExternalChatID, msg); sendErr != nil {
				slog.Warn("scheduler: failure notification delivery failed", "task_id", task.ID, "error", sendErr)
			}
		}
	}
	if err := s.Store.RecordTaskRun(ctx, task.ID, store.TaskRunLog{
		TaskID: task.ID, ChatID: task.ChatID, StartedAt: started, FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(), Success: false,
		ResultSummary: truncateSummary(cause.Error()),
	}, s.nextRunFor(task), s.nextStatusFor(task)); err != nil {
		slog.Warn("scheduler: failed to record failed task run", "task_id", task.ID, "error", err)
	}
}

// nextRunFor implements spec §4.5 step 5: "once" tasks never fire again;
// "cron" tasks compute their next upcoming instant, or keep the prior
// next_run (and an unchanged status) on an unparseable cron.
func (s *Scheduler) nextRunFor(task store.ScheduledTask) *time.Time {
	if task.ScheduleType == store.ScheduleOnce {
		// spec §8 scenario 5: a completed once-task's next_run is left
		// unchanged, not cleared.
		return task.NextRun
	}
	next, err := gronx.NextTickAfter(task.ScheduleValue, time.Now().In(s.Timezone), false)
	if err != nil {
		slog.Warn("scheduler: unparseable cron, leaving next_run unchanged", "task_id", task.ID, "error", err)
		return task.NextRun
	}
	return &next
}

func (s *Scheduler) nextStatusFor(task store.ScheduledTask) store.TaskStatus {
	if task.ScheduleType == store.ScheduleOnce {
		return store.TaskCompleted
	}
	return store.TaskActive
}

// truncateSummary caps a result summary to ~200 chars at a rune boundary
// (spec §4.5 step 3).
func truncateSummary(s string) string {
	r := []rune(s)
	if len(r) <= resultSummaryMaxChars {
		return s
	}
	return string(r[:resultSummaryMaxChars])
}
