package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/apperr"
)

// ScheduleType enumerates spec §3's ScheduledTask.schedule_type.
type ScheduleType string

const (
	ScheduleCron ScheduleType = "cron"
	ScheduleOnce ScheduleType = "once"
)

// TaskStatus enumerates spec §3's ScheduledTask.status.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// ScheduledTask mirrors spec §3's ScheduledTask entity.
type ScheduledTask struct {
	ID            int64
	ChatID        int64
	Prompt        string
	ScheduleType  ScheduleType
	ScheduleValue string
	NextRun       *time.Time
	LastRun       *time.Time
	Status        TaskStatus
	CreatedAt     time.Time
}

// TaskRunLog mirrors spec §3's TaskRunLog entity.
type TaskRunLog struct {
	ID            int64
	TaskID        int64
	ChatID        int64
	StartedAt     time.Time
	FinishedAt    time.Time
	DurationMs    int64
	Success       bool
	ResultSummary string
}

// ScheduledTaskDlq mirrors spec §3's ScheduledTaskDlq entity.
type ScheduledTaskDlq struct {
	ID         int64
	TaskID     int64
	ChatID     int64
	FailedAt   time.Time
	Error      string
	ReplayedAt *time.Time
	ReplayNote string
}

// CreateScheduledTask inserts a new task and returns its id.
func (s *Store) CreateScheduledTask(ctx context.Context, t *ScheduledTask) (int64, error) {
	now := time.Now().UTC()
	var nextRun interface{}
	if t.NextRun != nil {
		nextRun = t.NextRun.UTC().Format(time.RFC3339)
	}
	status := t.Status
	if status == "" {
		status = TaskActive
	}
	res, err := s.exec(ctx, `
		INSERT INTO scheduled_tasks (chat_id, prompt, schedule_type, schedule_value, next_run, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ChatID, t.Prompt, string(t.ScheduleType), t.ScheduleValue, nextRun, string(status), now.Format(time.RFC3339))
	if err != nil {
		return 0, apperr.New(apperr.Storage, "create scheduled task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.New(apperr.Storage, "create scheduled task: last insert id", err)
	}
	return id, nil
}

// DueTasks returns active tasks whose next_run has arrived (spec §4.5
// "query due = active AND next_run <= now").
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error) {
	rows, err := s.query(ctx, `
		SELECT id, chat_id, prompt, schedule_type, schedule_value, next_run, last_run, status, created_at
		FROM scheduled_tasks
		WHERE status = ? AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run ASC`, string(TaskActive), now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

// GetScheduledTask fetches a single task by id.
func (s *Store) GetScheduledTask(ctx context.Context, id int64) (*ScheduledTask, error) {
	rows, err := s.query(ctx, `
		SELECT id, chat_id, prompt, schedule_type, schedule_value, next_run, last_run, status, created_at
		FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanScheduledTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// ListScheduledTasksByChat returns every task for a chat, for /status.
func (s *Store) ListScheduledTasksByChat(ctx context.Context, chatID int64) ([]ScheduledTask, error) {
	rows, err := s.query(ctx, `
		SELECT id, chat_id, prompt, schedule_type, schedule_value, next_run, last_run, status, created_at
		FROM scheduled_tasks WHERE chat_id = ? ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

func scanScheduledTasks(rows *sql.Rows) ([]ScheduledTask, error) {
	var out []ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		var scheduleType, status, createdAt string
		var nextRun, lastRun sql.NullString
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Prompt, &scheduleType, &t.ScheduleValue, &nextRun, &lastRun, &status, &createdAt); err != nil {
			return nil, apperr.New(apperr.Storage, "scan scheduled task", err)
		}
		t.ScheduleType = ScheduleType(scheduleType)
		t.Status = TaskStatus(status)
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if nextRun.Valid {
			ts, _ := time.Parse(time.RFC3339, nextRun.String)
			t.NextRun = &ts
		}
		if lastRun.Valid {
			ts, _ := time.Parse(time.RFC3339, lastRun.String)
			t.LastRun = &ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordTaskRun updates next_run/last_run/status after a firing and writes
// one TaskRunLog row, all within one transaction (spec §4.5).
func (s *Store) RecordTaskRun(ctx context.Context, taskID int64, log TaskRunLog, nextRun *time.Time, newStatus TaskStatus) error {
	return s.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var nextRunArg interface{}
		if nextRun != nil {
			nextRunArg = nextRun.UTC().Format(time.RFC3339)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE scheduled_tasks SET last_run = ?, next_run = ?, status = ? WHERE id = ?`,
			log.FinishedAt.UTC().Format(time.RFC3339), nextRunArg, string(newStatus), taskID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_run_log (task_id, chat_id, started_at, finished_at, duration_ms, success, result_summary)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			taskID, log.ChatID, log.StartedAt.UTC().Format(time.RFC3339), log.FinishedAt.UTC().Format(time.RFC3339),
			log.DurationMs, boolToInt(log.Success), nullIfEmpty(log.ResultSummary))
		return err
	})
}

// EnqueueDlq records a failed task run in the dead-letter queue (spec §4.5
// "on failure write ScheduledTaskDlq").
func (s *Store) EnqueueDlq(ctx context.Context, taskID, chatID int64, failedAt time.Time, errText string) error {
	_, err := s.exec(ctx, `
		INSERT INTO scheduled_task_dlq (task_id, chat_id, failed_at, error) VALUES (?, ?, ?, ?)`,
		taskID, chatID, failedAt.UTC().Format(time.RFC3339), errText)
	if err != nil {
		return apperr.New(apperr.Storage, "enqueue dlq", err)
	}
	return nil
}

// PendingDlqEntries returns DLQ rows that have not yet been replayed, for
// an operator replay command.
func (s *Store) PendingDlqEntries(ctx context.Context) ([]ScheduledTaskDlq, error) {
	rows, err := s.query(ctx, `
		SELECT id, task_id, chat_id, failed_at, COALESCE(error,'')
		FROM scheduled_task_dlq WHERE replayed_at IS NULL ORDER BY failed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledTaskDlq
	for rows.Next() {
		var d ScheduledTaskDlq
		var failedAt string
		if err := rows.Scan(&d.ID, &d.TaskID, &d.ChatID, &failedAt, &d.Error); err != nil {
			return nil, apperr.New(apperr.Storage, "scan dlq entry", err)
		}
		d.FailedAt, _ = time.Parse(time.RFC3339, failedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDlqReplayed annotates a DLQ row once an operator has requeued it.
func (s *Store) MarkDlqReplayed(ctx context.Context, id int64, note string) error {
	_, err := s.exec(ctx, `
		UPDATE scheduled_task_dlq SET replayed_at = ?, replay_note = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), nullIfEmpty(note), id)
	if err != nil {
		return apperr.New(apperr.Storage, "mark dlq replayed", err)
	}
	return nil
}

// ReactivateTask sets a task back to active with a fresh next_run, used by
// the scheduler-replay operator command to requeue a task that previously
// died into the DLQ.
func (s *Store) ReactivateTask(ctx context.Context, taskID int64, nextRun time.Time) error {
	_, err := s.exec(ctx, `UPDATE scheduled_tasks SET status = ?, next_run = ? WHERE id = ?`,
		string(TaskActive), nextRun.UTC().Format(time.RFC3339), taskID)
	if err != nil {
		return apperr.New(apperr.Storage, "reactivate task", err)
	}
	return nil
}
