package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// ScheduleTool implements spec §4.4's scheduling-family capability and
// spec §4.5's ScheduledTask entity, grounded on the teacher's
// sessions.go-style thin store-backed tool shape. A single tool with an
// "action" discriminator covers create/list/cancel, matching how the
// teacher's delegate.go multiplexes sub-operations through one schema.
type ScheduleTool struct {
	st       *store.Store
	timezone *time.Location
}

func NewScheduleTool(st *store.Store, timezone *time.Location) *ScheduleTool {
	if timezone == nil {
		timezone = time.UTC
	}
	return &ScheduleTool{st: st, timezone: timezone}
}

func (t *ScheduleTool) Name() string { return "schedule" }
func (t *ScheduleTool) Description() string {
	return "Create, list, or cancel scheduled tasks that re-invoke the agent with a fixed prompt"
}
func (t *ScheduleTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action":         map[string]interface{}{"type": "string", "enum": []string{"create", "list", "cancel"}},
			"prompt":         map[string]interface{}{"type": "string", "description": "Prompt to run on fire (create only)"},
			"schedule_type":  map[string]interface{}{"type": "string", "enum": []string{"cron", "once"}},
			"schedule_value": map[string]interface{}{"type": "string", "description": "6-field cron expression, or RFC3339 time for once"},
			"task_id":        map[string]interface{}{"type": "integer", "description": "Task id (cancel only)"},
		},
		"required": []string{"action"},
	}
}

func (t *ScheduleTool) Execute(ctx context.Context, auth AuthContext, args map[string]interface{}) *Result {
	action, _ := args["action"].(string)
	switch action {
	case "create":
		return t.create(ctx, auth, args)
	case "list":
		return t.list(ctx, auth)
	case "cancel":
		return t.cancel(ctx, auth, args)
	default:
		return Errorf("bad_args", "action must be create, list, or cancel")
	}
}

func (t *ScheduleTool) create(ctx context.Context, auth AuthContext, args map[string]interface{}) *Result {
	prompt, _ := args["prompt"].(string)
	scheduleType, _ := args["schedule_type"].(string)
	scheduleValue, _ := args["schedule_value"].(string)
	if prompt == "" || scheduleValue == "" {
		return Errorf("bad_args", "prompt and schedule_value are required")
	}

	var st store.ScheduleType
	var nextRun time.Time
	switch scheduleType {
	case "", "cron":
		st = store.ScheduleCron
		if !gronx.New().IsValid(scheduleValue) {
			return Errorf("bad_args", "invalid 6-field cron expression")
		}
		next, err := gronx.NextTickAfter(scheduleValue, time.Now().In(t.timezone), false)
		if err != nil {
			return Errorf("bad_args", "cannot compute next run: %v", err)
		}
		nextRun = next
	case "once":
		st = store.ScheduleOnce
		parsed, err := time.ParseInLocation(time.RFC3339, scheduleValue, t.timezone)
		if err != nil {
			return Errorf("bad_args", "schedule_value must be RFC3339 for a once task: %v", err)
		}
		nextRun = parsed
	default:
		return Errorf("bad_args", "schedule_type must be cron or once")
	}

	id, err := t.st.CreateScheduledTask(ctx, &store.ScheduledTask{
		ChatID:        auth.CallerChatID,
		Prompt:        prompt,
		ScheduleType:  st,
		ScheduleValue: scheduleValue,
		NextRun:       &nextRun,
		Status:        store.TaskActive,
	})
	if err != nil {
		return Errorf("store", "failed to create task: %v", err)
	}
	return Ok(fmt.Sprintf("scheduled task #%d, next run %s", id, nextRun.Format(time.RFC3339)))
}

func (t *ScheduleTool) list(ctx context.Context, auth AuthContext) *Result {
	tasks, err := t.st.ListScheduledTasksByChat(ctx, auth.CallerChatID)
	if err != nil {
		return Errorf("store", "failed to list tasks: %v", err)
	}
	if len(tasks) == 0 {
		return Ok("(no scheduled tasks)")
	}
	var b strings.Builder
	for _, task := range tasks {
		next := "none"
		if task.NextRun != nil {
			next = task.NextRun.Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "#%d [%s/%s] %s — next: %s — prompt: %s\n", task.ID, task.ScheduleType, task.Status, task.ScheduleValue, next, task.Prompt)
	}
	return Ok(strings.TrimSpace(b.String()))
}

func (t *ScheduleTool) cancel(ctx context.Context, auth AuthContext, args map[string]interface{}) *Result {
	idFloat, ok := args["task_id"].(float64)
	if !ok {
		return Errorf("bad_args", "task_id is required")
	}
	id := int64(idFloat)
	task, err := t.st.GetScheduledTask(ctx, id)
	if err != nil {
		return Errorf("store", "failed to look up task: %v", err)
	}
	if task == nil || !auth.Allowed(task.ChatID) {
		return Errorf("authorization", "no such task: #%s", strconv.FormatInt(id, 10))
	}
	if err := t.st.RecordTaskRun(ctx, id, store.TaskRunLog{TaskID: id, ChatID: task.ChatID, ResultSummary: "cancelled by user"}, nil, store.TaskCancelled); err != nil {
		return Errorf("store", "failed to cancel task: %v", err)
	}
	return Ok(fmt.Sprintf("cancelled task #%d", id))
}
