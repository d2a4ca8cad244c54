package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// schedulerReplayCmd is the operator-facing surface over
// ScheduledTaskDlq (spec §4.5's "on failure write ScheduledTaskDlq"):
// list what's pending, or requeue one (or every) entry by resetting its
// task to active with next_run = now.
func schedulerReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler-replay",
		Short: "Inspect and requeue scheduler dead-letter entries",
	}
	cmd.AddCommand(schedulerReplayListCmd())
	cmd.AddCommand(schedulerReplayRunCmd())
	return cmd
}

func openStoreForOperator() (*store.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.Open(context.Background(), cfg.DataDirPath())
}

func schedulerReplayListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks waiting in the dead-letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStoreForOperator()
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.PendingDlqEntries(context.Background())
			if err != nil {
				return fmt.Errorf("list dlq entries: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("no pending dlq entries")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("dlq#%d task#%d chat#%d failed_at=%s error=%q\n",
					e.ID, e.TaskID, e.ChatID, e.FailedAt.Format(time.RFC3339), e.Error)
			}
			return nil
		},
	}
}

func schedulerReplayRunCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "run [dlq-id]",
		Short: "Requeue one dead-letter entry (or every pending entry with --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) != 1 {
				return fmt.Errorf("pass a dlq id, or --all")
			}

			st, err := openStoreForOperator()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			entries, err := st.PendingDlqEntries(ctx)
			if err != nil {
				return fmt.Errorf("list dlq entries: %w", err)
			}

			var target int64 = -1
			if !all {
				id, perr := strconv.ParseInt(args[0], 10, 64)
				if perr != nil {
					return fmt.Errorf("invalid dlq id %q: %w", args[0], perr)
				}
				target = id
			}

			replayed := 0
			for _, e := range entries {
				if target != -1 && e.ID != target {
					continue
				}
				task, terr := st.GetScheduledTask(ctx, e.TaskID)
				if terr != nil || task == nil {
					fmt.Printf("skip dlq#%d: task#%d no longer exists\n", e.ID, e.TaskID)
					continue
				}
				if rerr := st.ReactivateTask(ctx, task.ID, time.Now().UTC()); rerr != nil {
					fmt.Printf("skip dlq#%d: reactivate failed: %v\n", e.ID, rerr)
					continue
				}
				if merr := st.MarkDlqReplayed(ctx, e.ID, "requeued via scheduler-replay"); merr != nil {
					fmt.Printf("warning: dlq#%d reactivated but mark-replayed failed: %v\n", e.ID, merr)
				}
				fmt.Printf("requeued dlq#%d (task#%d)\n", e.ID, e.TaskID)
				replayed++
			}
			fmt.Printf("%d entr(ies) requeued\n", replayed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "requeue every pending dlq entry")
	return cmd
}
