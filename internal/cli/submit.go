package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	submitArgs    string
	submitWait    bool
	submitTimeout time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <job>",
	Short: "Submit a background task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if submitArgs != "" {
			raw = json.RawMessage(submitArgs)
		}
		a := getApp()
		ctx := cmd.Context()

		// 内存队列只在本进程内可见，等待结果时需要就地消费。
		if submitWait && a.Config.Task.Queue == "memory" {
			workerCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() { _ = a.RunWorker(workerCtx) }()
		}

		t, err := a.Tasks.Submit(ctx, args[0], raw)
		if err != nil {
			return err
		}
		if !submitWait {
			return printJSON(cmd.OutOrStdout(), map[string]string{"task_id": t.ID, "status": string(t.Status)})
		}
		waitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
		defer cancel()
		final, err := a.Tasks.WaitUntilCompleted(waitCtx, t.ID, 500*time.Millisecond)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
		return printJSON(cmd.OutOrStdout(), final)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the state of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := getApp().Tasks.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), t)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitArgs, "args", "", "Job arguments as a JSON object")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Block until the task reaches a terminal state")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 2*time.Minute, "Maximum time to wait with --wait")
}
