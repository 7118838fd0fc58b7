package cli

import (
	"github.com/spf13/cobra"

	"Fluxo/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, agents, task workers and scheduler in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the task queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunWorker(cmd.Context())
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Run the channel listeners of every agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunAgents(cmd.Context())
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Submit periodic tasks according to the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunScheduler(cmd.Context())
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream ERC-20 transfers of tracked tokens to the onchain channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Watch(cmd.Context())
	},
}

func init() {
	// 单独运行调度器时总是开启，未配置规则则使用默认计划。
	configHooks[schedulerCmd.Name()] = func(cfg *config.Config) {
		cfg.Scheduler.Enabled = true
		if len(cfg.Scheduler.Jobs) == 0 {
			cfg.Scheduler.Jobs = config.DefaultSchedule()
		}
	}
}
