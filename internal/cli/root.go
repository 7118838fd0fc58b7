// Package cli 定义 fluxod 的命令行入口。
package cli

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"Fluxo/internal/app"
	"Fluxo/internal/config"
	"Fluxo/pkg/logger"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

// 修改 cfg 的钩子，由子命令在构造 App 之前设置。
var configHooks = map[string]func(*config.Config){}

var rootCmd = &cobra.Command{
	Use:           "fluxod",
	Short:         "Multi-agent DeFi intelligence service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["standalone"] == "true" {
			return nil
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if hook := configHooks[cmd.Name()]; hook != nil {
			hook(cfg)
		}
		if err := logger.Init(cfg.Logging); err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		appHandle = a
		return nil
	},
}

// Execute 运行根命令。无论命令是否成功，App 持有的连接都会在返回前释放。
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	return stdErrors.Join(err, closeApp())
}

func closeApp() error {
	if appHandle == nil {
		return nil
	}
	err := appHandle.Close()
	appHandle = nil
	_ = logger.Sync()
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("FLUXO_CONFIG"), "Path to YAML configuration file (env FLUXO_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
