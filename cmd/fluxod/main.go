package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Fluxo/internal/cli"
)

// main 是 fluxod 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fluxod 运行失败: %v\n", err)
		stop()
		os.Exit(1)
	}
}
