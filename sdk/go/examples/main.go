package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"Fluxo/sdk/go/fluxo"
)

// 提交一次 whale_tracking 任务并等待结果。
func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "fluxod base url")
	timeframe := flag.String("timeframe", "24h", "lookback window")
	flag.Parse()

	client, err := fluxo.NewClient(*server, nil)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	summary, err := client.SubmitTask(ctx, "whale_tracking", map[string]string{"timeframe": *timeframe})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	fmt.Printf("submitted %s\n", summary.TaskID)

	task, err := client.WaitForTask(ctx, summary.TaskID, time.Second)
	if err != nil {
		log.Fatalf("wait: %v", err)
	}
	fmt.Printf("status=%s result=%s\n", task.Status, task.Result)
}
