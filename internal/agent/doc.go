// Package agent hosts the long-running channel listeners of the pipeline.
//
// 每个 Agent 订阅一个固定频道，在独立的 goroutine 中运行 Listen 循环：
// 控制帧被丢弃，单条消息的解码失败或 panic 只会被记录，循环继续运行，
// 直到 ctx 结束或订阅被关闭。Supervisor 负责并发启动一组 Agent。
//
// Agent 之间只共享 bus 与 store 句柄，这些句柄在进程启动时构造后显式注入。
package agent
