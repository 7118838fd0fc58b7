package task

import (
	"context"
	"log/slog"
	"sync"

	xerrors "Fluxo/internal/errors"
	"Fluxo/pkg/logger"
)

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "队列已关闭", xerrors.WithRetryable(false))

// MemoryQueue 是进程内的有界任务队列，适用于测试与单进程部署。
// 与 RedisQueue 一致，handler 返回错误的任务会被重新放回队列；队列已满时放弃重投并记录日志。
type MemoryQueue struct {
	ch chan string

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建容量为 size 的队列，size <= 0 时取 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 投递任务 ID，队列满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- taskID:
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeQueueFailure, ctx.Err(), "投递任务超时")
	}
}

// Depth 返回尚未被取走的任务数。
func (q *MemoryQueue) Depth() int { return len(q.ch) }

// Consume 启动 workerCount 个协程消费任务，直到 ctx 结束或队列关闭。
// 因队列关闭而退出时返回 nil。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	var wg sync.WaitGroup
	for range max(workerCount, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case taskID, ok := <-q.ch:
					if !ok {
						return
					}
					if err := handler(ctx, taskID); err != nil {
						q.redeliver(taskID, err)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) redeliver(taskID string, cause error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	log := logger.L().With(slog.String("task_id", taskID), slog.Any("error", cause))
	if q.closed {
		log.Warn("队列已关闭，放弃重新投递")
		return
	}
	select {
	case q.ch <- taskID:
		log.Warn("任务处理失败，重新投递")
	default:
		log.Error("队列已满，放弃重新投递")
	}
}

// Close 关闭队列，正在等待的消费者随之退出。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
