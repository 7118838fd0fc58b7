package task

import (
	"context"
	"encoding/json"

	xerrors "Fluxo/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
//
// 实现必须拒绝状态机之外的迁移：终态任务返回 ErrTaskCompleted，
// 其余非法迁移返回 ErrTaskConflict。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim moves a PENDING task to PROCESSING and counts the first attempt.
	Claim(ctx context.Context, id string) (*Task, error)
	// UpdateProgress only applies while the task is PROCESSING.
	UpdateProgress(ctx context.Context, id string, progress int, text string) error
	// RecordAttempt notes a failed attempt that will be retried in place.
	RecordAttempt(ctx context.Context, id string, code xerrors.Code, lastError string) error
	MarkSucceeded(ctx context.Context, id string, result json.RawMessage) error
	// MarkFailed accepts PROCESSING tasks, and PENDING ones whose enqueue failed.
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
