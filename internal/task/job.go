package task

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	xerrors "Fluxo/internal/errors"
	"Fluxo/pkg/logger"
)

// Reporter 允许任务在执行过程中汇报进度。进度仅供参考，写入失败不会影响任务结果。
type Reporter interface {
	Progress(ctx context.Context, percent int, text string)
}

// Job 是注册到 worker 的具名任务函数。返回值会被编码为 JSON 写入任务结果。
type Job func(ctx context.Context, args json.RawMessage, report Reporter) (any, error)

// Registry 保存 job 名称到实现的映射。
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewRegistry 创建空的 job 注册表。
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register 注册 job，重复名称返回冲突错误。
func (r *Registry) Register(name string, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" || job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 名称与实现不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; ok {
		return xerrors.New(xerrors.CodeConflict, "job 已注册: "+name)
	}
	r.jobs[name] = job
	return nil
}

// Lookup 查找 job。
func (r *Registry) Lookup(name string) (Job, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	return job, ok
}

// Names 返回已注册的 job 名称（有序）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type storeReporter struct {
	store  Store
	taskID string
}

func (r storeReporter) Progress(ctx context.Context, percent int, text string) {
	if err := r.store.UpdateProgress(ctx, r.taskID, percent, text); err != nil {
		logger.L().Debug("忽略任务进度更新",
			slog.String("task_id", r.taskID),
			slog.Int("progress", percent),
			slog.Any("error", err))
	}
}

// NopReporter 丢弃所有进度，用于在任务队列之外直接调用 job。
type NopReporter struct{}

// Progress 实现 Reporter。
func (NopReporter) Progress(context.Context, int, string) {}
