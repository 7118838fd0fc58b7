package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/observability/metrics"
	"Fluxo/pkg/logger"
)

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	jobs       *Registry
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithKnownJobs 让 Submit 拒绝未注册的 job 名称。
func WithKnownJobs(registry *Registry) ServiceOption {
	return func(s *Service) {
		s.jobs = registry
	}
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int, opts ...ServiceOption) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	s := &Service{store: store, producer: producer, maxRetries: maxRetries}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 持久化一个 PENDING 任务并推送到队列，立即返回。
func (s *Service) Submit(ctx context.Context, job string, args json.RawMessage) (*Task, error) {
	job = strings.TrimSpace(job)
	if job == "" {
		return nil, xerrors.New(CodeTaskValidation, "job 不能为空")
	}
	if s.jobs != nil {
		if _, ok := s.jobs.Lookup(job); !ok {
			return nil, xerrors.New(CodeTaskValidation, "未知的 job: "+job)
		}
	}
	if len(args) > 0 && !json.Valid(args) {
		return nil, xerrors.New(CodeTaskValidation, "args 必须是合法的 JSON")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	task := &Task{
		ID:         uuid.NewString(),
		Job:        job,
		Args:       cloneRaw(args),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}
	metrics.ObserveTaskTransition(job, string(StatusPending))

	if err := s.producer.Publish(ctx, task.ID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", task.ID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		if markErr := s.store.MarkFailed(context.WithoutCancel(ctx), task.ID, CodeTaskPublish, wrapped.Error()); markErr != nil {
			logger.L().Error("回写入队失败状态出错", slog.Any("error", markErr), slog.String("task_id", task.ID))
		} else {
			metrics.ObserveTaskTransition(job, string(StatusFailure))
		}
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", task.ID),
		slog.String("job", task.Job),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return errors.Join(errs...)
}

// WaitUntilCompleted 轮询任务状态直到进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待任务完成超时")
		case <-ticker.C:
		}
	}
}
