package task

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/observability/alerting"
	"Fluxo/internal/observability/metrics"
	"Fluxo/pkg/logger"
)

// Processor 负责从队列消费任务并交给注册的 job 执行。
type Processor struct {
	registry     *Registry
	store        Store
	consumer     Consumer
	workerCount  int
	retryBackoff time.Duration
	logger       *slog.Logger
	alerts       alerting.Sink
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRetryBackoff 设置同一 worker 内两次重试之间的等待时间。
func WithRetryBackoff(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d >= 0 {
			p.retryBackoff = d
		}
	}
}

// WithAlertSink 配置任务失败告警的输出。
func WithAlertSink(sink alerting.Sink) ProcessorOption {
	return func(p *Processor) {
		p.alerts = sink
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(registry *Registry, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		registry:     registry,
		store:        store,
		consumer:     consumer,
		workerCount:  1,
		retryBackoff: time.Second,
		logger:       logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.registry == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}
	metrics.ObserveTaskTransition(task.Job, string(StatusProcessing))

	job, ok := p.registry.Lookup(task.Job)
	if !ok {
		return p.fail(ctx, task, xerrors.New(CodeTaskUnknownJob, "未注册的 job: "+task.Job), time.Now())
	}

	started := time.Now()
	reporter := storeReporter{store: p.store, taskID: task.ID}
	for {
		output, execErr := runJob(ctx, job, task.Args, reporter)
		if execErr == nil {
			return p.succeed(ctx, task, output, started)
		}
		if !xerrors.RetryableError(execErr) || task.Attempts >= task.MaxRetries || ctx.Err() != nil {
			return p.fail(ctx, task, execErr, started)
		}
		code := codeOrDefault(execErr)
		if err := p.store.RecordAttempt(ctx, task.ID, code, execErr.Error()); err != nil {
			p.logger.Error("记录任务重试失败", slog.Any("error", err), slog.String("task_id", task.ID))
			return p.fail(ctx, task, execErr, started)
		}
		task.Attempts++
		p.logger.Warn("任务执行失败，准备重试",
			slog.String("task_id", task.ID),
			slog.String("job", task.Job),
			slog.String("error_code", string(code)),
			slog.Int("attempts", task.Attempts),
			slog.Int("max_retries", task.MaxRetries),
		)
		if !sleepCtx(ctx, p.retryBackoff) {
			return p.fail(ctx, task, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "任务重试被取消"), started)
		}
	}
}

func (p *Processor) succeed(ctx context.Context, task *Task, output any, started time.Time) error {
	result, err := json.Marshal(output)
	if err != nil {
		return p.fail(ctx, task, xerrors.Wrap(CodeTaskProcessing, err, "编码任务结果失败"), started)
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, result); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	metrics.ObserveTaskTransition(task.Job, string(StatusSuccess))
	metrics.ObserveTaskDuration(task.Job, time.Since(started))
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("job", task.Job),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, task *Task, execErr error, started time.Time) error {
	code := codeOrDefault(execErr)
	// 终态写入不应因 worker 退出而丢失。
	writeCtx := context.WithoutCancel(ctx)
	if err := p.store.MarkFailed(writeCtx, task.ID, code, execErr.Error()); err != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	metrics.ObserveTaskTransition(task.Job, string(StatusFailure))
	metrics.ObserveTaskDuration(task.Job, time.Since(started))
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("job", task.Job),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)
	p.emitAlert(writeCtx, task, execErr)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, cause error) {
	if p.alerts == nil {
		return
	}
	alert := alerting.FromError(cause, "Task failed: "+task.Job, "task_worker", map[string]any{
		"task_id":     task.ID,
		"job":         task.Job,
		"attempts":    task.Attempts,
		"max_retries": task.MaxRetries,
	}, uuid.NewString, time.Now().UTC())
	if err := p.alerts.Record(ctx, alert); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("sink", p.alerts.Name()),
		)
	}
}

// runJob 执行 job 并把 panic 转换为 PANIC 错误。
func runJob(ctx context.Context, job Job, args json.RawMessage, report Reporter) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = xerrors.FromPanic(r)
		}
	}()
	return job(ctx, args, report)
}

func codeOrDefault(err error) xerrors.Code {
	code := xerrors.CodeOf(err)
	if code == xerrors.CodeUnknown {
		return CodeTaskProcessing
	}
	return code
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
