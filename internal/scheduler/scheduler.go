// Package scheduler 按 cron 规则周期性地提交任务。调度器只负责入队，
// 执行与重试由任务 worker 完成。
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/task"
	"Fluxo/pkg/logger"
)

// Submitter 是调度器依赖的任务提交能力，task.Service 满足该接口。
type Submitter interface {
	Submit(ctx context.Context, job string, args json.RawMessage) (*task.Task, error)
}

// Rule 描述一条周期任务。
type Rule struct {
	Name string
	Spec string
	Job  string
	Args json.RawMessage
}

// Entry 是已注册规则的快照。
type Entry struct {
	Rule
	ID cron.EntryID
}

// Scheduler 包装 robfig/cron。
type Scheduler struct {
	cron   *cron.Cron
	submit Submitter
	log    *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]Entry
}

// New 创建调度器。规则支持标准 5 段表达式与 @every 等描述符。
func New(submit Submitter) *Scheduler {
	log := logger.Named("scheduler")
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{log})), cron.WithLogger(cronLogger{log})),
		submit:  submit,
		log:     log,
		ctx:     context.Background(),
		entries: make(map[string]Entry),
	}
}

// Add 注册规则，名称为空时使用 job 名称。
func (s *Scheduler) Add(rule Rule) (cron.EntryID, error) {
	rule.Job = strings.TrimSpace(rule.Job)
	if rule.Job == "" {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "调度规则缺少 job")
	}
	if rule.Name == "" {
		rule.Name = rule.Job
	}
	if len(rule.Args) > 0 && !json.Valid(rule.Args) {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "调度规则的 args 不是合法 JSON: "+rule.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[rule.Name]; dup {
		return 0, xerrors.New(xerrors.CodeConflict, "调度规则重复: "+rule.Name)
	}
	id, err := s.cron.AddFunc(rule.Spec, func() { s.fire(rule) })
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("解析 cron 表达式失败: %s", rule.Spec))
	}
	s.entries[rule.Name] = Entry{Rule: rule, ID: id}
	s.log.Info("调度规则已注册", slog.String("rule", rule.Name), slog.String("spec", rule.Spec), slog.String("job", rule.Job))
	return id, nil
}

// Entries 返回已注册的规则。
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Run 启动调度并阻塞到 ctx 结束，返回前等待正在执行的提交完成。
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) fire(rule Rule) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	t, err := s.submit.Submit(ctx, rule.Job, rule.Args)
	if err != nil {
		s.log.Error("定时任务提交失败",
			slog.String("rule", rule.Name),
			slog.String("job", rule.Job),
			xerrors.CodeAttr(err),
			slog.Any("error", err))
		return
	}
	s.log.Info("定时任务已提交", slog.String("rule", rule.Name), slog.String("task_id", t.ID))
}

// cronLogger 把 cron 的日志接到 slog。
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
