package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Record(_ context.Context, alert model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error {
	return errors.New("broker unreachable")
}
func (failingProducer) Close() error { return nil }

func newHarness(t *testing.T, jobs map[string]Job, opts ...ProcessorOption) (*Service, *Processor, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	registry := NewRegistry()
	for name, job := range jobs {
		if err := registry.Register(name, job); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	opts = append([]ProcessorOption{WithRetryBackoff(0)}, opts...)
	return NewService(store, queue, 3, WithKnownJobs(registry)), NewProcessor(registry, store, queue, opts...), store
}

func TestSubmitIsPendingUntilWorkerRuns(t *testing.T) {
	ctx := context.Background()
	service, processor, _ := newHarness(t, map[string]Job{
		"echo": func(_ context.Context, args json.RawMessage, report Reporter) (any, error) {
			report.Progress(context.Background(), 50, "halfway")
			return map[string]any{"echo": json.RawMessage(args)}, nil
		},
	})

	submitted, err := service.Submit(ctx, "echo", json.RawMessage(`{"wallet":"0xabc"}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.ID == "" || submitted.Status != StatusPending {
		t.Fatalf("unexpected submitted task: %+v", submitted)
	}

	before, err := service.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if before.Status != StatusPending || before.Result != nil {
		t.Fatalf("expected PENDING without result, got %+v", before)
	}

	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	after, err := service.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Status != StatusSuccess || after.Progress != 100 {
		t.Fatalf("expected SUCCESS, got %+v", after)
	}
	if string(after.Result) != `{"echo":{"wallet":"0xabc"}}` {
		t.Fatalf("unexpected result: %s", after.Result)
	}

	again, _ := service.Get(ctx, submitted.ID)
	if again.Status != after.Status || string(again.Result) != string(after.Result) || again.UpdatedAt != after.UpdatedAt {
		t.Fatalf("Get must be idempotent: %+v vs %+v", again, after)
	}

	// 重复投递不会改变终态。
	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	final, _ := service.Get(ctx, submitted.ID)
	if final.Status != StatusSuccess || string(final.Result) != string(after.Result) {
		t.Fatalf("terminal task changed on redelivery: %+v", final)
	}
}

func TestRetryableErrorsRetryInPlace(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	var seen []Status
	var store *MemoryStore
	service, processor, store := newHarness(t, map[string]Job{
		"flaky": func(ctx context.Context, _ json.RawMessage, _ Reporter) (any, error) {
			n := calls.Add(1)
			tasks, _ := store.List(ctx, ListOptions{})
			seen = append(seen, tasks[0].Status)
			if n < 3 {
				return nil, xerrors.New(xerrors.CodeSourceFailure, "upstream timeout")
			}
			return "done", nil
		},
	})

	submitted, err := service.Submit(ctx, "flaky", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := service.Get(ctx, submitted.ID)
	if got.Status != StatusSuccess || got.Attempts != 3 || string(got.Result) != `"done"` {
		t.Fatalf("unexpected task: %+v", got)
	}
	for i, status := range seen {
		if status != StatusProcessing {
			t.Fatalf("attempt %d observed status %s, task must stay PROCESSING", i+1, status)
		}
	}
}

func TestRetriesAreBoundedByMaxRetries(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	sink := &recordingSink{}
	service, processor, _ := newHarness(t, map[string]Job{
		"down": func(context.Context, json.RawMessage, Reporter) (any, error) {
			calls.Add(1)
			return nil, xerrors.New(xerrors.CodeSourceFailure, "still down")
		},
	}, WithAlertSink(sink))

	submitted, _ := service.Submit(ctx, "down", nil)
	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := service.Get(ctx, submitted.ID)
	if got.Status != StatusFailure || got.ErrorCode != string(xerrors.CodeSourceFailure) || got.Result != nil {
		t.Fatalf("unexpected task: %+v", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 executions, got %d", calls.Load())
	}
	if sink.count() != 1 {
		t.Fatalf("expected one failure alert, got %d", sink.count())
	}
}

func TestNonRetryableFailureAndPanic(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	service, processor, _ := newHarness(t, map[string]Job{
		"bad": func(context.Context, json.RawMessage, Reporter) (any, error) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet required")
		},
		"boom": func(context.Context, json.RawMessage, Reporter) (any, error) {
			var m map[string]int
			m["x"] = 1
			return nil, nil
		},
		"plain": func(context.Context, json.RawMessage, Reporter) (any, error) {
			return nil, errors.New("plain failure")
		},
	}, WithAlertSink(sink))

	cases := map[string]xerrors.Code{
		"bad":   xerrors.CodeInvalidArgument,
		"boom":  xerrors.CodePanic,
		"plain": CodeTaskProcessing,
	}
	for job, code := range cases {
		submitted, err := service.Submit(ctx, job, nil)
		if err != nil {
			t.Fatalf("submit %s: %v", job, err)
		}
		if err := processor.handle(ctx, submitted.ID); err != nil {
			t.Fatalf("handle %s: %v", job, err)
		}
		got, _ := service.Get(ctx, submitted.ID)
		if got.Status != StatusFailure || got.ErrorCode != string(code) || got.LastError == "" {
			t.Fatalf("%s: unexpected task %+v", job, got)
		}
		if got.Attempts != 1 {
			t.Fatalf("%s: non-retryable errors must not retry, attempts=%d", job, got.Attempts)
		}
	}
	if sink.count() != len(cases) {
		t.Fatalf("expected %d alerts, got %d", len(cases), sink.count())
	}
	for _, alert := range sink.alerts {
		if alert.Type != model.AlertTaskFailure || alert.TriggeredBy != "task_worker" {
			t.Fatalf("unexpected alert: %+v", alert)
		}
	}
}

func TestUnknownJobFailsTask(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 3)
	processor := NewProcessor(NewRegistry(), store, queue)

	submitted, err := service.Submit(ctx, "nope", nil)
	if err != nil {
		t.Fatalf("submit without registry validation: %v", err)
	}
	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := service.Get(ctx, submitted.ID)
	if got.Status != StatusFailure || got.ErrorCode != string(CodeTaskUnknownJob) {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newHarness(t, map[string]Job{
		"echo": func(context.Context, json.RawMessage, Reporter) (any, error) { return nil, nil },
	})
	if _, err := service.Submit(ctx, " ", nil); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error for empty job, got %v", err)
	}
	if _, err := service.Submit(ctx, "missing", nil); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error for unknown job, got %v", err)
	}
	if _, err := service.Submit(ctx, "echo", json.RawMessage(`{bad`)); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error for invalid args, got %v", err)
	}
}

func TestSubmitEnqueueFailureMarksFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)

	if _, err := service.Submit(ctx, "whale_tracking", nil); xerrors.CodeOf(err) != CodeTaskPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	tasks, _ := store.List(ctx, ListOptions{})
	if len(tasks) != 1 || tasks[0].Status != StatusFailure || tasks[0].ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("expected PENDING -> FAILURE, got %+v", tasks)
	}
}

func TestWaitUntilCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	service, processor, _ := newHarness(t, map[string]Job{
		"slow": func(ctx context.Context, _ json.RawMessage, _ Reporter) (any, error) {
			time.Sleep(20 * time.Millisecond)
			return 42, nil
		},
	})
	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, "slow", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, submitted.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSuccess || string(done.Result) != "42" {
		t.Fatalf("unexpected task: %+v", done)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	store := NewMemoryStore()
	idle := NewService(store, NewMemoryQueue(1), 1)
	pending, _ := idle.Submit(short, "never", nil)
	if _, err := idle.WaitUntilCompleted(short, pending.ID, time.Millisecond); xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var processed atomic.Int32
	service, processor, _ := newHarness(t, map[string]Job{
		"count": func(ctx context.Context, _ json.RawMessage, _ Reporter) (any, error) {
			select {
			case <-time.After(5 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			processed.Add(1)
			return nil, nil
		},
	}, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 50
	for i := 0; i < total; i++ {
		if _, err := service.Submit(ctx, "count", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(processed.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", processed.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
	stats, err := service.Stats(ctx, WithJobs("count"))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != total {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
