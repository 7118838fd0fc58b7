package fluxo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Fluxo/internal/api"
	"Fluxo/internal/bus"
	"Fluxo/internal/task"
)

type harness struct {
	client *Client
	bus    *bus.MemoryBus
}

func newHarness(t *testing.T) harness {
	t.Helper()
	registry := task.NewRegistry()
	if err := registry.Register("echo", func(_ context.Context, args json.RawMessage, _ task.Reporter) (any, error) {
		return map[string]json.RawMessage{"echo": args}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	svc := task.NewService(store, queue, 1, task.WithKnownJobs(registry))
	proc := task.NewProcessor(registry, store, queue)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = proc.Start(ctx) }()

	b := bus.NewMemoryBus(4)
	srv := httptest.NewServer(api.NewServer("", svc, b).Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = b.Close()
	})

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return harness{client: client, bus: b}
}

func TestSubmitAndWait(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, err := h.client.SubmitTask(ctx, "echo", map[string]string{"wallet_address": "0xabc"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if summary.TaskID == "" || summary.Status != StatusPending {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	done, err := h.client.WaitForTask(ctx, summary.TaskID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSuccess || string(done.Result) != `{"echo":{"wallet_address":"0xabc"}}` {
		t.Fatalf("unexpected task: %+v", done)
	}

	tasks, err := h.client.ListTasks(ctx, ListFilter{Job: "echo", Limit: 10})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list: %v %+v", err, tasks)
	}
	stats, err := h.client.TaskStats(ctx, ListFilter{})
	if err != nil || stats.Total != 1 || stats.Success != 1 {
		t.Fatalf("stats: %v %+v", err, stats)
	}
}

func TestErrorsCarryCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.GetTask(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != string(task.CodeTaskNotFound) {
		t.Fatalf("expected not found api error, got %v", err)
	}
	if _, err := h.client.SubmitTask(ctx, "nope", nil); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestPublishAndHealth(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.client.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	sub, err := h.bus.Subscribe(ctx, bus.ChannelPortfolio)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := h.client.Publish(ctx, bus.ChannelPortfolio, json.RawMessage(`{"wallet_address":"0x1"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for {
		select {
		case msg := <-sub.Messages():
			if !msg.IsData() {
				continue
			}
			if string(msg.Payload) != `{"wallet_address":"0x1"}` {
				t.Fatalf("unexpected payload: %s", msg.Payload)
			}
			return
		case <-ctx.Done():
			t.Fatalf("payload not delivered")
		}
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", nil); err == nil {
		t.Fatalf("expected error for relative url")
	}
}
