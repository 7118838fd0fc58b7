package task

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

var taskRowColumns = []string{"id", "job", "args", "status", "progress", "status_text", "result", "last_error", "error_code", "attempts", "max_retries", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewMySQLStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, mock
}

func TestMySQLStoreCreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tasks")).
		WithArgs("t1", "whale_tracking", sqlmock.AnyArg(), "PENDING", 0, 3, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tasks")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	ctx := context.Background()
	if err := store.Create(ctx, &Task{ID: "t1", Job: "whale_tracking", MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "t1", Job: "whale_tracking", MaxRetries: 3}); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLStoreGetDecodesJSONColumns(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows(taskRowColumns).
		AddRow("t1", "portfolio_fetch", `{"wallet":"0x1"}`, "SUCCESS", 100, "", `{"holdings":[]}`, nil, "", 1, 3, int64(10), int64(20))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = ?")).WithArgs("t1").WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = ?")).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	got, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSuccess || string(got.Args) != `{"wallet":"0x1"}` || string(got.Result) != `{"holdings":[]}` || got.LastError != "" {
		t.Fatalf("unexpected task: %+v", got)
	}
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreClaimRejectsTerminalTask(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET status = ?, attempts = 1")).
		WithArgs("PROCESSING", sqlmock.AnyArg(), "t1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = ?")).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow("t1", "j", nil, "FAILURE", 0, "", nil, "boom", "X", 1, 3, int64(1), int64(2)))

	task, err := store.Claim(context.Background(), "t1")
	if !errors.Is(err, ErrTaskCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if task == nil || task.Status != StatusFailure {
		t.Fatalf("expected current snapshot, got %+v", task)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLStoreMarkSucceededOnlyFromProcessing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET status = ?, result = ?, progress = 100")).
		WithArgs("SUCCESS", `{"ok":true}`, sqlmock.AnyArg(), "t1", "PROCESSING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET status = ?, result = ?, progress = 100")).
		WithArgs("SUCCESS", `{}`, sqlmock.AnyArg(), "t2", "PROCESSING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = ?")).WithArgs("t2").
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow("t2", "j", nil, "PENDING", 0, "", nil, nil, "", 0, 3, int64(1), int64(1)))

	ctx := context.Background()
	if err := store.MarkSucceeded(ctx, "t1", json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t2", json.RawMessage(`{}`)); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict for PENDING task, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLStoreUpdateProgressNoopIsAccepted(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET progress = ?, status_text = ?")).
		WithArgs(100, "done", sqlmock.AnyArg(), "t1", "PROCESSING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = ?")).WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow("t1", "j", nil, "PROCESSING", 100, "done", nil, nil, "", 1, 3, int64(1), int64(1)))

	if err := store.UpdateProgress(context.Background(), "t1", 120, "done"); err != nil {
		t.Fatalf("unchanged progress must not fail: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLStoreListAndStatsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE status IN (?) AND job IN (?) AND result IS NOT NULL AND (id LIKE ?")).
		WithArgs("SUCCESS", "whale_tracking", "%whale%", "%whale%", "%whale%", "%whale%", 5, 0).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow("t1", "whale_tracking", nil, "SUCCESS", 100, "", `{"total_movements":3}`, nil, "", 1, 3, int64(1), int64(2)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE status IN (?,?)")).
		WithArgs("PENDING", "PROCESSING", "SUCCESS", "FAILURE", "PENDING", "FAILURE").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "processing", "success", "failure", "oldest", "newest"}).
			AddRow(4, 3, 0, 0, 1, int64(5), int64(9)))

	ctx := context.Background()
	tasks, err := store.List(ctx, buildListOptions([]ListOption{
		WithStatuses(StatusSuccess),
		WithJobs("whale_tracking"),
		WithResultPresence(true),
		WithQuery(" whale "),
		WithLimit(5),
	}))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}

	stats, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusPending, StatusFailure, StatusPending)}))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 3 || stats.Failure != 1 || stats.NewestUpdatedAt != 9 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
