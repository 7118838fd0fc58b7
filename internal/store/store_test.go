package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	xerrors "Fluxo/internal/errors"
)

func TestMemoryStoreMissingDocument(t *testing.T) {
	s := NewMemoryStore()
	raw, found, err := s.Find(context.Background(), KeyYieldProtocols)
	if err != nil || found || raw != nil {
		t.Fatalf("expected clean miss, got raw=%s found=%v err=%v", raw, found, err)
	}
}

func TestMemoryStoreUpsertMergesFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Upsert(ctx, KeyTransactions, map[string]any{"0xabc": []string{"t1"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, KeyTransactions, map[string]any{"0xdef": []string{"t2"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var doc map[string][]string
	found, err := FindInto(ctx, s, KeyTransactions, &doc)
	if err != nil || !found {
		t.Fatalf("find: found=%v err=%v", found, err)
	}
	if len(doc) != 2 || doc["0xabc"][0] != "t1" || doc["0xdef"][0] != "t2" {
		t.Fatalf("unexpected document: %+v", doc)
	}

	if err := s.Upsert(ctx, KeyTransactions, map[string]any{"0xabc": []string{"t3"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_, _ = FindInto(ctx, s, KeyTransactions, &doc)
	if doc["0xabc"][0] != "t3" {
		t.Fatalf("expected last writer to win, got %+v", doc)
	}
}

func TestMergePatchNested(t *testing.T) {
	target := map[string]any{"a": map[string]any{"x": 1.0, "y": 2.0}, "b": "keep"}
	out := mergePatch(target, map[string]any{"a": map[string]any{"y": nil, "z": 3.0}})
	a := out["a"].(map[string]any)
	if _, ok := a["y"]; ok || a["x"] != 1.0 || a["z"] != 3.0 || out["b"] != "keep" {
		t.Fatalf("unexpected merge result: %+v", out)
	}
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Upsert(context.Background(), Key{Collection: "x"}, map[string]any{"a": 1}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid key error, got %v", err)
	}
	if err := s.Upsert(context.Background(), KeyPortfolios, nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected empty patch error, got %v", err)
	}
}

func TestMySQLStoreFind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s, _ := NewMySQLStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM documents WHERE collection = ? AND doc_id = ?")).
		WithArgs("Yield_Protocol", "Mantle_yield_protocol").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow([]byte(`{"protocol":[]}`)))
	raw, found, err := s.Find(context.Background(), KeyYieldProtocols)
	if err != nil || !found || string(raw) != `{"protocol":[]}` {
		t.Fatalf("unexpected find result raw=%s found=%v err=%v", raw, found, err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM documents")).
		WithArgs("User_Portfolio", "portfolios").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))
	if _, found, err := s.Find(context.Background(), KeyPortfolios); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMySQLStoreUpsertUsesMergePatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s, _ := NewMySQLStore(db)

	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE body = JSON_MERGE_PATCH(body, VALUES(body))")).
		WithArgs("Alerts", "a-1", `{"type":"whale_movement"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := s.Upsert(context.Background(), AlertKey("a-1"), map[string]any{"type": "whale_movement"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	mock.ExpectExec("INSERT INTO documents").WillReturnError(context.DeadlineExceeded)
	err = s.Upsert(context.Background(), AlertKey("a-2"), map[string]any{"type": "x"})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type countingStore struct {
	*MemoryStore
	finds int
}

func (c *countingStore) Find(ctx context.Context, key Key) (json.RawMessage, bool, error) {
	c.finds++
	return c.MemoryStore.Find(ctx, key)
}

func TestCachedStoreReadThroughAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inner := &countingStore{MemoryStore: NewMemoryStore()}
	s, err := NewCachedStore(inner, client, time.Minute)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	ctx := context.Background()

	if err := s.Upsert(ctx, KeyWhaleTransfers, map[string]any{"count": 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for i := 0; i < 3; i++ {
		raw, found, err := s.Find(ctx, KeyWhaleTransfers)
		if err != nil || !found || string(raw) != `{"count":1}` {
			t.Fatalf("find %d: raw=%s found=%v err=%v", i, raw, found, err)
		}
	}
	if inner.finds != 1 {
		t.Fatalf("expected a single backend read, got %d", inner.finds)
	}

	if err := s.Upsert(ctx, KeyWhaleTransfers, map[string]any{"count": 2}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	raw, _, _ := s.Find(ctx, KeyWhaleTransfers)
	if string(raw) != `{"count":2}` || inner.finds != 2 {
		t.Fatalf("expected cache invalidation, raw=%s finds=%d", raw, inner.finds)
	}
}

func TestCachedStoreDoesNotCacheMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inner := &countingStore{MemoryStore: NewMemoryStore()}
	s, _ := NewCachedStore(inner, client, time.Minute)
	for i := 0; i < 2; i++ {
		if _, found, err := s.Find(context.Background(), KeyPortfolios); err != nil || found {
			t.Fatalf("expected miss, found=%v err=%v", found, err)
		}
	}
	if inner.finds != 2 {
		t.Fatalf("misses should always reach the backend, got %d", inner.finds)
	}
}
