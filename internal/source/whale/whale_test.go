package whale

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
	"Fluxo/internal/source"
)

func TestMockFixture(t *testing.T) {
	movements := Mock{}.Fetch(context.Background(), source.Query{})
	if len(movements) != 3 {
		t.Fatalf("expected 3 fixture movements, got %d", len(movements))
	}
	want := []struct {
		token  string
		usd    float64
		impact float64
	}{
		{"mETH", 5_250_000, 8.5},
		{"USDC", 10_000_000, 8.5},
		{"MNT", 2_000_000, 7.0},
	}
	for i, w := range want {
		m := movements[i]
		if m.Token != w.token || m.USDValue != w.usd || m.ImpactScore != w.impact || m.Source != NameMock {
			t.Fatalf("movement %d = %+v, want %+v", i, m, w)
		}
	}
}

func TestDuneParsesResultRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query/42/results" || r.Header.Get("X-Dune-API-Key") != "secret" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"rows":[
			{"tx_hash":"0x1","from":"0xa","to":"0xb","token_symbol":"MNT","amount":3000000,"amount_usd":1500000,"block_time":"2024-05-01 10:00:00.000 UTC"},
			{"tx_hash":"0x2","from":"0xc","to":"0xd","token_symbol":"USDC","amount":10,"amount_usd":10}
		]}}`))
	}))
	defer srv.Close()

	dune := NewDune(DuneConfig{APIKey: "secret", QueryID: "42", BaseURL: srv.URL}, srv.Client())
	movements, err := dune.Fetch(context.Background(), source.Query{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected small transfer to be filtered, got %+v", movements)
	}
	m := movements[0]
	if m.TxHash != "0x1" || m.ImpactScore != 7.0 || m.Source != NameDune || m.ObservedAt.Year() != 2024 {
		t.Fatalf("unexpected movement: %+v", m)
	}
}

func TestDuneErrorsAreCoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	dune := NewDune(DuneConfig{APIKey: "k", QueryID: "1", BaseURL: srv.URL}, srv.Client())
	if _, err := dune.Fetch(context.Background(), source.Query{}); xerrors.CodeOf(err) != xerrors.CodeSourceFailure {
		t.Fatalf("expected source failure, got %v", err)
	}
	noQuery := NewDune(DuneConfig{APIKey: "k"}, nil)
	if _, err := noQuery.Fetch(context.Background(), source.Query{}); xerrors.CodeOf(err) != xerrors.CodeSourceUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

type fakeScanner struct {
	transfers []model.Transfer
	blocks    uint64
}

func (f *fakeScanner) ScanTransfers(context.Context, uint64, uint64) ([]model.Transfer, error) {
	return f.transfers, nil
}

func (f *fakeScanner) RecentTransfers(_ context.Context, blocks uint64) ([]model.Transfer, error) {
	f.blocks = blocks
	return f.transfers, nil
}

func TestOnchainFiltersByMinimum(t *testing.T) {
	scanner := &fakeScanner{transfers: []model.Transfer{
		{TxHash: "0x1", Token: "MNT", AmountUSD: 2_000_000},
		{TxHash: "0x2", Token: "MNT", AmountUSD: 99_999},
	}}
	src := NewOnchain(scanner, func(d time.Duration) uint64 { return uint64(d / time.Second) })
	movements, err := src.Fetch(context.Background(), source.Query{Timeframe: time.Minute})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(movements) != 1 || movements[0].TxHash != "0x1" || movements[0].Source != NameOnchain {
		t.Fatalf("unexpected movements: %+v", movements)
	}
	if scanner.blocks != 60 {
		t.Fatalf("expected lookback of 60 blocks, got %d", scanner.blocks)
	}
}

func TestResolverFailsOverToMock(t *testing.T) {
	r, err := NewResolver(Options{
		Primary:     NameFlipside,
		Credentials: source.Credentials{NameFlipside: "k", NameDune: "k"},
		Dune:        DuneConfig{APIKey: "k"},
	})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	if got := r.Order(); !reflect.DeepEqual(got, []string{NameFlipside, NameDune, NameMock}) {
		t.Fatalf("unexpected order: %v", got)
	}

	res := r.Fetch(context.Background(), source.Query{})
	if res.Source != NameMock || len(res.Value) != 3 || len(res.Attempts) != 2 {
		t.Fatalf("expected mock fallback after two failures: %+v", res)
	}
	if res.Attempts[0].Code != xerrors.CodeNotImplemented || res.Attempts[1].Code != xerrors.CodeSourceUnavailable {
		t.Fatalf("unexpected attempts: %+v", res.Attempts)
	}
}
