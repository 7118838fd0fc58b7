package yield

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"Fluxo/internal/source"
	"Fluxo/internal/store"
)

func TestStoreSourceMissingArtifactFallsBackToEmpty(t *testing.T) {
	docs := store.NewMemoryStore()
	r, err := NewResolver(docs, source.Credentials{}, DefiLlamaConfig{}, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	res := r.Fetch(context.Background(), source.Query{})
	if !res.Fallback || res.Source != NameEmpty || len(res.Value) != 0 {
		t.Fatalf("expected empty fallback, got %+v", res)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Source != NameStore {
		t.Fatalf("expected store attempt to be recorded: %+v", res.Attempts)
	}
}

func TestStoreSourceReadsArtifact(t *testing.T) {
	docs := store.NewMemoryStore()
	err := docs.Upsert(context.Background(), store.KeyYieldProtocols, map[string]any{
		"protocol": []map[string]any{{"project": "Lendle", "symbol": "USDC", "apy": 5.1}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	r, _ := NewResolver(docs, nil, DefiLlamaConfig{}, nil)
	res := r.Fetch(context.Background(), source.Query{})
	if res.Source != NameStore || len(res.Value) != 1 || res.Value[0].Name != "Lendle" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDefiLlamaFiltersChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":[
			{"chain":"Mantle","project":"agni-finance","symbol":"WMNT-USDT","apy":12.5,"tvlUsd":1000},
			{"chain":"Ethereum","project":"lido","symbol":"STETH","apy":3.1}
		]}`))
	}))
	defer srv.Close()

	docs := store.NewMemoryStore()
	r, _ := NewResolver(docs, source.Credentials{NameDefiLlama: srv.URL}, DefiLlamaConfig{URL: srv.URL}, srv.Client())
	res := r.Fetch(context.Background(), source.Query{})
	if res.Source != NameDefiLlama || len(res.Value) != 1 {
		t.Fatalf("expected defillama result, got %+v", res)
	}
	if p := res.Value[0]; p.Name != "agni-finance" || p.APY != 12.5 || p.TVLUSD != 1000 {
		t.Fatalf("unexpected protocol: %+v", p)
	}
}
