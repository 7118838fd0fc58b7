package agent

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"Fluxo/internal/bus"
	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/store"
)

func TestPortfolioAnalyze(t *testing.T) {
	docs := store.NewMemoryStore()
	ctx := context.Background()
	if err := docs.Upsert(ctx, store.KeyPortfolios, map[string]any{
		"0xAbc": []map[string]any{
			{"symbol": "mETH", "percentage_of_portfolio": 60, "value_usd": 6000},
			{"symbol": "USDC", "percentage_of_portfolio": 40},
		},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	agent := NewPortfolioAgent(bus.NewMemoryBus(1), NewStorePortfolios(docs))

	holdings, err := agent.Analyze(ctx, "0xabc")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(holdings) != 2 || holdings[0].Symbol != "mETH" || holdings[0].ValueUSD != 6000 {
		t.Fatalf("unexpected holdings: %+v", holdings)
	}

	unknown, err := agent.Analyze(ctx, "0xnobody")
	if err != nil {
		t.Fatalf("analyze unknown: %v", err)
	}
	if unknown == nil || len(unknown) != 0 {
		t.Fatalf("unknown wallet must yield an empty list, got %+v", unknown)
	}

	if _, err := agent.Analyze(ctx, ""); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestPortfolioHandleRepublishes(t *testing.T) {
	b := bus.NewMemoryBus(4)
	defer b.Close()
	sub := subscribe(t, b, bus.ChannelFinalPortfolio)
	agent := NewPortfolioAgent(b, nil)

	if err := agent.Handle(context.Background(), bus.Message{Payload: []byte(`[1]`), Kind: bus.KindData}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msg, ok := nextData(sub, time.Second); !ok || string(msg.Payload) != `[1]` {
		t.Fatalf("expected republished payload, got %q", msg.Payload)
	}
}

func TestRedisWallets(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	wallets := NewRedisWallets(client, "")
	if err := wallets.Track(ctx, "0xa", "0xb"); err != nil {
		t.Fatalf("track: %v", err)
	}
	members, err := wallets.Members(ctx)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("unexpected members: %v", members)
	}
	if ok, _ := mr.SIsMember(DefaultTrackedWalletsKey, "0xa"); !ok {
		t.Fatalf("wallet not stored under the default key")
	}
	if ok, err := wallets.Contains(ctx, "0xb"); err != nil || !ok {
		t.Fatalf("expected 0xb to be tracked (%v)", err)
	}
	if ok, _ := wallets.Contains(ctx, "0xc"); ok {
		t.Fatalf("0xc must not be tracked")
	}

	mr.Close()
	if _, err := wallets.Members(ctx); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected STORAGE_FAILURE when redis is down, got %v", err)
	}
}

func TestStaticWalletsIgnoreCase(t *testing.T) {
	set := StaticWallets{"0xABC"}
	if ok, _ := set.Contains(context.Background(), "0xabc"); !ok {
		t.Fatalf("expected case-insensitive match")
	}
	members, _ := set.Members(context.Background())
	members[0] = "mutated"
	if set[0] != "0xABC" {
		t.Fatalf("Members must return a copy")
	}
}
