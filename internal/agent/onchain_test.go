package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"Fluxo/internal/bus"
	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/evaluator"
	"Fluxo/internal/model"
	"Fluxo/internal/source"
	"Fluxo/internal/source/whale"
	"Fluxo/internal/store"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	transfers map[string][]model.Transfer
	calls     int
}

func (f *stubFetcher) FetchTransactions(_ context.Context, wallet string) ([]model.Transfer, error) {
	f.calls++
	return f.transfers[wallet], nil
}

type stubScanner struct {
	transfers []model.Transfer
}

func (s stubScanner) ScanTransfers(context.Context, uint64, uint64) ([]model.Transfer, error) {
	return s.transfers, nil
}

func (s stubScanner) RecentTransfers(context.Context, uint64) ([]model.Transfer, error) {
	return s.transfers, nil
}

func subscribe(t *testing.T, b *bus.MemoryBus, channel string) bus.Subscription {
	t.Helper()
	sub, err := b.Subscribe(context.Background(), channel)
	if err != nil {
		t.Fatalf("subscribe %s: %v", channel, err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

// nextData returns the next data frame, or false if none arrives in time.
func nextData(sub bus.Subscription, wait time.Duration) (bus.Message, bool) {
	timeout := time.After(wait)
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return bus.Message{}, false
			}
			if msg.IsData() {
				return msg, true
			}
		case <-timeout:
			return bus.Message{}, false
		}
	}
}

func transferPayload(usd float64) bus.Message {
	raw, _ := json.Marshal(map[string]any{
		"tx_hash":      "0xabc",
		"from_address": "0xfrom",
		"to_address":   "0xto",
		"token":        "USDC",
		"amount":       usd,
		"amount_usd":   usd,
	})
	return bus.Message{Channel: bus.ChannelOnchain, Payload: raw, Kind: bus.KindData}
}

func TestOnchainHandleLegacyPolicyForwardsSmallTransfers(t *testing.T) {
	b := bus.NewMemoryBus(8)
	defer b.Close()
	sub := subscribe(t, b, bus.ChannelWhaleWatch)
	agent := NewOnchainAgent(b, OnchainOptions{Now: func() time.Time { return fixedNow }})

	if err := agent.Handle(context.Background(), transferPayload(50_000)); err != nil {
		t.Fatalf("handle small transfer: %v", err)
	}
	msg, ok := nextData(sub, time.Second)
	if !ok {
		t.Fatalf("expected a forwarded movement")
	}
	if got := gjson.GetBytes(msg.Payload, "data_source").String(); got != StreamSource {
		t.Fatalf("unexpected data_source %q", got)
	}
	if got := gjson.GetBytes(msg.Payload, "impact_score").Float(); got != 3.0 {
		t.Fatalf("unexpected impact score %v", got)
	}

	if err := agent.Handle(context.Background(), transferPayload(2_000_000)); err != nil {
		t.Fatalf("handle large transfer: %v", err)
	}
	if _, ok := nextData(sub, 100*time.Millisecond); ok {
		t.Fatalf("legacy policy must skip transfers above the threshold")
	}
}

func TestOnchainHandleAbovePolicyRaisesHighImpactAlert(t *testing.T) {
	b := bus.NewMemoryBus(8)
	defer b.Close()
	sub := subscribe(t, b, bus.ChannelWhaleWatch)
	sink := &recordingSink{}
	agent := NewOnchainAgent(b, OnchainOptions{
		Alerts:     sink,
		Policy:     evaluator.ForwardAboveThreshold,
		Thresholds: evaluator.TokenThresholds{ByToken: map[string]float64{"USDC": 1_000_000}},
		Now:        func() time.Time { return fixedNow },
	})

	if err := agent.Handle(context.Background(), transferPayload(900_000)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := nextData(sub, 100*time.Millisecond); ok {
		t.Fatalf("transfer below the token threshold must not be forwarded")
	}

	if err := agent.Handle(context.Background(), transferPayload(6_000_000)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := nextData(sub, time.Second); !ok {
		t.Fatalf("expected movement on whale watch channel")
	}
	alerts := sink.recorded()
	if len(alerts) != 1 || alerts[0].Type != model.AlertWhaleMovement || alerts[0].Severity != model.SeverityWarning {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
	if alerts[0].TriggeredBy != "onchain_agent" || !alerts[0].CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected alert metadata: %+v", alerts[0])
	}
}

func TestOnchainHandleRejectsMalformedTransfer(t *testing.T) {
	b := bus.NewMemoryBus(8)
	defer b.Close()
	agent := NewOnchainAgent(b, OnchainOptions{})

	err := agent.Handle(context.Background(), bus.Message{Payload: []byte(`{"token":"USDC"}`), Kind: bus.KindData})
	if xerrors.CodeOf(err) != xerrors.CodeDecodeFailure {
		t.Fatalf("expected DECODE_FAILURE, got %v", err)
	}
}

func TestOnchainTransactionsPrefersStore(t *testing.T) {
	docs := store.NewMemoryStore()
	ctx := context.Background()
	if err := docs.Upsert(ctx, store.KeyTransactions, map[string]any{
		"0xwallet": []map[string]any{{"tx_hash": "0x1"}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fetcher := &stubFetcher{}
	agent := NewOnchainAgent(bus.NewMemoryBus(1), OnchainOptions{Docs: docs, Fetcher: fetcher})

	res, err := agent.Transactions(ctx, "0xwallet")
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if res.Source != "store" || gjson.GetBytes(res.Transactions, "0.tx_hash").String() != "0x1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetcher must not be called on a store hit")
	}

	if _, err := agent.Transactions(ctx, "  "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for blank wallet, got %v", err)
	}
}

func TestOnchainTransactionsFallsBackAndStoresTrackedWallets(t *testing.T) {
	docs := store.NewMemoryStore()
	ctx := context.Background()
	fetcher := &stubFetcher{transfers: map[string][]model.Transfer{
		"0xtracked": {{TxHash: "0xt", From: "0xtracked", AmountUSD: 10}},
		"0xother":   {{TxHash: "0xo", To: "0xother", AmountUSD: 20}},
	}}
	agent := NewOnchainAgent(bus.NewMemoryBus(1), OnchainOptions{
		Docs:    docs,
		Fetcher: fetcher,
		Wallets: StaticWallets{"0xTRACKED"},
		Now:     func() time.Time { return fixedNow },
	})

	res, err := agent.Transactions(ctx, "0xtracked")
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if res.Source != "fetcher" || !res.Stored {
		t.Fatalf("expected fetched and stored result, got %+v", res)
	}
	raw, found, _ := docs.Find(ctx, store.KeyTransactions)
	if !found || gjson.GetBytes(raw, "0xtracked.0.tx_hash").String() != "0xt" {
		t.Fatalf("tracked wallet not persisted: %s", raw)
	}

	res, err = agent.Transactions(ctx, "0xother")
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if res.Stored {
		t.Fatalf("untracked wallet must not be stored")
	}
	raw, _, _ = docs.Find(ctx, store.KeyTransactions)
	if gjson.GetBytes(raw, "0xother").Exists() {
		t.Fatalf("untracked wallet leaked into store: %s", raw)
	}
}

func TestOnchainTransactionsWithoutSources(t *testing.T) {
	agent := NewOnchainAgent(bus.NewMemoryBus(1), OnchainOptions{})
	res, err := agent.Transactions(context.Background(), "0xwallet")
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if res.Source != "none" || string(res.Transactions) != "[]" {
		t.Fatalf("unexpected empty result: %+v", res)
	}
}

func TestOnchainRefreshTransactions(t *testing.T) {
	docs := store.NewMemoryStore()
	ctx := context.Background()
	fetcher := &stubFetcher{transfers: map[string][]model.Transfer{
		"0xa": {{TxHash: "0x1"}},
	}}
	agent := NewOnchainAgent(bus.NewMemoryBus(1), OnchainOptions{
		Docs:    docs,
		Fetcher: fetcher,
		Wallets: StaticWallets{"0xa", "0xb"},
	})

	n, err := agent.RefreshTransactions(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 1 || fetcher.calls != 2 {
		t.Fatalf("expected one refreshed wallet out of two fetches, got %d/%d", n, fetcher.calls)
	}

	if _, err := NewOnchainAgent(bus.NewMemoryBus(1), OnchainOptions{}).RefreshTransactions(ctx); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected INITIALIZATION_FAILURE, got %v", err)
	}
}

func TestChainTransactionsFiltersByWallet(t *testing.T) {
	fetcher := NewChainTransactions(stubScanner{transfers: []model.Transfer{
		{TxHash: "0x1", From: "0xAbC", To: "0xdef"},
		{TxHash: "0x2", From: "0x111", To: "0x222"},
		{TxHash: "0x3", From: "0x333", To: "0xabc"},
	}}, 100)

	got, err := fetcher.FetchTransactions(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 || got[0].TxHash != "0x1" || got[1].TxHash != "0x3" {
		t.Fatalf("unexpected transfers: %+v", got)
	}

	if _, err := NewChainTransactions(nil, 0).FetchTransactions(context.Background(), "0xabc"); xerrors.CodeOf(err) != xerrors.CodeSourceUnavailable {
		t.Fatalf("expected SOURCE_UNAVAILABLE, got %v", err)
	}
}

func TestOnchainTrackWhalesUsesMockFallback(t *testing.T) {
	docs := store.NewMemoryStore()
	ctx := context.Background()
	resolver, err := whale.NewResolver(whale.Options{})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	sink := &recordingSink{}
	agent := NewOnchainAgent(bus.NewMemoryBus(1), OnchainOptions{
		Docs:   docs,
		Whales: resolver,
		Alerts: sink,
		Now:    func() time.Time { return fixedNow },
	})

	empty, err := agent.DetectWhale(ctx)
	if err != nil || string(empty) != "{}" {
		t.Fatalf("expected empty document before tracking, got %s (%v)", empty, err)
	}

	report, err := agent.TrackWhales(ctx, source.Query{Timeframe: 24 * time.Hour})
	if err != nil {
		t.Fatalf("track whales: %v", err)
	}
	if !report.Fallback || report.Source != whale.NameMock {
		t.Fatalf("expected mock fallback, got %+v", report)
	}
	if report.Summary.TotalMovements != 3 || report.Summary.HighImpactMovements != 3 {
		t.Fatalf("unexpected summary: %+v", report.Summary)
	}
	if report.AlertsTriggered != 0 || len(sink.recorded()) != 0 {
		t.Fatalf("fixture data must not raise alerts")
	}

	doc, err := agent.DetectWhale(ctx)
	if err != nil {
		t.Fatalf("detect whale: %v", err)
	}
	if gjson.GetBytes(doc, "source").String() != whale.NameMock || len(gjson.GetBytes(doc, "data").Array()) != 3 {
		t.Fatalf("tracking result not persisted: %s", doc)
	}
}

func TestOnchainTrackWhalesAlertsOnLiveData(t *testing.T) {
	scanner := stubScanner{transfers: []model.Transfer{
		{TxHash: "0xbig", Token: "mETH", AmountUSD: 12_000_000, ObservedAt: fixedNow},
		{TxHash: "0xsmall", Token: "USDC", AmountUSD: 200_000, ObservedAt: fixedNow},
	}}
	resolver, err := whale.NewResolver(whale.Options{
		Credentials: source.Credentials{whale.NameOnchain: "http://rpc"},
		Scanner:     scanner,
		BlocksFor:   func(time.Duration) uint64 { return 10 },
	})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	sink := &recordingSink{}
	agent := NewOnchainAgent(bus.NewMemoryBus(1), OnchainOptions{Whales: resolver, Alerts: sink})

	report, err := agent.TrackWhales(context.Background(), source.Query{MinValueUSD: 100_000})
	if err != nil {
		t.Fatalf("track whales: %v", err)
	}
	if report.Fallback || report.Source != whale.NameOnchain {
		t.Fatalf("expected onchain data, got %+v", report)
	}
	if report.AlertsTriggered != 1 {
		t.Fatalf("expected one alert, got %d", report.AlertsTriggered)
	}
	if alerts := sink.recorded(); alerts[0].Severity != model.SeverityCritical {
		t.Fatalf("expected critical alert for >10M movement, got %+v", alerts[0])
	}
}
