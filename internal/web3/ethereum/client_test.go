package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"Fluxo/internal/model"
	"Fluxo/internal/web3"
)

var (
	mntAddress = common.HexToAddress("0xDeadDeAddeAddEAddeadDEaDDEAdDeaDDeAD0000")
	fromAddr   = common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
	toAddr     = common.HexToAddress("0x28C6c06298d514Db089934071355E5743bf21d60")
	testTokens = []web3.Token{{Symbol: "MNT", Address: mntAddress.Hex(), Decimals: 18, PriceUSD: 0.5}}
)

func transferLog(token common.Address, value *big.Int, block uint64) coretypes.Log {
	return coretypes.Log{
		Address:     token,
		Topics:      []common.Hash{TransferTopic, common.BytesToHash(fromAddr.Bytes()), common.BytesToHash(toAddr.Bytes())},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.HexToHash("0x01"),
	}
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fakeBackend struct {
	head  uint64
	logs  []coretypes.Log
	query gethcore.FilterQuery
}

func (f *fakeBackend) FilterLogs(_ context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error) {
	f.query = q
	return f.logs, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

type fakeSubscriber struct {
	logs []coretypes.Log
}

func (f *fakeSubscriber) SubscribeFilterLogs(_ context.Context, _ gethcore.FilterQuery, ch chan<- coretypes.Log) (gethcore.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, lg := range f.logs {
			select {
			case ch <- lg:
			case <-quit:
				return nil
			}
		}
		<-quit
		return nil
	}), nil
}

func TestTransferTopicMatchesSignature(t *testing.T) {
	if TransferTopic != crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")) {
		t.Fatalf("unexpected transfer topic %s", TransferTopic.Hex())
	}
}

func TestDecodeTransfer(t *testing.T) {
	index, _ := web3.IndexTokens(testTokens)
	ev, err := DecodeTransfer(transferLog(mntAddress, units(2_000_000), 7), index)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.From != fromAddr || ev.To != toAddr || ev.Token.Symbol != "MNT" || ev.BlockNumber != 7 {
		t.Fatalf("unexpected event: %+v", ev)
	}

	transfer := ToModel(ev, time.Unix(0, 0))
	if transfer.Amount != 2_000_000 || transfer.AmountUSD != 1_000_000 {
		t.Fatalf("unexpected amounts: %+v", transfer)
	}
}

func TestDecodeTransferRejectsForeignLogs(t *testing.T) {
	index, _ := web3.IndexTokens(testTokens)

	untracked := transferLog(common.HexToAddress("0x01"), big.NewInt(1), 1)
	if _, err := DecodeTransfer(untracked, index); err == nil {
		t.Fatalf("expected untracked token to be rejected")
	}

	approval := transferLog(mntAddress, big.NewInt(1), 1)
	approval.Topics[0] = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
	if _, err := DecodeTransfer(approval, index); err == nil {
		t.Fatalf("expected non-transfer topic to be rejected")
	}
}

func TestRecentTransfersScansLookbackWindow(t *testing.T) {
	backend := &fakeBackend{head: 1000, logs: []coretypes.Log{
		transferLog(mntAddress, units(10), 995),
		transferLog(common.HexToAddress("0x02"), units(10), 996),
	}}
	client, err := newClient(backend, nil, testTokens, 100)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	transfers, err := client.RecentTransfers(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent transfers: %v", err)
	}
	if len(transfers) != 1 || transfers[0].Token != "MNT" {
		t.Fatalf("unexpected transfers: %+v", transfers)
	}
	if backend.query.FromBlock.Uint64() != 900 || backend.query.ToBlock.Uint64() != 1000 {
		t.Fatalf("unexpected block range %v-%v", backend.query.FromBlock, backend.query.ToBlock)
	}
	if len(backend.query.Topics) != 1 || backend.query.Topics[0][0] != TransferTopic {
		t.Fatalf("query must filter on the transfer topic")
	}
}

func TestWatchTransfersDeliversDecodedEvents(t *testing.T) {
	removed := transferLog(mntAddress, units(1), 2)
	removed.Removed = true
	sub := &fakeSubscriber{logs: []coretypes.Log{removed, transferLog(mntAddress, units(4), 3)}}
	client, err := newClient(&fakeBackend{}, sub, testTokens, 10)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan model.Transfer, 4)
	done := make(chan error, 1)
	go func() {
		done <- client.WatchTransfers(ctx, func(tr model.Transfer) error {
			got <- tr
			return nil
		})
	}()

	select {
	case tr := <-got:
		if tr.Amount != 4 || tr.BlockNumber != 3 {
			t.Fatalf("unexpected transfer: %+v", tr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transfer")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch returned error: %v", err)
	}
}

func TestConfigBlocksFor(t *testing.T) {
	cfg := web3.Config{BlockTime: 2 * time.Second}
	if got := cfg.BlocksFor(time.Hour); got != 1800 {
		t.Fatalf("expected 1800 blocks, got %d", got)
	}
	if got := (web3.Config{LookbackBlocks: 42}).BlocksFor(0); got != 42 {
		t.Fatalf("expected configured lookback, got %d", got)
	}
}
