package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethevent "github.com/ethereum/go-ethereum/event"

	"Fluxo/internal/model"
)

// TransferEvent is a decoded ERC-20 Transfer log.
type TransferEvent struct {
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	Token       Token
	From        common.Address
	To          common.Address
	Value       *big.Int
}

// EventSubscription wraps a log subscription so callers can manage lifecycle
// without depending on the go-ethereum event package.
type EventSubscription struct {
	logs <-chan types.Log
	sub  gethevent.Subscription
}

// NewEventSubscription constructs a managed subscription wrapper.
func NewEventSubscription(logs <-chan types.Log, sub gethevent.Subscription) *EventSubscription {
	return &EventSubscription{logs: logs, sub: sub}
}

// Logs returns the channel that receives blockchain logs.
func (e *EventSubscription) Logs() <-chan types.Log {
	return e.logs
}

// Err forwards the subscription error channel.
func (e *EventSubscription) Err() <-chan error {
	if e == nil || e.sub == nil {
		return nil
	}
	return e.sub.Err()
}

// Close terminates the subscription.
func (e *EventSubscription) Close() {
	if e == nil || e.sub == nil {
		return
	}
	e.sub.Unsubscribe()
}

// TransferScanner returns recent transfers of the tracked tokens.
type TransferScanner interface {
	ScanTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]model.Transfer, error)
	RecentTransfers(ctx context.Context, lookbackBlocks uint64) ([]model.Transfer, error)
}

// TransferWatcher streams transfers of the tracked tokens until ctx ends.
type TransferWatcher interface {
	WatchTransfers(ctx context.Context, handle func(model.Transfer) error) error
}

// Client is the chain access used by the whale source and the watch command.
type Client interface {
	TransferScanner
	TransferWatcher
	Close()
}
