package agent

import (
	"context"
	"strings"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
	"Fluxo/internal/web3"
)

// TransactionFetcher loads the recent transactions of a wallet from an
// upstream source when the store has none.
type TransactionFetcher interface {
	FetchTransactions(ctx context.Context, wallet string) ([]model.Transfer, error)
}

// ChainTransactions filters recent ERC-20 transfers of the configured tokens
// down to those touching a wallet.
type ChainTransactions struct {
	scanner  web3.TransferScanner
	lookback uint64
}

// NewChainTransactions creates a chain-backed fetcher. lookback is expressed
// in blocks; zero lets the scanner use its configured default.
func NewChainTransactions(scanner web3.TransferScanner, lookback uint64) *ChainTransactions {
	return &ChainTransactions{scanner: scanner, lookback: lookback}
}

// FetchTransactions implements TransactionFetcher.
func (c *ChainTransactions) FetchTransactions(ctx context.Context, wallet string) ([]model.Transfer, error) {
	if c.scanner == nil {
		return nil, xerrors.New(xerrors.CodeSourceUnavailable, "未配置链上扫描器")
	}
	transfers, err := c.scanner.RecentTransfers(ctx, c.lookback)
	if err != nil {
		return nil, err
	}
	out := make([]model.Transfer, 0)
	for _, t := range transfers {
		if strings.EqualFold(t.From, wallet) || strings.EqualFold(t.To, wallet) {
			out = append(out, t)
		}
	}
	return out, nil
}
