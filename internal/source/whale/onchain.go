package whale

import (
	"context"
	"time"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/evaluator"
	"Fluxo/internal/source"
	"Fluxo/internal/web3"
)

// Onchain scans recent Transfer logs of the tracked tokens.
type Onchain struct {
	scanner   web3.TransferScanner
	blocksFor func(time.Duration) uint64
}

// NewOnchain creates the source. blocksFor converts the query timeframe into
// a lookback block count.
func NewOnchain(scanner web3.TransferScanner, blocksFor func(time.Duration) uint64) *Onchain {
	return &Onchain{scanner: scanner, blocksFor: blocksFor}
}

// Name implements source.Source.
func (o *Onchain) Name() string { return NameOnchain }

// Requires implements source.Source; the credential is the RPC URL.
func (o *Onchain) Requires() string { return NameOnchain }

// Fetch implements source.Source.
func (o *Onchain) Fetch(ctx context.Context, q source.Query) (Movements, error) {
	if o.scanner == nil {
		return nil, xerrors.New(xerrors.CodeSourceUnavailable, "链上扫描器未初始化")
	}
	var blocks uint64
	if o.blocksFor != nil {
		blocks = o.blocksFor(q.Timeframe)
	}
	transfers, err := o.scanner.RecentTransfers(ctx, blocks)
	if err != nil {
		return nil, err
	}
	min := minValue(q)
	out := Movements{}
	for _, t := range transfers {
		if t.AmountUSD < min {
			continue
		}
		out = append(out, evaluator.MovementFromTransfer(t, NameOnchain))
	}
	return out, nil
}

var _ source.Source[Movements] = (*Onchain)(nil)
