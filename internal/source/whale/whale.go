// Package whale provides the whale-movement sources consumed by the onchain
// agent's failover resolver.
package whale

import (
	"context"
	"time"

	"Fluxo/internal/evaluator"
	"Fluxo/internal/model"
	"Fluxo/internal/source"
)

// Source names, also used as credential keys.
const (
	NameMock       = "mock"
	NameDune       = "dune"
	NameFlipside   = "flipside"
	NameWhaleAlert = "whale_alert"
	NameOnchain    = "onchain"
)

// Movements is the value type resolved for whale data.
type Movements = []model.WhaleMovement

// Resolver resolves whale movements.
type Resolver = source.Resolver[Movements]

// DefaultMinValueUSD is applied when a query carries no minimum.
const DefaultMinValueUSD = 100_000

// Mock is the terminal fixture source.
type Mock struct {
	Now func() time.Time
}

// Name implements source.Fallback.
func (Mock) Name() string { return NameMock }

// Fetch returns the fixed fixture.
func (m Mock) Fetch(context.Context, source.Query) Movements {
	now := time.Now().UTC()
	if m.Now != nil {
		now = m.Now()
	}
	fixture := []model.Transfer{
		{TxHash: "0xa1b2c3d4e5f6...", From: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb", To: "0x28C6c06298d514Db089934071355E5743bf21d60", Token: "mETH", Amount: 1500, AmountUSD: 5_250_000},
		{TxHash: "0xb2c3d4e5f6a7...", From: "0x21a31Ee1afC51d94C2eFcCAa2092aD1028285549", To: "0x47ac0Fb4F2D84898e4D9E7b4DaB3C24507a6D503", Token: "USDC", Amount: 10_000_000, AmountUSD: 10_000_000},
		{TxHash: "0xc3d4e5f6a7b8...", From: "0x1234567890abcdef1234567890abcdef12345678", To: "0xabcdef1234567890abcdef1234567890abcdef12", Token: "MNT", Amount: 2_000_000, AmountUSD: 2_000_000},
	}
	out := make(Movements, 0, len(fixture))
	for _, t := range fixture {
		t.ObservedAt = now
		out = append(out, evaluator.MovementFromTransfer(t, NameMock))
	}
	return out
}

func minValue(q source.Query) float64 {
	if q.MinValueUSD > 0 {
		return q.MinValueUSD
	}
	return DefaultMinValueUSD
}

var _ source.Fallback[Movements] = Mock{}
