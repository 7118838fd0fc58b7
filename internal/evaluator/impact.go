// Package evaluator holds the pure decision functions of the pipeline:
// impact scoring, yield ranking, alert thresholds, whale forwarding and
// movement summaries. Nothing here performs I/O.
package evaluator

import "Fluxo/internal/model"

// HighImpactScore is the minimum score considered high impact.
const HighImpactScore = 7.0

// ImpactScore maps a USD value onto the 3.0–10.0 impact scale. Bounds are
// exclusive: exactly 10M scores 8.5.
func ImpactScore(usd float64) float64 {
	switch {
	case usd > 10_000_000:
		return 10.0
	case usd > 5_000_000:
		return 8.5
	case usd > 1_000_000:
		return 7.0
	case usd > 500_000:
		return 5.0
	default:
		return 3.0
	}
}

// IsHighImpact reports whether score reaches HighImpactScore.
func IsHighImpact(score float64) bool { return score >= HighImpactScore }

// MovementFromTransfer builds a scored WhaleMovement.
func MovementFromTransfer(t model.Transfer, source string) model.WhaleMovement {
	return model.WhaleMovement{
		TxHash:      t.TxHash,
		FromAddress: t.From,
		ToAddress:   t.To,
		Token:       t.Token,
		Amount:      t.Amount,
		USDValue:    t.AmountUSD,
		ImpactScore: ImpactScore(t.AmountUSD),
		Source:      source,
		ObservedAt:  t.ObservedAt,
	}
}
