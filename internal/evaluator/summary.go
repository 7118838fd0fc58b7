package evaluator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"Fluxo/internal/model"
)

// MovementSummary aggregates a batch of whale movements.
type MovementSummary struct {
	TotalMovements      int            `json:"total_movements"`
	TotalVolumeUSD      float64        `json:"total_volume_usd"`
	HighImpactMovements int            `json:"high_impact_movements"`
	SourcesUsed         map[string]int `json:"sources_used,omitempty"`
	PrimarySource       string         `json:"primary_source,omitempty"`
	Summary             string         `json:"summary"`
}

// Summarize aggregates movements; primary names the configured primary source.
func Summarize(movements []model.WhaleMovement, primary string) MovementSummary {
	if len(movements) == 0 {
		return MovementSummary{Summary: "No whale movements detected"}
	}
	total := decimal.Zero
	high := 0
	bySource := make(map[string]int)
	for _, m := range movements {
		total = total.Add(decimal.NewFromFloat(m.USDValue))
		if IsHighImpact(m.ImpactScore) {
			high++
		}
		bySource[m.Source]++
	}
	volume := total.InexactFloat64()
	return MovementSummary{
		TotalMovements:      len(movements),
		TotalVolumeUSD:      volume,
		HighImpactMovements: high,
		SourcesUsed:         bySource,
		PrimarySource:       primary,
		Summary: fmt.Sprintf("%d whale movements from %s. Total volume: $%s. %d high-impact transactions.",
			len(movements), primary, groupThousands(total.Round(0)), high),
	}
}

// groupThousands renders an integral decimal with comma separators.
func groupThousands(d decimal.Decimal) string {
	s := d.StringFixed(0)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg, s = true, s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
