package evaluator

import (
	"sort"
	"strings"

	"Fluxo/internal/model"
)

// DefaultTopN bounds the number of ranked opportunities.
const DefaultTopN = 20

// RankYield sorts protocols by APY descending (stable, invalid APY counts as
// 0), keeps the first topN and matches each against holdings.
func RankYield(protocols []model.Protocol, holdings []model.Holding, topN int, source string) []model.YieldOpportunity {
	if topN <= 0 {
		topN = DefaultTopN
	}
	ranked := make([]model.Protocol, len(protocols))
	copy(ranked, protocols)
	sort.SliceStable(ranked, func(i, j int) bool { return effectiveAPY(ranked[i]) > effectiveAPY(ranked[j]) })
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	owned := make(map[string]struct{}, len(holdings))
	for _, h := range holdings {
		if s := strings.ToLower(strings.TrimSpace(h.Symbol)); s != "" {
			owned[s] = struct{}{}
		}
	}

	out := make([]model.YieldOpportunity, 0, len(ranked))
	for _, p := range ranked {
		symbol := strings.ToLower(p.Symbol)
		_, matched := owned[symbol]
		action := model.ActionConsiderEntering
		if matched && symbol != "" {
			action = model.ActionConsiderRebalancing
		} else {
			matched = false
		}
		out = append(out, model.YieldOpportunity{
			ProtocolName:          p.Name,
			Symbol:                p.Symbol,
			APY:                   effectiveAPY(p),
			ExistingAllocationPct: existingAllocation(holdings, p.Symbol),
			MatchedWithPortfolio:  matched,
			RecommendedAction:     action,
			Source:                source,
		})
	}
	return out
}

func effectiveAPY(p model.Protocol) float64 {
	if !p.APYValid {
		return 0
	}
	return p.APY
}

// existingAllocation returns the allocation of the first holding whose symbol
// equals symbol exactly, or 0.
func existingAllocation(holdings []model.Holding, symbol string) float64 {
	if symbol == "" {
		return 0
	}
	for _, h := range holdings {
		if h.Symbol == symbol {
			return h.PercentageOfPortfolio
		}
	}
	return 0
}

// YieldSummary describes a ranking run.
type YieldSummary struct {
	NumProtocols     int     `json:"num_protocols"`
	NumOpportunities int     `json:"num_opportunities"`
	TopAPY           float64 `json:"top_apy"`
}

// SummarizeYield builds the summary of a ranking run.
func SummarizeYield(protocols int, opps []model.YieldOpportunity) YieldSummary {
	s := YieldSummary{NumProtocols: protocols, NumOpportunities: len(opps)}
	if len(opps) > 0 {
		s.TopAPY = opps[0].APY
	}
	return s
}
