// Package model holds the canonical records that flow between agents, the
// evaluator and the alert sink. Payload-specific shapes are converted into
// these types by the normalize package before any business logic runs.
package model

import (
	"encoding/json"
	"time"
)

// Transfer is an on-chain token transfer published on the onchain channel.
type Transfer struct {
	TxHash      string    `json:"tx_hash"`
	From        string    `json:"from_address"`
	To          string    `json:"to_address"`
	Token       string    `json:"token"`
	Amount      float64   `json:"amount"`
	AmountUSD   float64   `json:"amount_usd"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// WhaleMovement is a large transfer enriched with an impact score.
type WhaleMovement struct {
	TxHash      string    `json:"transaction_hash"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Token       string    `json:"token"`
	Amount      float64   `json:"amount"`
	USDValue    float64   `json:"usd_value"`
	ImpactScore float64   `json:"impact_score"`
	Source      string    `json:"data_source"`
	ObservedAt  time.Time `json:"timestamp"`
}

// Protocol is a yield protocol entry after normalization.
type Protocol struct {
	Name   string  `json:"protocol_name"`
	Symbol string  `json:"symbol"`
	APY    float64 `json:"apy"`
	// APYValid is false when the source value was missing or unparseable;
	// APY is 0 in that case.
	APYValid bool    `json:"apy_valid"`
	TVLUSD   float64 `json:"tvl_usd,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// Holding is one asset of a wallet portfolio.
type Holding struct {
	Symbol                string  `json:"symbol"`
	TokenAddress          string  `json:"token_address,omitempty"`
	PercentageOfPortfolio float64 `json:"percentage_of_portfolio"`
	ValueUSD              float64 `json:"value_usd,omitempty"`
}

// RecommendedAction is the suggestion attached to a yield opportunity.
type RecommendedAction string

const (
	ActionConsiderEntering    RecommendedAction = "consider_entering"
	ActionConsiderRebalancing RecommendedAction = "consider_rebalancing"
)

// YieldOpportunity is a ranked protocol matched against a portfolio.
type YieldOpportunity struct {
	ProtocolName          string            `json:"protocol_name"`
	Symbol                string            `json:"symbol"`
	APY                   float64           `json:"apy"`
	ExistingAllocationPct float64           `json:"existing_allocation"`
	MatchedWithPortfolio  bool              `json:"matched_with_portfolio"`
	RecommendedAction     RecommendedAction `json:"recommended_action"`
	Source                string            `json:"source"`
}

// AlertType classifies alerts.
type AlertType string

const (
	AlertYieldOpportunity AlertType = "yield_opportunity"
	AlertWhaleMovement    AlertType = "whale_movement"
	AlertTaskFailure      AlertType = "task_failure"
)

// AlertSeverity mirrors the severities understood by alert consumers.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is immutable once created; ownership passes to the alert sink.
type Alert struct {
	ID            string          `json:"alert_id"`
	Type          AlertType       `json:"alert_type"`
	Severity      AlertSeverity   `json:"severity"`
	Title         string          `json:"title"`
	Message       string          `json:"message"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	CurrentValue  float64         `json:"current_value"`
	Threshold     float64         `json:"threshold"`
	Details       json.RawMessage `json:"details,omitempty"`
	TriggeredBy   string          `json:"triggered_by"`
	CreatedAt     time.Time       `json:"created_at"`
}
