package evaluator

import (
	"fmt"
	"strings"

	xerrors "Fluxo/internal/errors"
)

// DefaultWhaleThresholdUSD is the USD value used by the forwarding policy.
const DefaultWhaleThresholdUSD = 100_000

// WhaleForwardPolicy decides which transfers the onchain agent forwards for
// whale processing.
type WhaleForwardPolicy string

const (
	// ForwardBelowThreshold forwards only transfers at or below the
	// threshold and skips larger ones. This is the historical behaviour and
	// is believed to be inverted; it stays the default until confirmed.
	ForwardBelowThreshold WhaleForwardPolicy = "below_threshold"
	// ForwardAboveThreshold forwards only transfers above the threshold.
	ForwardAboveThreshold WhaleForwardPolicy = "above_threshold"
)

// ParseWhaleForwardPolicy validates a configured policy; empty selects the
// historical default.
func ParseWhaleForwardPolicy(v string) (WhaleForwardPolicy, error) {
	switch p := WhaleForwardPolicy(strings.ToLower(strings.TrimSpace(v))); p {
	case "":
		return ForwardBelowThreshold, nil
	case ForwardBelowThreshold, ForwardAboveThreshold:
		return p, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的 whale_forward 策略: %s", v))
	}
}

// Legacy reports whether the policy is the suspected-inverted one.
func (p WhaleForwardPolicy) Legacy() bool { return p == "" || p == ForwardBelowThreshold }

// ShouldForward applies the policy to a USD amount.
func (p WhaleForwardPolicy) ShouldForward(amountUSD, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultWhaleThresholdUSD
	}
	if p == ForwardAboveThreshold {
		return amountUSD > threshold
	}
	return amountUSD <= threshold
}

// TokenThresholds holds per-token whale thresholds with a default.
type TokenThresholds struct {
	ByToken map[string]float64
	Default float64
}

// For returns the threshold of token, falling back to Default.
func (t TokenThresholds) For(token string) float64 {
	if v, ok := t.ByToken[token]; ok && v > 0 {
		return v
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultWhaleThresholdUSD
}
