package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
)

// DefaultYieldThreshold is the APY percentage at or above which a yield
// opportunity raises an alert.
const DefaultYieldThreshold = 4.0

// APYScale states how raw APY values are to be read.
type APYScale string

const (
	// APYScaleAuto treats values ≤ 1 as fractions and larger values as
	// percentages. A genuine 0.5% APY is misread as 50% under this rule.
	APYScaleAuto     APYScale = "auto"
	APYScaleFraction APYScale = "fraction"
	APYScalePercent  APYScale = "percent"
)

// ParseAPYScale validates a configured scale; empty selects auto.
func ParseAPYScale(v string) (APYScale, error) {
	switch s := APYScale(strings.ToLower(strings.TrimSpace(v))); s {
	case "":
		return APYScaleAuto, nil
	case APYScaleAuto, APYScaleFraction, APYScalePercent:
		return s, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的 apy_scale: %s", v))
	}
}

// NormalizeAPYPercent converts apy to a percentage under scale.
func NormalizeAPYPercent(apy float64, scale APYScale) float64 {
	switch scale {
	case APYScaleFraction:
		return apy * 100
	case APYScalePercent:
		return apy
	default:
		if apy <= 1.0 {
			return apy * 100
		}
		return apy
	}
}

// YieldAlertPolicy configures YieldAlerts.
type YieldAlertPolicy struct {
	Threshold   float64
	Scale       APYScale
	TriggeredBy string
	Wallet      string
	Now         func() time.Time
	NewID       func() string
}

func (p YieldAlertPolicy) withDefaults() YieldAlertPolicy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultYieldThreshold
	}
	if p.Scale == "" {
		p.Scale = APYScaleAuto
	}
	if p.TriggeredBy == "" {
		p.TriggeredBy = "macro_agent"
	}
	if p.Now == nil {
		p.Now = func() time.Time { return time.Now().UTC() }
	}
	if p.NewID == nil {
		p.NewID = uuid.NewString
	}
	return p
}

// YieldAlerts returns one alert per opportunity whose normalized APY is at
// or above the threshold.
func YieldAlerts(opps []model.YieldOpportunity, policy YieldAlertPolicy) []model.Alert {
	policy = policy.withDefaults()
	var alerts []model.Alert
	for _, opp := range opps {
		apy := NormalizeAPYPercent(opp.APY, policy.Scale)
		if apy < policy.Threshold {
			continue
		}
		name := opp.ProtocolName
		if name == "" {
			name = opp.Symbol
		}
		details, _ := json.Marshal(map[string]any{"opportunity": opp})
		alerts = append(alerts, model.Alert{
			ID:       policy.NewID(),
			Type:     model.AlertYieldOpportunity,
			Severity: model.SeverityInfo,
			Title:    "Yield opportunity: " + name,
			Message: fmt.Sprintf("Protocol %s (%s) offers %.2f%% APY. Recommended: %s",
				opp.ProtocolName, opp.Symbol, apy, opp.RecommendedAction),
			WalletAddress: policy.Wallet,
			CurrentValue:  apy,
			Threshold:     policy.Threshold,
			Details:       details,
			TriggeredBy:   policy.TriggeredBy,
			CreatedAt:     policy.Now(),
		})
	}
	return alerts
}

// WhaleAlert builds the alert raised for a high-impact movement.
func WhaleAlert(m model.WhaleMovement, triggeredBy string, now time.Time) model.Alert {
	severity := model.SeverityWarning
	if m.ImpactScore >= 10.0 {
		severity = model.SeverityCritical
	}
	details, _ := json.Marshal(map[string]any{"movement": m})
	return model.Alert{
		ID:       uuid.NewString(),
		Type:     model.AlertWhaleMovement,
		Severity: severity,
		Title:    fmt.Sprintf("Whale movement: %s", m.Token),
		Message: fmt.Sprintf("%s %s ($%.0f) moved from %s to %s, impact %.1f",
			formatAmount(m.Amount), m.Token, m.USDValue, m.FromAddress, m.ToAddress, m.ImpactScore),
		CurrentValue: m.USDValue,
		Threshold:    HighImpactScore,
		Details:      details,
		TriggeredBy:  triggeredBy,
		CreatedAt:    now,
	}
}

func formatAmount(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
