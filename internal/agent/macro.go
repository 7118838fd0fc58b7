package agent

import (
	"context"
	"log/slog"
	"strings"

	"Fluxo/internal/bus"
	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/evaluator"
	"Fluxo/internal/model"
	"Fluxo/internal/normalize"
	"Fluxo/internal/observability/alerting"
	"Fluxo/internal/source"
	"Fluxo/internal/source/yield"
	"Fluxo/pkg/logger"
)

// NoPipelineData is the summary of a yield report built without protocol data.
const NoPipelineData = "no_pipeline_data"

// MacroOptions wires the collaborators of the macro agent.
type MacroOptions struct {
	Yields     *yield.Resolver
	Portfolios PortfolioProvider
	Alerts     alerting.Sink
	Policy     evaluator.YieldAlertPolicy
	TopN       int
}

// MacroAgent republishes macro events and ranks yield opportunities.
type MacroAgent struct {
	pub  bus.Publisher
	opts MacroOptions
	log  *slog.Logger
}

// NewMacroAgent creates the agent.
func NewMacroAgent(pub bus.Publisher, opts MacroOptions) *MacroAgent {
	if opts.TopN <= 0 {
		opts.TopN = evaluator.DefaultTopN
	}
	if opts.Policy.TriggeredBy == "" {
		opts.Policy.TriggeredBy = "macro_agent"
	}
	return &MacroAgent{pub: pub, opts: opts, log: logger.Named("macro_agent")}
}

func (a *MacroAgent) Name() string    { return "macro_agent" }
func (a *MacroAgent) Channel() string { return bus.ChannelMacro }

// Handle republishes the payload on the processed macro channel.
func (a *MacroAgent) Handle(ctx context.Context, msg bus.Message) error {
	return a.pub.Publish(ctx, bus.ChannelMacroProcessed, msg.Payload)
}

// YieldReport holds ranked opportunities. Summary is either an
// evaluator.YieldSummary or the NoPipelineData sentinel.
type YieldReport struct {
	Opportunities []model.YieldOpportunity `json:"opportunities"`
	Summary       any                      `json:"summary"`
	Source        string                   `json:"source"`
	Attempts      []source.Attempt         `json:"attempts,omitempty"`
}

// Empty reports whether the report is the no-data sentinel.
func (r YieldReport) Empty() bool {
	s, ok := r.Summary.(string)
	return ok && s == NoPipelineData
}

// YieldOpportunities ranks the protocols of the first available yield source
// against holdings. Missing data yields the NoPipelineData sentinel.
func (a *MacroAgent) YieldOpportunities(ctx context.Context, holdings []model.Holding) (YieldReport, error) {
	if a.opts.Yields == nil {
		return YieldReport{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置 yield resolver")
	}
	res := a.opts.Yields.Fetch(ctx, source.Query{})
	if res.Fallback && len(res.Value) == 0 {
		return YieldReport{
			Opportunities: []model.YieldOpportunity{},
			Summary:       NoPipelineData,
			Source:        res.Source,
			Attempts:      res.Attempts,
		}, nil
	}
	opps := evaluator.RankYield(res.Value, holdings, a.opts.TopN, protocolSource(res.Value))
	if opps == nil {
		opps = []model.YieldOpportunity{}
	}
	return YieldReport{
		Opportunities: opps,
		Summary:       evaluator.SummarizeYield(len(res.Value), opps),
		Source:        res.Source,
		Attempts:      res.Attempts,
	}, nil
}

// protocolSource names the data provider recorded on the protocols, which
// the normalization step fills in.
func protocolSource(protocols []model.Protocol) string {
	for _, p := range protocols {
		if p.Source != "" {
			return p.Source
		}
	}
	return normalize.DefaultProtocolSource
}

// MacroReport is the result of a macro analysis run.
type MacroReport struct {
	Wallet          string        `json:"wallet_address,omitempty"`
	Analysis        YieldReport   `json:"macro_analysis"`
	AlertsTriggered int           `json:"alerts_triggered"`
	Alerts          []model.Alert `json:"alerts"`
	Agent           string        `json:"agent"`
}

// Analyze computes yield opportunities for wallet (optional) and records an
// alert for each one at or above the configured APY threshold.
func (a *MacroAgent) Analyze(ctx context.Context, wallet string) (MacroReport, error) {
	wallet = strings.TrimSpace(wallet)
	var holdings []model.Holding
	if wallet != "" && a.opts.Portfolios != nil {
		h, err := a.opts.Portfolios.Holdings(ctx, wallet)
		if err != nil {
			return MacroReport{}, err
		}
		holdings = h
	}
	analysis, err := a.YieldOpportunities(ctx, holdings)
	if err != nil {
		return MacroReport{}, err
	}

	policy := a.opts.Policy
	policy.Wallet = wallet
	alerts := evaluator.YieldAlerts(analysis.Opportunities, policy)
	recorded := make([]model.Alert, 0, len(alerts))
	for _, alert := range alerts {
		if a.opts.Alerts != nil {
			if err := a.opts.Alerts.Record(ctx, alert); err != nil {
				a.log.Warn("record yield alert failed",
					slog.String("alert_id", alert.ID),
					xerrors.CodeAttr(err),
					slog.Any("error", err))
				continue
			}
		}
		recorded = append(recorded, alert)
	}
	return MacroReport{
		Wallet:          wallet,
		Analysis:        analysis,
		AlertsTriggered: len(recorded),
		Alerts:          recorded,
		Agent:           "macro",
	}, nil
}
