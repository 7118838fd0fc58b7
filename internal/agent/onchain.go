package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"Fluxo/internal/bus"
	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/evaluator"
	"Fluxo/internal/model"
	"Fluxo/internal/normalize"
	"Fluxo/internal/observability/alerting"
	"Fluxo/internal/source"
	"Fluxo/internal/source/whale"
	"Fluxo/internal/store"
	"Fluxo/pkg/logger"
)

// StreamSource tags movements derived from the onchain transfer channel.
const StreamSource = "onchain_stream"

// OnchainOptions wires the collaborators of the onchain agent. Every field is
// optional except the bus publisher passed to NewOnchainAgent.
type OnchainOptions struct {
	Docs       store.Store
	Whales     *whale.Resolver
	Alerts     alerting.Sink
	Policy     evaluator.WhaleForwardPolicy
	Thresholds evaluator.TokenThresholds
	Fetcher    TransactionFetcher
	Wallets    WalletSet
	Now        func() time.Time
}

// OnchainAgent turns transfers into whale movements and serves wallet
// transaction and whale queries.
type OnchainAgent struct {
	pub  bus.Publisher
	opts OnchainOptions
	log  *slog.Logger
}

// NewOnchainAgent creates the agent.
func NewOnchainAgent(pub bus.Publisher, opts OnchainOptions) *OnchainAgent {
	if opts.Policy == "" {
		opts.Policy = evaluator.ForwardBelowThreshold
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &OnchainAgent{pub: pub, opts: opts, log: logger.Named("onchain_agent")}
}

func (a *OnchainAgent) Name() string    { return "onchain_agent" }
func (a *OnchainAgent) Channel() string { return bus.ChannelOnchain }

// Handle decodes a transfer, applies the forwarding policy and publishes the
// resulting whale movement. High-impact movements also raise an alert.
func (a *OnchainAgent) Handle(ctx context.Context, msg bus.Message) error {
	transfer, err := normalize.TransferFromPayload(msg.Payload)
	if err != nil {
		return err
	}
	threshold := a.opts.Thresholds.For(transfer.Token)
	if !a.opts.Policy.ShouldForward(transfer.AmountUSD, threshold) {
		a.log.Debug("transfer not forwarded",
			slog.String("tx_hash", transfer.TxHash),
			slog.Float64("amount_usd", transfer.AmountUSD),
			slog.Float64("threshold", threshold),
			slog.String("policy", string(a.opts.Policy)))
		return nil
	}
	if transfer.ObservedAt.IsZero() {
		transfer.ObservedAt = a.opts.Now()
	}
	movement := evaluator.MovementFromTransfer(transfer, StreamSource)
	payload, err := json.Marshal(movement)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeDecodeFailure, err, "编码 whale movement 失败")
	}
	if err := a.pub.Publish(ctx, bus.ChannelWhaleWatch, payload); err != nil {
		return err
	}
	if evaluator.IsHighImpact(movement.ImpactScore) {
		return a.recordAlert(ctx, evaluator.WhaleAlert(movement, a.Name(), a.opts.Now()))
	}
	return nil
}

func (a *OnchainAgent) recordAlert(ctx context.Context, alert model.Alert) error {
	if a.opts.Alerts == nil {
		return nil
	}
	return a.opts.Alerts.Record(ctx, alert)
}

// TransactionsResult is the answer of Transactions.
type TransactionsResult struct {
	Wallet       string          `json:"wallet_address"`
	Transactions json.RawMessage `json:"transactions"`
	Source       string          `json:"source"`
	Stored       bool            `json:"stored"`
}

// Transactions returns the stored transactions of wallet, falling back to the
// transaction fetcher. Fetched data is persisted only for tracked wallets.
func (a *OnchainAgent) Transactions(ctx context.Context, wallet string) (TransactionsResult, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return TransactionsResult{}, xerrors.New(xerrors.CodeInvalidArgument, "wallet_address 不能为空")
	}
	result := TransactionsResult{Wallet: wallet, Transactions: json.RawMessage("[]"), Source: "none"}

	if a.opts.Docs != nil {
		raw, found, err := a.opts.Docs.Find(ctx, store.KeyTransactions)
		if err != nil {
			return TransactionsResult{}, err
		}
		if found {
			if list := gjson.GetBytes(raw, gjson.Escape(wallet)); list.IsArray() && len(list.Array()) > 0 {
				result.Transactions = json.RawMessage(list.Raw)
				result.Source = "store"
				return result, nil
			}
		}
	}
	if a.opts.Fetcher == nil {
		return result, nil
	}
	transfers, err := a.opts.Fetcher.FetchTransactions(ctx, wallet)
	if err != nil {
		return TransactionsResult{}, err
	}
	raw, err := json.Marshal(transfers)
	if err != nil {
		return TransactionsResult{}, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "编码交易列表失败")
	}
	result.Transactions = raw
	result.Source = "fetcher"

	if len(transfers) > 0 && a.opts.Wallets != nil && a.opts.Docs != nil {
		tracked, err := a.opts.Wallets.Contains(ctx, wallet)
		if err != nil {
			a.log.Warn("tracked wallet lookup failed", slog.String("wallet", wallet), slog.Any("error", err))
		} else if tracked {
			if err := a.storeTransactions(ctx, wallet, transfers); err != nil {
				return TransactionsResult{}, err
			}
			result.Stored = true
		}
	}
	return result, nil
}

// RefreshTransactions fetches and stores the transactions of every tracked
// wallet. Per-wallet failures are logged and skipped.
func (a *OnchainAgent) RefreshTransactions(ctx context.Context) (int, error) {
	if a.opts.Wallets == nil || a.opts.Fetcher == nil || a.opts.Docs == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "transactions refresh 未配置")
	}
	wallets, err := a.opts.Wallets.Members(ctx)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, wallet := range wallets {
		transfers, err := a.opts.Fetcher.FetchTransactions(ctx, wallet)
		if err != nil {
			a.log.Warn("fetch transactions failed",
				slog.String("wallet", wallet),
				xerrors.CodeAttr(err),
				slog.Any("error", err))
			continue
		}
		if len(transfers) == 0 {
			continue
		}
		if err := a.storeTransactions(ctx, wallet, transfers); err != nil {
			return refreshed, err
		}
		refreshed++
	}
	return refreshed, nil
}

func (a *OnchainAgent) storeTransactions(ctx context.Context, wallet string, transfers []model.Transfer) error {
	return a.opts.Docs.Upsert(ctx, store.KeyTransactions, map[string]any{
		wallet:       transfers,
		"updated_at": a.opts.Now(),
	})
}

// DetectWhale returns the stored whale-transfer document, or an empty object
// when nothing has been recorded yet.
func (a *OnchainAgent) DetectWhale(ctx context.Context) (json.RawMessage, error) {
	if a.opts.Docs == nil {
		return json.RawMessage("{}"), nil
	}
	raw, found, err := a.opts.Docs.Find(ctx, store.KeyWhaleTransfers)
	if err != nil {
		return nil, err
	}
	if !found {
		return json.RawMessage("{}"), nil
	}
	return raw, nil
}

// WhaleReport is the result of a whale tracking run.
type WhaleReport struct {
	Movements       []model.WhaleMovement     `json:"movements"`
	Summary         evaluator.MovementSummary `json:"summary"`
	Source          string                    `json:"source"`
	Fallback        bool                      `json:"fallback"`
	Attempts        []source.Attempt          `json:"attempts,omitempty"`
	AlertsTriggered int                       `json:"alerts_triggered"`
}

// TrackWhales resolves recent movements through the source priority,
// summarises them and stores the result for DetectWhale. Alerts are raised
// for high-impact movements unless the data came from the fallback fixture.
func (a *OnchainAgent) TrackWhales(ctx context.Context, q source.Query) (WhaleReport, error) {
	if a.opts.Whales == nil {
		return WhaleReport{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置 whale resolver")
	}
	res := a.opts.Whales.Fetch(ctx, q)
	movements := res.Value
	if movements == nil {
		movements = []model.WhaleMovement{}
	}
	report := WhaleReport{
		Movements: movements,
		Summary:   evaluator.Summarize(movements, res.Source),
		Source:    res.Source,
		Fallback:  res.Fallback,
		Attempts:  res.Attempts,
	}
	if !res.Fallback {
		for _, m := range movements {
			if !evaluator.IsHighImpact(m.ImpactScore) {
				continue
			}
			if err := a.recordAlert(ctx, evaluator.WhaleAlert(m, a.Name(), a.opts.Now())); err != nil {
				a.log.Warn("record whale alert failed", slog.String("tx_hash", m.TxHash), slog.Any("error", err))
				continue
			}
			report.AlertsTriggered++
		}
	}
	if a.opts.Docs != nil {
		if err := a.opts.Docs.Upsert(ctx, store.KeyWhaleTransfers, map[string]any{
			"data":       movements,
			"summary":    report.Summary,
			"source":     res.Source,
			"updated_at": a.opts.Now(),
		}); err != nil {
			return report, err
		}
	}
	return report, nil
}
