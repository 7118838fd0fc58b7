// Package jobs 把 agent 的查询能力注册为异步任务，供 worker 执行。
package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"Fluxo/internal/agent"
	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
	"Fluxo/internal/source"
	"Fluxo/internal/task"
)

// Job 名称。
const (
	MacroAnalysis     = "macro_analysis"
	WhaleTracking     = "whale_tracking"
	PortfolioFetch    = "portfolio_fetch"
	TransactionsFetch = "transactions_fetch"
)

// DefaultTimeframe 是 whale_tracking 未指定时间窗口时使用的值。
const DefaultTimeframe = 24 * time.Hour

// Agents 汇总 job 依赖的 agent，为 nil 的 agent 对应的 job 不会注册。
type Agents struct {
	Macro     *agent.MacroAgent
	Onchain   *agent.OnchainAgent
	Portfolio *agent.PortfolioAgent
}

// Args 是所有 job 共用的参数结构。
type Args struct {
	Wallet      string  `json:"wallet_address"`
	Timeframe   string  `json:"timeframe"`
	MinValueUSD float64 `json:"min_value_usd"`
}

// Register 将 agents 提供的 job 注册到 registry。
func Register(registry *task.Registry, agents Agents) error {
	if registry == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "job registry 未初始化")
	}
	jobs := make(map[string]task.Job, 4)
	if agents.Macro != nil {
		jobs[MacroAnalysis] = macroAnalysis(agents.Macro)
	}
	if agents.Onchain != nil {
		jobs[WhaleTracking] = whaleTracking(agents.Onchain)
		jobs[TransactionsFetch] = transactionsFetch(agents.Onchain)
	}
	if agents.Portfolio != nil {
		jobs[PortfolioFetch] = portfolioFetch(agents.Portfolio)
	}
	for name, job := range jobs {
		if err := registry.Register(name, job); err != nil {
			return err
		}
	}
	return nil
}

func decodeArgs(raw json.RawMessage) (Args, error) {
	var args Args
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Args{}, xerrors.Wrap(task.CodeTaskValidation, err, "job 参数解析失败")
	}
	args.Wallet = strings.TrimSpace(args.Wallet)
	return args, nil
}

func requireWallet(args Args) error {
	if args.Wallet == "" {
		return xerrors.New(task.CodeTaskValidation, "wallet_address 不能为空")
	}
	return nil
}

func (a Args) query() (source.Query, error) {
	q := source.Query{Timeframe: DefaultTimeframe, MinValueUSD: a.MinValueUSD, Wallet: a.Wallet}
	if tf := strings.TrimSpace(a.Timeframe); tf != "" {
		d, err := time.ParseDuration(tf)
		if err != nil || d <= 0 {
			return source.Query{}, xerrors.New(task.CodeTaskValidation, "timeframe 不合法: "+tf)
		}
		q.Timeframe = d
	}
	return q, nil
}

func macroAnalysis(a *agent.MacroAgent) task.Job {
	return func(ctx context.Context, raw json.RawMessage, report task.Reporter) (any, error) {
		args, err := decodeArgs(raw)
		if err != nil {
			return nil, err
		}
		report.Progress(ctx, 10, "ranking yield opportunities")
		result, err := a.Analyze(ctx, args.Wallet)
		if err != nil {
			return nil, err
		}
		report.Progress(ctx, 90, "alerts evaluated")
		return result, nil
	}
}

func whaleTracking(a *agent.OnchainAgent) task.Job {
	return func(ctx context.Context, raw json.RawMessage, report task.Reporter) (any, error) {
		args, err := decodeArgs(raw)
		if err != nil {
			return nil, err
		}
		q, err := args.query()
		if err != nil {
			return nil, err
		}
		report.Progress(ctx, 10, "resolving whale sources")
		result, err := a.TrackWhales(ctx, q)
		if err != nil {
			return nil, err
		}
		report.Progress(ctx, 90, result.Summary.Summary)
		return result, nil
	}
}

// PortfolioResult 是 portfolio_fetch 的结果。
type PortfolioResult struct {
	Wallet   string          `json:"wallet_address"`
	Holdings []model.Holding `json:"holdings"`
	Agent    string          `json:"agent"`
}

func portfolioFetch(a *agent.PortfolioAgent) task.Job {
	return func(ctx context.Context, raw json.RawMessage, report task.Reporter) (any, error) {
		args, err := decodeArgs(raw)
		if err != nil {
			return nil, err
		}
		if err := requireWallet(args); err != nil {
			return nil, err
		}
		report.Progress(ctx, 20, "loading holdings")
		holdings, err := a.Analyze(ctx, args.Wallet)
		if err != nil {
			return nil, err
		}
		return PortfolioResult{Wallet: args.Wallet, Holdings: holdings, Agent: "portfolio"}, nil
	}
}

// RefreshResult 是不带钱包参数的 transactions_fetch 的结果。
type RefreshResult struct {
	Refreshed int `json:"refreshed_wallets"`
}

// transactionsFetch 查询单个钱包；未指定钱包时刷新全部被跟踪的钱包。
func transactionsFetch(a *agent.OnchainAgent) task.Job {
	return func(ctx context.Context, raw json.RawMessage, report task.Reporter) (any, error) {
		args, err := decodeArgs(raw)
		if err != nil {
			return nil, err
		}
		if args.Wallet == "" {
			report.Progress(ctx, 10, "refreshing tracked wallets")
			n, err := a.RefreshTransactions(ctx)
			if err != nil {
				return nil, err
			}
			return RefreshResult{Refreshed: n}, nil
		}
		report.Progress(ctx, 20, "loading transactions")
		return a.Transactions(ctx, args.Wallet)
	}
}
