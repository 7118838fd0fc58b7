// Package app 根据配置构造进程内共享的句柄（总线、存储、任务服务、agent），
// 并提供各子命令的运行入口。所有连接只在这里创建一次，然后显式注入。
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"Fluxo/internal/agent"
	"Fluxo/internal/api"
	"Fluxo/internal/bus"
	"Fluxo/internal/config"
	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/evaluator"
	"Fluxo/internal/jobs"
	"Fluxo/internal/model"
	"Fluxo/internal/observability/alerting"
	"Fluxo/internal/scheduler"
	"Fluxo/internal/source/whale"
	"Fluxo/internal/source/yield"
	"Fluxo/internal/storage/mysql"
	"Fluxo/internal/storage/redis"
	"Fluxo/internal/store"
	"Fluxo/internal/task"
	"Fluxo/internal/web3"
	"Fluxo/internal/web3/ethereum"
	"Fluxo/pkg/logger"
)

// App 聚合配置与共享依赖。
type App struct {
	Config *config.Config

	Bus       bus.Bus
	Docs      store.Store
	Alerts    alerting.Sink
	Tasks     *task.Service
	Registry  *task.Registry
	Processor *task.Processor

	Macro     *agent.MacroAgent
	Onchain   *agent.OnchainAgent
	Portfolio *agent.PortfolioAgent

	Chain web3.Client

	log     *slog.Logger
	db      *sql.DB
	redis   *goredis.Client
	closers []func() error
}

// New 按配置构造 App。失败时已创建的资源会被释放。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "配置未加载")
	}
	a := &App{Config: cfg, log: logger.Named("app")}
	steps := []func() error{
		func() error { return a.openConnections(ctx) },
		a.buildBus,
		a.buildStore,
		func() error { a.buildAlerts(); return nil },
		func() error { return a.buildAgents(ctx) },
		a.buildTasks,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close 按创建的逆序释放资源。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stdErrors.Join(errs...)
}

func (a *App) needsMySQL() bool {
	return a.Config.Store.Driver == "mysql" || a.Config.Task.Store == "mysql"
}

func (a *App) needsRedis() bool {
	c := a.Config
	return c.Bus.Driver == "redis" || c.Task.Queue == "redis" || c.Redis.Enabled()
}

func (a *App) openConnections(ctx context.Context) error {
	if a.needsMySQL() {
		db, err := mysql.Open(ctx, a.Config.MySQL)
		if err != nil {
			return err
		}
		a.db = db
		a.onClose(db.Close)
	}
	if a.needsRedis() {
		client, err := redis.Open(ctx, a.Config.Redis)
		if err != nil {
			return err
		}
		a.redis = client
		a.onClose(client.Close)
	}
	return nil
}

func (a *App) buildBus() error {
	switch a.Config.Bus.Driver {
	case "redis":
		b, err := bus.NewRedisBus(a.redis, bus.WithBuffer(a.Config.Bus.Buffer))
		if err != nil {
			return err
		}
		a.Bus = b
	default:
		a.Bus = bus.NewMemoryBus(a.Config.Bus.Buffer)
	}
	a.onClose(a.Bus.Close)
	return nil
}

func (a *App) buildStore() error {
	var docs store.Store = store.NewMemoryStore()
	if a.Config.Store.Driver == "mysql" {
		s, err := store.NewMySQLStore(a.db)
		if err != nil {
			return err
		}
		docs = s
	}
	if a.Config.Store.CacheTTL > 0 && a.redis != nil {
		cached, err := store.NewCachedStore(docs, a.redis, a.Config.Store.CacheTTL)
		if err != nil {
			return err
		}
		docs = cached
	}
	a.Docs = docs
	a.onClose(docs.Close)
	return nil
}

func (a *App) buildAlerts() {
	sinks := []alerting.Sink{alerting.NewStoreSink(a.Docs), alerting.AuditSink{}}
	if url := a.Config.Alerting.WebhookURL; url != "" {
		sinks = append(sinks, &alerting.WebhookSink{
			URL:         url,
			MinSeverity: model.AlertSeverity(a.Config.Alerting.WebhookMinSeverity),
		})
	}
	a.Alerts = alerting.NewFanout(sinks...)
}

func (a *App) buildAgents(ctx context.Context) error {
	cfg := a.Config
	creds := cfg.Credentials()
	client := &http.Client{}

	if cfg.Web3.Enabled() {
		chain, err := ethereum.NewClient(ctx, cfg.Web3)
		if err != nil {
			return err
		}
		a.Chain = chain
		a.onClose(func() error { chain.Close(); return nil })
	}

	whaleOpts := whale.Options{
		Primary:     cfg.Sources.WhalePrimary,
		Credentials: creds,
		Dune:        cfg.Sources.Dune,
		HTTPClient:  client,
		BlocksFor:   cfg.Web3.BlocksFor,
	}
	if a.Chain != nil {
		whaleOpts.Scanner = a.Chain
	}
	whales, err := whale.NewResolver(whaleOpts)
	if err != nil {
		return err
	}
	yields, err := yield.NewResolver(a.Docs, creds, cfg.Sources.DefiLlama, client)
	if err != nil {
		return err
	}

	scale, _ := evaluator.ParseAPYScale(cfg.Alerting.APYScale)
	policy, _ := evaluator.ParseWhaleForwardPolicy(cfg.Agents.WhaleForward)
	if policy.Legacy() {
		a.log.Warn("whale 转发策略为 below_threshold：只转发不超过阈值的转账，大额转账会被跳过；确认后请设置 agents.whale_forward=above_threshold",
			slog.Float64("threshold_usd", cfg.Agents.WhaleThresholdUSD))
	}

	var wallets agent.WalletSet = agent.StaticWallets(cfg.Agents.TrackedWallets)
	if a.redis != nil && len(cfg.Agents.TrackedWallets) == 0 {
		wallets = agent.NewRedisWallets(a.redis, cfg.Agents.TrackedWalletsKey)
	}
	var fetcher agent.TransactionFetcher
	if a.Chain != nil {
		fetcher = agent.NewChainTransactions(a.Chain, cfg.Web3.LookbackBlocks)
	}

	portfolios := agent.NewStorePortfolios(a.Docs)
	a.Portfolio = agent.NewPortfolioAgent(a.Bus, portfolios)
	a.Macro = agent.NewMacroAgent(a.Bus, agent.MacroOptions{
		Yields:     yields,
		Portfolios: portfolios,
		Alerts:     a.Alerts,
		Policy:     evaluator.YieldAlertPolicy{Threshold: cfg.Alerting.YieldThreshold, Scale: scale},
		TopN:       cfg.Agents.TopN,
	})
	a.Onchain = agent.NewOnchainAgent(a.Bus, agent.OnchainOptions{
		Docs:       a.Docs,
		Whales:     whales,
		Alerts:     a.Alerts,
		Policy:     policy,
		Thresholds: cfg.Thresholds(),
		Fetcher:    fetcher,
		Wallets:    wallets,
	})
	return nil
}

func (a *App) buildTasks() error {
	cfg := a.Config.Task

	var taskStore task.Store = task.NewMemoryStore()
	if cfg.Store == "mysql" {
		s, err := task.NewMySQLStore(a.db)
		if err != nil {
			return err
		}
		taskStore = s
	}
	a.onClose(taskStore.Close)

	var queue task.Queue
	switch cfg.Queue {
	case "redis":
		q, err := task.NewRedisQueue(a.redis, cfg.Redis)
		if err != nil {
			return err
		}
		queue = q
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(cfg.RabbitMQ)
		if err != nil {
			return err
		}
		queue = q
	default:
		queue = task.NewMemoryQueue(cfg.MemoryBuffer)
	}
	a.onClose(queue.Close)

	a.Registry = task.NewRegistry()
	if err := jobs.Register(a.Registry, jobs.Agents{Macro: a.Macro, Onchain: a.Onchain, Portfolio: a.Portfolio}); err != nil {
		return err
	}
	a.Tasks = task.NewService(taskStore, queue, cfg.MaxRetries, task.WithKnownJobs(a.Registry))
	a.Processor = task.NewProcessor(a.Registry, taskStore, queue,
		task.WithWorkerCount(cfg.Workers),
		task.WithRetryBackoff(cfg.RetryBackoff),
		task.WithAlertSink(a.Alerts),
	)
	return nil
}

// Agents 返回全部频道监听者。
func (a *App) Agents() []agent.Agent {
	return []agent.Agent{a.Macro, a.Onchain, a.Portfolio}
}

// RunAgents 运行所有 agent 的监听循环。
func (a *App) RunAgents(ctx context.Context) error {
	return agent.NewSupervisor(a.Bus, a.Agents()...).Run(ctx)
}

// RunWorker 消费任务队列。
func (a *App) RunWorker(ctx context.Context) error {
	return ignoreCanceled(a.Processor.Start(ctx))
}

// RunAPI 启动 HTTP 服务。
func (a *App) RunAPI(ctx context.Context) error {
	srv := api.NewServer(a.Config.Server.Address, a.Tasks, a.Bus, api.WithShutdownTimeout(a.Config.Server.ShutdownTimeout))
	return ignoreCanceled(srv.Start(ctx))
}

// RunScheduler 按配置周期提交任务；未开启时直接返回。
func (a *App) RunScheduler(ctx context.Context) error {
	if !a.Config.Scheduler.Enabled {
		return nil
	}
	s, err := a.NewScheduler()
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

// NewScheduler 根据配置注册调度规则。
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(a.Tasks)
	for _, rule := range a.Config.Scheduler.Jobs {
		var args json.RawMessage
		if len(rule.Args) > 0 {
			raw, err := json.Marshal(rule.Args)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码调度参数失败: "+rule.Name)
			}
			args = raw
		}
		if _, err := s.Add(scheduler.Rule{Name: rule.Name, Spec: rule.Spec, Job: rule.Job, Args: args}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Serve 在同一进程内运行 API、agent、worker 与调度器，任一组件出错即整体退出。
func (a *App) Serve(ctx context.Context) error {
	return a.runAll(ctx, a.RunAPI, a.RunAgents, a.RunWorker, a.RunScheduler)
}

// Watch 订阅链上 Transfer 事件并发布到 onchain 频道。
func (a *App) Watch(ctx context.Context) error {
	if a.Chain == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置 web3.rpc_url，无法监听链上事件")
	}
	return ignoreCanceled(a.Chain.WatchTransfers(ctx, func(t model.Transfer) error {
		payload, err := json.Marshal(t)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeDecodeFailure, err, "编码转账失败")
		}
		return a.Bus.Publish(ctx, bus.ChannelOnchain, payload)
	}))
}

func (a *App) runAll(ctx context.Context, runs ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, run := range runs {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		}(run)
	}
	wg.Wait()
	return stdErrors.Join(errs...)
}

func ignoreCanceled(err error) error {
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
