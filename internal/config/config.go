package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/evaluator"
	"Fluxo/internal/source"
	"Fluxo/internal/source/whale"
	"Fluxo/internal/source/yield"
	"Fluxo/internal/storage/mysql"
	"Fluxo/internal/storage/redis"
	"Fluxo/internal/task"
	"Fluxo/internal/web3"
	"Fluxo/pkg/logger"
)

// Config 描述了 Fluxo 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   logger.Config   `yaml:"logging"`
	MySQL     mysql.Config    `yaml:"mysql"`
	Redis     redis.Config    `yaml:"redis"`
	Bus       BusConfig       `yaml:"bus"`
	Store     StoreConfig     `yaml:"store"`
	Task      TaskConfig      `yaml:"task"`
	Sources   SourcesConfig   `yaml:"sources"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Agents    AgentsConfig    `yaml:"agents"`
	Web3      web3.Config     `yaml:"web3"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BusConfig 选择消息总线实现：memory 或 redis。
type BusConfig struct {
	Driver string `yaml:"driver"`
	Buffer int    `yaml:"buffer"`
}

// StoreConfig 选择文档存储实现：memory 或 mysql，可选 Redis 读缓存。
type StoreConfig struct {
	Driver   string        `yaml:"driver"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// TaskConfig 描述任务存储、队列与 worker 参数。
type TaskConfig struct {
	Store        string                `yaml:"store"`
	Queue        string                `yaml:"queue"`
	Workers      int                   `yaml:"workers"`
	MaxRetries   int                   `yaml:"max_retries"`
	RetryBackoff time.Duration         `yaml:"retry_backoff"`
	MemoryBuffer int                   `yaml:"memory_buffer"`
	Redis        task.RedisQueueConfig `yaml:"redis"`
	RabbitMQ     task.RabbitMQConfig   `yaml:"rabbitmq"`
}

// SourcesConfig 汇总外部数据源的凭据与端点。
type SourcesConfig struct {
	WhalePrimary     string                `yaml:"whale_primary"`
	Dune             whale.DuneConfig      `yaml:"dune"`
	FlipsideAPIKey   string                `yaml:"flipside_api_key"`
	WhaleAlertAPIKey string                `yaml:"whale_alert_api_key"`
	DefiLlama        yield.DefiLlamaConfig `yaml:"defillama"`
}

// AlertingConfig 控制告警阈值与推送目标。
type AlertingConfig struct {
	APYScale       string  `yaml:"apy_scale"`
	YieldThreshold float64 `yaml:"yield_threshold"`
	WebhookURL     string  `yaml:"webhook_url"`
	// WebhookMinSeverity 低于该级别的告警不推送 webhook。
	WebhookMinSeverity string `yaml:"webhook_min_severity"`
}

// AgentsConfig 描述各 agent 的业务参数。
type AgentsConfig struct {
	WhaleForward      string             `yaml:"whale_forward"`
	WhaleThresholdUSD float64            `yaml:"whale_threshold_usd"`
	WhaleThresholds   map[string]float64 `yaml:"whale_thresholds"`
	TrackedWallets    []string           `yaml:"tracked_wallets"`
	TrackedWalletsKey string             `yaml:"tracked_wallets_key"`
	TopN              int                `yaml:"top_n"`
}

// SchedulerConfig 描述周期性提交的任务。
type SchedulerConfig struct {
	Enabled bool           `yaml:"enabled"`
	Jobs    []ScheduledJob `yaml:"jobs"`
}

// ScheduledJob 是一条 cron 规则。
type ScheduledJob struct {
	Name string         `yaml:"name"`
	Spec string         `yaml:"spec"`
	Job  string         `yaml:"job"`
	Args map[string]any `yaml:"args"`
}

// Load 解析 YAML 配置文件，应用 FLUXO_* 环境变量覆盖并补齐默认值。
// path 为空时只使用环境变量与默认值。
func Load(path string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取配置文件失败")
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析配置失败")
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 覆盖敏感信息与地址类字段。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"FLUXO_SERVER_ADDRESS":      &c.Server.Address,
		"FLUXO_LOG_LEVEL":           &c.Logging.Level,
		"FLUXO_MYSQL_DSN":           &c.MySQL.DSN,
		"FLUXO_REDIS_ADDR":          &c.Redis.Addr,
		"FLUXO_REDIS_PASSWORD":      &c.Redis.Password,
		"FLUXO_BUS_DRIVER":          &c.Bus.Driver,
		"FLUXO_STORE_DRIVER":        &c.Store.Driver,
		"FLUXO_TASK_STORE":          &c.Task.Store,
		"FLUXO_TASK_QUEUE":          &c.Task.Queue,
		"FLUXO_RABBITMQ_URL":        &c.Task.RabbitMQ.URL,
		"FLUXO_DUNE_API_KEY":        &c.Sources.Dune.APIKey,
		"FLUXO_DUNE_QUERY_ID":       &c.Sources.Dune.QueryID,
		"FLUXO_FLIPSIDE_API_KEY":    &c.Sources.FlipsideAPIKey,
		"FLUXO_WHALE_ALERT_API_KEY": &c.Sources.WhaleAlertAPIKey,
		"FLUXO_DEFILLAMA_URL":       &c.Sources.DefiLlama.URL,
		"FLUXO_WEBHOOK_URL":         &c.Alerting.WebhookURL,
		"FLUXO_APY_SCALE":           &c.Alerting.APYScale,
		"FLUXO_WHALE_FORWARD":       &c.Agents.WhaleForward,
		"FLUXO_WEB3_RPC_URL":        &c.Web3.RPCURL,
		"FLUXO_WEB3_WS_URL":         &c.Web3.WSURL,
	}
	for name, field := range strs {
		if v, ok := lookup(name); ok {
			*field = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup("FLUXO_REDIS_DB"); ok {
		db, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "FLUXO_REDIS_DB 必须是整数")
		}
		c.Redis.DB = db
	}
	if v, ok := lookup("FLUXO_TRACKED_WALLETS"); ok {
		c.Agents.TrackedWallets = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Bus.Driver == "" {
		c.Bus.Driver = "memory"
	}
	if c.Bus.Buffer <= 0 {
		c.Bus.Buffer = 128
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Task.Store == "" {
		c.Task.Store = "memory"
	}
	if c.Task.Queue == "" {
		c.Task.Queue = "memory"
	}
	if c.Task.Workers <= 0 {
		c.Task.Workers = 4
	}
	if c.Task.MaxRetries <= 0 {
		c.Task.MaxRetries = 3
	}
	if c.Task.RetryBackoff <= 0 {
		c.Task.RetryBackoff = time.Second
	}
	if c.Task.MemoryBuffer <= 0 {
		c.Task.MemoryBuffer = 1024
	}
	if c.Alerting.APYScale == "" {
		c.Alerting.APYScale = string(evaluator.APYScaleAuto)
	}
	if c.Alerting.YieldThreshold <= 0 {
		c.Alerting.YieldThreshold = evaluator.DefaultYieldThreshold
	}
	if c.Alerting.WebhookMinSeverity == "" {
		c.Alerting.WebhookMinSeverity = "warning"
	}
	if c.Agents.WhaleForward == "" {
		c.Agents.WhaleForward = string(evaluator.ForwardBelowThreshold)
	}
	if c.Agents.WhaleThresholdUSD <= 0 {
		c.Agents.WhaleThresholdUSD = evaluator.DefaultWhaleThresholdUSD
	}
	if c.Agents.TopN <= 0 {
		c.Agents.TopN = evaluator.DefaultTopN
	}
	if c.Scheduler.Enabled && len(c.Scheduler.Jobs) == 0 {
		c.Scheduler.Jobs = DefaultSchedule()
	}
}

// DefaultSchedule 是开启调度但未配置规则时使用的任务计划。
func DefaultSchedule() []ScheduledJob {
	return []ScheduledJob{
		{Name: "whale-tracking", Spec: "@every 10m", Job: "whale_tracking"},
		{Name: "macro-analysis", Spec: "@every 30m", Job: "macro_analysis"},
		{Name: "transactions-refresh", Spec: "@every 15m", Job: "transactions_fetch"},
	}
}

// Validate 检查枚举类字段。
func (c *Config) Validate() error {
	if _, err := evaluator.ParseAPYScale(c.Alerting.APYScale); err != nil {
		return err
	}
	if _, err := evaluator.ParseWhaleForwardPolicy(c.Agents.WhaleForward); err != nil {
		return err
	}
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"bus.driver", c.Bus.Driver, []string{"memory", "redis"}},
		{"store.driver", c.Store.Driver, []string{"memory", "mysql"}},
		{"task.store", c.Task.Store, []string{"memory", "mysql"}},
		{"task.queue", c.Task.Queue, []string{"memory", "redis", "rabbitmq"}},
	}
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("%s 不支持 %q，可选值 %v", check.field, check.value, check.allowed))
		}
	}
	for _, job := range c.Scheduler.Jobs {
		if strings.TrimSpace(job.Spec) == "" || strings.TrimSpace(job.Job) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "scheduler 规则缺少 spec 或 job: "+job.Name)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Credentials 汇总各数据源的可用性凭据，键为数据源名称。
func (c *Config) Credentials() source.Credentials {
	return source.Credentials{
		whale.NameDune:       c.Sources.Dune.APIKey,
		whale.NameFlipside:   c.Sources.FlipsideAPIKey,
		whale.NameWhaleAlert: c.Sources.WhaleAlertAPIKey,
		whale.NameOnchain:    c.Web3.RPCURL,
		yield.NameDefiLlama:  c.Sources.DefiLlama.URL,
	}
}

// Thresholds 返回按 token 区分的 whale 阈值。
func (c *Config) Thresholds() evaluator.TokenThresholds {
	return evaluator.TokenThresholds{ByToken: c.Agents.WhaleThresholds, Default: c.Agents.WhaleThresholdUSD}
}
