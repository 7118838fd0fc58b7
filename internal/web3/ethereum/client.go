package ethereum

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
	"Fluxo/internal/web3"
	"Fluxo/pkg/logger"
)

const erc20TransferABI = `[{"anonymous":false,"inputs":[
	{"indexed":true,"name":"from","type":"address"},
	{"indexed":true,"name":"to","type":"address"},
	{"indexed":false,"name":"value","type":"uint256"}
],"name":"Transfer","type":"event"}]`

var transferABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = transferABI.Events["Transfer"].ID

// logBackend mirrors the subset of ethclient used for scanning.
type logBackend interface {
	FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// logSubscriber mirrors the subset of methods required for log subscriptions.
type logSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q gethcore.FilterQuery, ch chan<- coretypes.Log) (gethcore.Subscription, error)
}

// Client scans and watches ERC-20 transfers of the configured tokens.
type Client struct {
	backend  logBackend
	events   logSubscriber
	tokens   web3.TokenIndex
	lookback uint64
	log      *slog.Logger

	mu      sync.Mutex
	closers []func()
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg web3.Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "连接链节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	var events logSubscriber = eth
	closers := []func(){eth.Close}
	if wsURL := strings.TrimSpace(cfg.WSURL); wsURL != "" {
		if wsRPC, wsErr := gethrpc.DialContext(ctx, wsURL); wsErr == nil {
			ws := ethclient.NewClient(wsRPC)
			events = ws
			closers = append(closers, ws.Close)
		} else {
			logger.Named("web3").Warn("连接 WebSocket 节点失败，事件订阅改用 RPC", slog.Any("error", wsErr))
		}
	}

	client, err := newClient(eth, events, cfg.Tokens, cfg.BlocksFor(0))
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	client.closers = closers
	return client, nil
}

func newClient(backend logBackend, events logSubscriber, tokens []web3.Token, lookback uint64) (*Client, error) {
	index, err := web3.IndexTokens(tokens)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "token 配置非法")
	}
	if len(index) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "至少需要配置一个 token")
	}
	return &Client{
		backend:  backend,
		events:   events,
		tokens:   index,
		lookback: lookback,
		log:      logger.Named("web3"),
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, closeFn := range c.closers {
		closeFn()
	}
	c.closers = nil
}

func (c *Client) filterQuery() gethcore.FilterQuery {
	return gethcore.FilterQuery{
		Addresses: c.tokens.Addresses(),
		Topics:    [][]common.Hash{{TransferTopic}},
	}
}

// ScanTransfers returns decoded transfers between two blocks, inclusive.
func (c *Client) ScanTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]model.Transfer, error) {
	q := c.filterQuery()
	q.FromBlock = new(big.Int).SetUint64(fromBlock)
	q.ToBlock = new(big.Int).SetUint64(toBlock)

	logs, err := c.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "查询 Transfer 日志失败")
	}
	transfers := make([]model.Transfer, 0, len(logs))
	for _, lg := range logs {
		ev, err := DecodeTransfer(lg, c.tokens)
		if err != nil {
			c.log.Debug("跳过无法解析的日志", slog.String("tx_hash", lg.TxHash.Hex()), slog.Any("error", err))
			continue
		}
		transfers = append(transfers, ToModel(ev, time.Now().UTC()))
	}
	return transfers, nil
}

// RecentTransfers scans the last lookbackBlocks blocks; 0 uses the configured window.
func (c *Client) RecentTransfers(ctx context.Context, lookbackBlocks uint64) ([]model.Transfer, error) {
	if lookbackBlocks == 0 {
		lookbackBlocks = c.lookback
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "获取最新区块高度失败")
	}
	from := uint64(0)
	if head > lookbackBlocks {
		from = head - lookbackBlocks
	}
	return c.ScanTransfers(ctx, from, head)
}

// WatchTransfers subscribes to new Transfer logs and hands each decoded
// transfer to handle. Handler errors are logged and do not stop the watch.
func (c *Client) WatchTransfers(ctx context.Context, handle func(model.Transfer) error) error {
	if c.events == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "当前客户端不支持事件订阅")
	}
	ch := make(chan coretypes.Log, 64)
	sub, err := c.events.SubscribeFilterLogs(ctx, c.filterQuery(), ch)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSourceFailure, err, "订阅 Transfer 事件失败")
	}
	events := web3.NewEventSubscription(ch, sub)
	defer events.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-events.Err():
			if err == nil {
				return nil
			}
			return xerrors.Wrap(xerrors.CodeSourceFailure, err, "Transfer 订阅中断")
		case lg := <-events.Logs():
			if lg.Removed {
				continue
			}
			ev, err := DecodeTransfer(lg, c.tokens)
			if err != nil {
				c.log.Debug("跳过无法解析的日志", slog.String("tx_hash", lg.TxHash.Hex()), slog.Any("error", err))
				continue
			}
			if err := handle(ToModel(ev, time.Now().UTC())); err != nil {
				c.log.Warn("处理 Transfer 失败",
					slog.String("tx_hash", ev.TxHash.Hex()),
					xerrors.CodeAttr(err),
					slog.Any("error", err))
			}
		}
	}
}

// DecodeTransfer decodes an ERC-20 Transfer log emitted by a tracked token.
func DecodeTransfer(lg coretypes.Log, tokens web3.TokenIndex) (web3.TransferEvent, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
		return web3.TransferEvent{}, xerrors.New(xerrors.CodeDecodeFailure, "不是 ERC-20 Transfer 日志")
	}
	token, ok := tokens[lg.Address]
	if !ok {
		return web3.TransferEvent{}, xerrors.New(xerrors.CodeDecodeFailure, "未跟踪的 token 合约",
			xerrors.WithMetadata("address", lg.Address.Hex()))
	}
	values, err := transferABI.Unpack("Transfer", lg.Data)
	if err != nil || len(values) != 1 {
		return web3.TransferEvent{}, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "解析 Transfer 数据失败")
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return web3.TransferEvent{}, xerrors.New(xerrors.CodeDecodeFailure, "Transfer value 类型非法")
	}
	return web3.TransferEvent{
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		Token:       token,
		From:        common.BytesToAddress(lg.Topics[1].Bytes()),
		To:          common.BytesToAddress(lg.Topics[2].Bytes()),
		Value:       value,
	}, nil
}

// ToModel converts a decoded event into the canonical transfer, pricing it
// with the token's reference price.
func ToModel(ev web3.TransferEvent, observedAt time.Time) model.Transfer {
	amount := ev.Token.Amount(decimal.NewFromBigInt(ev.Value, 0))
	return model.Transfer{
		TxHash:      ev.TxHash.Hex(),
		From:        ev.From.Hex(),
		To:          ev.To.Hex(),
		Token:       ev.Token.Symbol,
		Amount:      amount.InexactFloat64(),
		AmountUSD:   ev.Token.ValueUSD(amount).InexactFloat64(),
		BlockNumber: ev.BlockNumber,
		ObservedAt:  observedAt,
	}
}

var _ web3.Client = (*Client)(nil)
