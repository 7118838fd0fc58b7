package bus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/observability/metrics"
	"Fluxo/pkg/logger"
)

// RedisBus 基于 Redis Pub/Sub 实现跨进程的消息总线。
type RedisBus struct {
	client *redis.Client
	buffer int
	owned  bool
	log    *slog.Logger
}

// RedisOption 配置 RedisBus。
type RedisOption func(*RedisBus)

// WithBuffer 设置每个订阅的本地缓冲区大小。
func WithBuffer(size int) RedisOption {
	return func(b *RedisBus) {
		if size > 0 {
			b.buffer = size
		}
	}
}

// WithOwnedClient 让 Close 同时关闭底层客户端。
func WithOwnedClient() RedisOption {
	return func(b *RedisBus) { b.owned = true }
}

// NewRedisBus 使用已有客户端创建总线。
func NewRedisBus(client *redis.Client, opts ...RedisOption) (*RedisBus, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "redis client 未初始化")
	}
	b := &RedisBus{client: client, buffer: defaultBuffer, log: logger.Named("bus")}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// DialRedis 建立连接并校验可用性。
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisBus, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis 地址不能为空")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeBusFailure, err, "连接 Redis 失败")
	}
	return NewRedisBus(client, append(opts, WithOwnedClient())...)
}

// Publish 发布消息。
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if strings.TrimSpace(channel) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "channel 不能为空")
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeBusFailure, err, "发布消息失败", xerrors.WithMetadata("channel", channel))
	}
	metrics.ObserveBusPublish(channel)
	return nil
}

// Subscribe 订阅频道。Redis 的订阅确认会以 control 帧的形式出现在消息流中。
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "channel 不能为空")
	}
	ps := b.client.Subscribe(ctx, channel)
	runCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{
		channel: channel,
		ps:      ps,
		out:     make(chan Message, b.buffer),
		cancel:  cancel,
		log:     b.log.With(slog.String("channel", channel)),
	}
	go sub.run(runCtx)
	go func() {
		<-runCtx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// Close 关闭总线，仅在持有客户端所有权时关闭连接。
func (b *RedisBus) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

type redisSubscription struct {
	channel string
	ps      *redis.PubSub
	out     chan Message
	cancel  context.CancelFunc
	log     *slog.Logger
	once    sync.Once
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
	})
	return err
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.out)
	defer s.Close()
	for {
		raw, err := s.ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			s.log.Warn("接收订阅消息失败，稍后重试", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		switch m := raw.(type) {
		case *redis.Subscription:
			s.offer(Message{Channel: m.Channel, Payload: []byte(m.Kind), Kind: KindControl, ReceivedAt: time.Now()})
		case *redis.Message:
			s.offer(Message{Channel: m.Channel, Payload: []byte(m.Payload), Kind: KindData, ReceivedAt: time.Now()})
		}
	}
}

func (s *redisSubscription) offer(msg Message) {
	select {
	case s.out <- msg:
	default:
		metrics.ObserveBusDrop(s.channel)
		s.log.Warn("订阅缓冲区已满，丢弃消息", slog.String("kind", string(msg.Kind)))
	}
}

var _ Bus = (*RedisBus)(nil)
