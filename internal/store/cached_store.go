package store

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Fluxo/internal/errors"
	"Fluxo/pkg/logger"
)

// CachedStore 在任意 Store 之前加一层 Redis 读缓存，写入时失效对应 key。
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// NewCachedStore 创建带缓存的存储。ttl<=0 时使用 30 秒。
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration) (*CachedStore, error) {
	if inner == nil || client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缓存存储依赖未初始化")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl, prefix: "fluxo:doc:", log: logger.Named("store")}, nil
}

func (s *CachedStore) cacheKey(key Key) string { return s.prefix + key.String() }

// Find 先读缓存，未命中时回源并回填。缓存故障只记录日志。
func (s *CachedStore) Find(ctx context.Context, key Key) (json.RawMessage, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	raw, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	switch {
	case err == nil:
		return json.RawMessage(raw), true, nil
	case !stdErrors.Is(err, redis.Nil):
		s.log.Warn("读取文档缓存失败", slog.String("key", key.String()), slog.Any("error", err))
	}

	doc, found, err := s.inner.Find(ctx, key)
	if err != nil || !found {
		return doc, found, err
	}
	if err := s.client.Set(ctx, s.cacheKey(key), []byte(doc), s.ttl).Err(); err != nil {
		s.log.Warn("回填文档缓存失败", slog.String("key", key.String()), slog.Any("error", err))
	}
	return doc, true, nil
}

// Upsert 写入底层存储后删除缓存。
func (s *CachedStore) Upsert(ctx context.Context, key Key, fields map[string]any) error {
	if err := s.inner.Upsert(ctx, key, fields); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.cacheKey(key)).Err(); err != nil {
		s.log.Warn("失效文档缓存失败", slog.String("key", key.String()), slog.Any("error", err))
	}
	return nil
}

// Close 关闭底层存储。
func (s *CachedStore) Close() error { return s.inner.Close() }

var _ Store = (*CachedStore)(nil)
