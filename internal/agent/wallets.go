package agent

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "Fluxo/internal/errors"
)

// DefaultTrackedWalletsKey is the Redis set holding monitored wallets.
const DefaultTrackedWalletsKey = "tracked_wallets"

// WalletSet lists the wallets whose transactions are persisted.
type WalletSet interface {
	Members(ctx context.Context) ([]string, error)
	Contains(ctx context.Context, wallet string) (bool, error)
}

// StaticWallets is a fixed wallet list, typically from configuration.
type StaticWallets []string

// Members implements WalletSet.
func (s StaticWallets) Members(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// Contains implements WalletSet; comparison ignores case.
func (s StaticWallets) Contains(_ context.Context, wallet string) (bool, error) {
	for _, w := range s {
		if strings.EqualFold(w, wallet) {
			return true, nil
		}
	}
	return false, nil
}

// RedisWallets reads the tracked wallets from a Redis set.
type RedisWallets struct {
	client *redis.Client
	key    string
}

// NewRedisWallets creates a Redis-backed wallet set.
func NewRedisWallets(client *redis.Client, key string) *RedisWallets {
	if key == "" {
		key = DefaultTrackedWalletsKey
	}
	return &RedisWallets{client: client, key: key}
}

// Members implements WalletSet.
func (r *RedisWallets) Members(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 tracked wallets 失败")
	}
	return members, nil
}

// Contains implements WalletSet.
func (r *RedisWallets) Contains(ctx context.Context, wallet string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, wallet).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 tracked wallet 失败")
	}
	return ok, nil
}

// Track adds wallets to the set.
func (r *RedisWallets) Track(ctx context.Context, wallets ...string) error {
	if len(wallets) == 0 {
		return nil
	}
	members := make([]any, 0, len(wallets))
	for _, w := range wallets {
		members = append(members, w)
	}
	if err := r.client.SAdd(ctx, r.key, members...).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 tracked wallets 失败")
	}
	return nil
}
