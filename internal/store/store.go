// Package store 是文档存储网关：按固定逻辑 ID 读取 JSON 文档并合并写入字段。
// 后端可以是内存、MySQL，或在二者之前加一层 Redis 读缓存。
package store

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "Fluxo/internal/errors"
)

// Key 定位一份文档。
type Key struct {
	Collection string
	ID         string
}

// String 返回 "collection/id" 形式。
func (k Key) String() string { return k.Collection + "/" + k.ID }

// Validate 校验 Key 是否完整。
func (k Key) Validate() error {
	if strings.TrimSpace(k.Collection) == "" || strings.TrimSpace(k.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "文档 key 不完整", xerrors.WithMetadata("key", k.String()))
	}
	return nil
}

// 管道使用的固定文档。
var (
	KeyYieldProtocols = Key{Collection: "Yield_Protocol", ID: "Mantle_yield_protocol"}
	KeyTransactions   = Key{Collection: "User_Transaction", ID: "transactions"}
	KeyWhaleTransfers = Key{Collection: "Whale_Transfer_Data", ID: "Whale_Transfers"}
	KeyPortfolios     = Key{Collection: "User_Portfolio", ID: "portfolios"}
)

// AlertsCollection 保存告警文档，每条告警一个 ID。
const AlertsCollection = "Alerts"

// AlertKey 返回单条告警的文档 key。
func AlertKey(alertID string) Key { return Key{Collection: AlertsCollection, ID: alertID} }

// Store 定义文档网关的最小能力。
type Store interface {
	// Find 返回文档原文；文档不存在时 found 为 false 且 err 为 nil。
	Find(ctx context.Context, key Key) (doc json.RawMessage, found bool, err error)
	// Upsert 将 fields 合并进文档，不存在时创建。并发写入以最后一次为准。
	Upsert(ctx context.Context, key Key, fields map[string]any) error
	Close() error
}

// FindInto 读取文档并解码到 dest。
func FindInto(ctx context.Context, s Store, key Key, dest any) (bool, error) {
	raw, found, err := s.Find(ctx, key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "解析文档失败", xerrors.WithMetadata("key", key.String()))
	}
	return true, nil
}

// encodePatch 将任意字段值规整为 JSON 对象，同时拒绝空补丁。
func encodePatch(fields map[string]any) ([]byte, error) {
	if len(fields) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "写入字段不能为空")
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码文档字段失败")
	}
	return body, nil
}

// mergePatch 按 RFC 7396 将 patch 合并进 target 并返回结果。
func mergePatch(target, patch map[string]any) map[string]any {
	if target == nil {
		target = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(target, k)
			continue
		}
		if pm, ok := v.(map[string]any); ok {
			tm, _ := target[k].(map[string]any)
			target[k] = mergePatch(tm, pm)
			continue
		}
		target[k] = v
	}
	return target
}
