package store

import (
	"context"
	"encoding/json"
	"sync"

	xerrors "Fluxo/internal/errors"
)

// MemoryStore 为开发与测试提供进程内实现。
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[Key]map[string]any
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[Key]map[string]any)}
}

// Find 实现 Store。
func (s *MemoryStore) Find(_ context.Context, key Key) (json.RawMessage, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, false, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码文档失败")
	}
	return raw, true, nil
}

// Upsert 实现 Store。
func (s *MemoryStore) Upsert(_ context.Context, key Key, fields map[string]any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	body, err := encodePatch(fields)
	if err != nil {
		return err
	}
	var patch map[string]any
	if err := json.Unmarshal(body, &patch); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析文档字段失败")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = mergePatch(s.docs[key], patch)
	return nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
