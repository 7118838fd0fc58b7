package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"time"

	xerrors "Fluxo/internal/errors"
)

// MySQLStore 将文档保存在 documents 表的 JSON 列中。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 使用共享连接池创建存储，表结构由迁移负责。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "MySQL 连接未初始化")
	}
	return &MySQLStore{db: db}, nil
}

// Find 实现 Store。
func (s *MySQLStore) Find(ctx context.Context, key Key) (json.RawMessage, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	const stmt = `SELECT body FROM documents WHERE collection = ? AND doc_id = ?`

	var body []byte
	if err := s.db.QueryRowContext(ctx, stmt, key.Collection, key.ID).Scan(&body); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询文档失败", xerrors.WithMetadata("key", key.String()))
	}
	return json.RawMessage(body), true, nil
}

// Upsert 实现 Store，已有文档通过 JSON_MERGE_PATCH 合并。
func (s *MySQLStore) Upsert(ctx context.Context, key Key, fields map[string]any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	body, err := encodePatch(fields)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO documents (collection, doc_id, body, updated_at) VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE body = JSON_MERGE_PATCH(body, VALUES(body)), updated_at = VALUES(updated_at)`

	if _, err := s.db.ExecContext(ctx, stmt, key.Collection, key.ID, string(body), time.Now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入文档失败", xerrors.WithMetadata("key", key.String()))
	}
	return nil
}

// Close 不关闭共享连接池，连接由创建方释放。
func (s *MySQLStore) Close() error { return nil }

var _ Store = (*MySQLStore)(nil)
