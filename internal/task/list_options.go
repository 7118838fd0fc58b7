package task

import (
	"strings"
	"time"

	xerrors "Fluxo/internal/errors"
)

// SortOrder 决定列表按 UpdatedAt 的排序方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的任务在前（默认）。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的任务在前。
	SortByUpdatedAsc
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ParseSortOrder 解析 "asc" / "desc"，空字符串视为 desc。
func ParseSortOrder(v string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "desc":
		return SortByUpdatedDesc, nil
	case "asc":
		return SortByUpdatedAsc, nil
	default:
		return SortByUpdatedDesc, xerrors.New(xerrors.CodeInvalidArgument, "order 仅支持 asc 或 desc")
	}
}

// ListOptions 是 List 与 Stats 共用的过滤条件。零值表示不过滤。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	Jobs       []string
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	Order      SortOrder
	Query      string
}

// applyDefaults 规范化分页参数并去重过滤值。
func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		opts.Limit = maxListLimit
	}
	opts.Offset = max(opts.Offset, 0)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Statuses = dedupe(opts.Statuses, func(s Status) (Status, bool) { return s, IsValidStatus(s) })
	opts.Jobs = dedupe(opts.Jobs, func(j string) (string, bool) {
		j = strings.TrimSpace(j)
		return j, j != ""
	})
	opts.Query = strings.TrimSpace(opts.Query)
}

// Matches 判断任务是否满足过滤条件，分页参数不参与判断。
func (opts ListOptions) Matches(t *Task) bool {
	if len(opts.Statuses) > 0 && !contains(opts.Statuses, t.Status) {
		return false
	}
	if len(opts.Jobs) > 0 && !contains(opts.Jobs, t.Job) {
		return false
	}
	if opts.UpdatedGTE > 0 && t.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && t.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && (len(t.Result) > 0) != *opts.HasResult {
		return false
	}
	if opts.Query == "" {
		return true
	}
	haystack := strings.ToLower(strings.Join([]string{t.ID, t.Job, string(t.Args), t.LastError}, "\n"))
	return strings.Contains(haystack, strings.ToLower(opts.Query))
}

// before 给出列表顺序；UpdatedAt 相同时按 CreatedAt、ID 倒序以保持稳定。
func (opts ListOptions) before(a, b *Task) bool {
	if opts.Order == SortByUpdatedAsc {
		a, b = b, a
	}
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt > b.UpdatedAt
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回条数，上限 100。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 n 条匹配结果。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 按状态过滤。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = append([]Status(nil), statuses...) }
}

// WithJobs 按 job 名称过滤。
func WithJobs(jobs ...string) ListOption {
	return func(opts *ListOptions) { opts.Jobs = append([]string(nil), jobs...) }
}

// WithUpdatedSince 只保留 UpdatedAt >= ts 的任务；零值取消该条件。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留 UpdatedAt <= ts 的任务；零值取消该条件。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithResultPresence 按是否已有 job 结果过滤。
func WithResultPresence(hasResult bool) ListOption {
	return func(opts *ListOptions) { opts.HasResult = &hasResult }
}

// WithSortOrder 设置排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 在 id、job、args 与错误信息中做不区分大小写的子串匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

// dedupe 保留首次出现且通过 keep 的值；结果为空时返回 nil。
func dedupe[T comparable](in []T, keep func(T) (T, bool)) []T {
	var out []T
	seen := make(map[T]struct{}, len(in))
	for _, v := range in {
		v, ok := keep(v)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
