// Package source implements ordered data-source failover. A Resolver tries
// its available candidates in priority order and always ends at a fallback
// that cannot fail, so callers never see an error from Fetch.
package source

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/observability/metrics"
	"Fluxo/pkg/logger"
)

// Query carries the parameters understood by every source.
type Query struct {
	Timeframe   time.Duration
	MinValueUSD float64
	Wallet      string
}

// Source is one candidate. Requires names the credential or endpoint the
// source depends on; an empty value means the source is always available.
type Source[T any] interface {
	Name() string
	Requires() string
	Fetch(ctx context.Context, q Query) (T, error)
}

// Fallback is the terminal source. Its Fetch has no error path.
type Fallback[T any] interface {
	Name() string
	Fetch(ctx context.Context, q Query) T
}

// Credentials answers whether a named credential is configured.
type Credentials map[string]string

// Has reports whether key holds a non-blank value.
func (c Credentials) Has(key string) bool { return strings.TrimSpace(c[key]) != "" }

// Attempt records a failed candidate.
type Attempt struct {
	Source  string       `json:"source"`
	Code    xerrors.Code `json:"error_code"`
	Message string       `json:"message"`
}

// Result is the value returned by Fetch, tagged with the source that produced it.
type Result[T any] struct {
	Value    T
	Source   string
	Fallback bool
	Attempts []Attempt
}

// Resolver holds the ordered candidates. Availability is fixed at construction.
type Resolver[T any] struct {
	kind       string
	candidates []Source[T]
	fallback   Fallback[T]
	log        *slog.Logger
}

// NewResolver orders candidates with primary first (if it names a candidate),
// drops duplicates and unavailable sources, and logs the resulting priority.
func NewResolver[T any](kind, primary string, creds Credentials, fallback Fallback[T], candidates ...Source[T]) (*Resolver[T], error) {
	if fallback == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "resolver 缺少兜底数据源", xerrors.WithMetadata("kind", kind))
	}
	log := logger.Named("source").With(slog.String("kind", kind))

	ordered := make([]Source[T], 0, len(candidates)+1)
	for _, c := range candidates {
		if c != nil && c.Name() == primary {
			ordered = append(ordered, c)
		}
	}
	for _, c := range candidates {
		if c != nil && c.Name() != primary {
			ordered = append(ordered, c)
		}
	}

	seen := make(map[string]struct{}, len(ordered))
	available := make([]Source[T], 0, len(ordered))
	for _, c := range ordered {
		name := c.Name()
		if _, dup := seen[name]; dup || name == fallback.Name() {
			continue
		}
		seen[name] = struct{}{}
		if req := c.Requires(); req != "" && !creds.Has(req) {
			log.Info("数据源未配置，跳过", slog.String("source", name), slog.String("requires", req))
			continue
		}
		available = append(available, c)
	}

	names := make([]string, 0, len(available)+1)
	for _, c := range available {
		names = append(names, c.Name())
	}
	names = append(names, fallback.Name())
	log.Info("数据源优先级已确定", slog.String("primary", primary), slog.Any("order", names))

	return &Resolver[T]{kind: kind, candidates: available, fallback: fallback, log: log}, nil
}

// Order returns the names that Fetch will try, fallback last.
func (r *Resolver[T]) Order() []string {
	names := make([]string, 0, len(r.candidates)+1)
	for _, c := range r.candidates {
		names = append(names, c.Name())
	}
	return append(names, r.fallback.Name())
}

// Fetch returns the first successful candidate result or the fallback value.
func (r *Resolver[T]) Fetch(ctx context.Context, q Query) Result[T] {
	var attempts []Attempt
	for _, c := range r.candidates {
		if ctx.Err() != nil {
			break
		}
		value, err := r.try(ctx, c, q)
		if err == nil {
			metrics.ObserveSourceFetch(r.kind, c.Name(), "ok")
			return Result[T]{Value: value, Source: c.Name(), Attempts: attempts}
		}
		code := xerrors.CodeOf(err)
		metrics.ObserveSourceFetch(r.kind, c.Name(), string(code))
		r.log.Warn("数据源失败，尝试下一个",
			slog.String("source", c.Name()),
			slog.String("error_code", string(code)),
			slog.Any("error", err))
		attempts = append(attempts, Attempt{Source: c.Name(), Code: code, Message: err.Error()})
	}
	if len(attempts) > 0 {
		r.log.Warn("所有数据源均失败，使用兜底数据", slog.String("fallback", r.fallback.Name()))
	}
	metrics.ObserveSourceFetch(r.kind, r.fallback.Name(), "fallback")
	return Result[T]{Value: r.fallback.Fetch(ctx, q), Source: r.fallback.Name(), Fallback: true, Attempts: attempts}
}

// try invokes one candidate, converting panics into coded errors.
func (r *Resolver[T]) try(ctx context.Context, c Source[T], q Query) (value T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = xerrors.FromPanic(rec)
		}
	}()
	value, err = c.Fetch(ctx, q)
	if err != nil {
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(xerrors.CodeSourceFailure, err, "", xerrors.WithMetadata("source", c.Name()))
		}
	}
	return value, err
}
