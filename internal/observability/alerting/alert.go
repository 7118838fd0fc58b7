// Package alerting 负责告警的落地：写入文档存储、审计日志，以及可选的 Webhook 通知。
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
	"Fluxo/internal/observability/metrics"
	"Fluxo/internal/store"
	"Fluxo/pkg/logger"
)

// Sink 接收已创建的告警。告警交给 Sink 之后不再被修改。
type Sink interface {
	Name() string
	Record(ctx context.Context, alert model.Alert) error
}

// FanoutSink 将告警投递给多个 Sink，单个失败不影响其他 Sink。
type FanoutSink struct {
	sinks []Sink
}

// NewFanout 创建一个新的 FanoutSink，忽略 nil。
func NewFanout(sinks ...Sink) *FanoutSink {
	set := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			set = append(set, s)
		}
	}
	return &FanoutSink{sinks: set}
}

// Name 实现 Sink。
func (f *FanoutSink) Name() string { return "fanout" }

// Record 将告警广播至所有 Sink。
func (f *FanoutSink) Record(ctx context.Context, alert model.Alert) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Record(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StoreSink 以 Alerts/<alert_id> 为 key 持久化告警。
type StoreSink struct {
	docs store.Store
}

// NewStoreSink 创建存储 Sink。
func NewStoreSink(docs store.Store) *StoreSink { return &StoreSink{docs: docs} }

// Name 实现 Sink。
func (s *StoreSink) Name() string { return "store" }

// Record 实现 Sink。
func (s *StoreSink) Record(ctx context.Context, alert model.Alert) error {
	if strings.TrimSpace(alert.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "alert_id 不能为空")
	}
	fields, err := toFields(alert)
	if err != nil {
		return err
	}
	if err := s.docs.Upsert(ctx, store.AlertKey(alert.ID), fields); err != nil {
		return err
	}
	metrics.ObserveAlert(string(alert.Type))
	return nil
}

func toFields(alert model.Alert) (map[string]any, error) {
	raw, err := json.Marshal(alert)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码告警失败")
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码告警失败")
	}
	return fields, nil
}

// AuditSink 将告警写入审计日志。
type AuditSink struct{}

// Name 实现 Sink。
func (AuditSink) Name() string { return "audit" }

// Record 实现 Sink。
func (AuditSink) Record(_ context.Context, alert model.Alert) error {
	logger.Audit().Info("alert_triggered",
		slog.String("alert_id", alert.ID),
		slog.String("alert_type", string(alert.Type)),
		slog.String("severity", string(alert.Severity)),
		slog.String("title", alert.Title),
		slog.Float64("current_value", alert.CurrentValue),
		slog.Float64("threshold", alert.Threshold),
		slog.String("triggered_by", alert.TriggeredBy),
	)
	return nil
}

// WebhookSink 以 Slack 兼容的 {"text": ...} 格式推送告警。
type WebhookSink struct {
	URL         string
	MinSeverity model.AlertSeverity
	Client      *http.Client
}

// Name 实现 Sink。
func (w *WebhookSink) Name() string { return "webhook" }

// Record 实现 Sink，低于 MinSeverity 的告警被忽略。
func (w *WebhookSink) Record(ctx context.Context, alert model.Alert) error {
	if w == nil || strings.TrimSpace(w.URL) == "" {
		logger.L().Warn("WebhookSink 未正确配置，跳过发送", slog.String("alert_id", alert.ID))
		return nil
	}
	if severityRank(alert.Severity) < severityRank(w.MinSeverity) {
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s\n%s", alert.Severity, alert.Title, alert.Message)
	body, _ := json.Marshal(map[string]string{"text": content})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造 webhook 请求失败")
	}
	req.Header.Set("Content-Type", "application/json")
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSourceFailure, err, "发送 webhook 失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return xerrors.New(xerrors.CodeSourceFailure, fmt.Sprintf("webhook 返回状态码 %d", resp.StatusCode))
	}
	return nil
}

func severityRank(s model.AlertSeverity) int {
	switch s {
	case model.SeverityCritical:
		return 2
	case model.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// FromError 根据任务失败构造告警，错误码决定严重程度。
func FromError(err error, title, triggeredBy string, details map[string]any, newID func() string, now time.Time) model.Alert {
	severity := model.SeverityWarning
	switch xerrors.SeverityOf(err) {
	case xerrors.SeverityCritical:
		severity = model.SeverityCritical
	case xerrors.SeverityInfo:
		severity = model.SeverityInfo
	}
	raw, _ := json.Marshal(details)
	return model.Alert{
		ID:          newID(),
		Type:        model.AlertTaskFailure,
		Severity:    severity,
		Title:       title,
		Message:     fmt.Sprintf("[%s] %v", xerrors.CodeOf(err), err),
		Details:     raw,
		TriggeredBy: triggeredBy,
		CreatedAt:   now,
	}
}

var (
	_ Sink = (*FanoutSink)(nil)
	_ Sink = (*StoreSink)(nil)
	_ Sink = AuditSink{}
	_ Sink = (*WebhookSink)(nil)
)
