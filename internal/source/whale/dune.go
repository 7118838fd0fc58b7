package whale

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/evaluator"
	"Fluxo/internal/model"
	"Fluxo/internal/source"
)

// DuneConfig configures the Dune Analytics source.
type DuneConfig struct {
	APIKey  string        `yaml:"api_key"`
	QueryID string        `yaml:"query_id"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Dune reads whale transfers from the latest result of a saved Dune query.
type Dune struct {
	cfg    DuneConfig
	client *http.Client
}

// NewDune creates the source. A nil client uses a client with cfg.Timeout.
func NewDune(cfg DuneConfig, client *http.Client) *Dune {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.dune.com/api/v1"
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Dune{cfg: cfg, client: client}
}

// Name implements source.Source.
func (d *Dune) Name() string { return NameDune }

// Requires implements source.Source.
func (d *Dune) Requires() string { return NameDune }

// Fetch implements source.Source.
func (d *Dune) Fetch(ctx context.Context, q source.Query) (Movements, error) {
	if strings.TrimSpace(d.cfg.QueryID) == "" {
		return nil, xerrors.New(xerrors.CodeSourceUnavailable, "dune query_id 未配置")
	}
	url := fmt.Sprintf("%s/query/%s/results", strings.TrimRight(d.cfg.BaseURL, "/"), d.cfg.QueryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "构造 dune 请求失败")
	}
	req.Header.Set("X-Dune-API-Key", d.cfg.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "请求 dune 失败")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "读取 dune 响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.CodeSourceFailure, fmt.Sprintf("dune 返回状态码 %d", resp.StatusCode),
			xerrors.WithMetadata("body", truncate(string(body), 256)))
	}
	if !gjson.ValidBytes(body) {
		return nil, xerrors.New(xerrors.CodeDecodeFailure, "dune 响应不是合法 JSON")
	}
	return parseDuneRows(gjson.GetBytes(body, "result.rows"), minValue(q), time.Now().UTC()), nil
}

func parseDuneRows(rows gjson.Result, min float64, now time.Time) Movements {
	out := Movements{}
	rows.ForEach(func(_, row gjson.Result) bool {
		usd := row.Get("amount_usd").Float()
		if usd < min {
			return true
		}
		observed := now
		if ts, err := time.Parse("2006-01-02 15:04:05.000 UTC", row.Get("block_time").String()); err == nil {
			observed = ts
		}
		out = append(out, evaluator.MovementFromTransfer(model.Transfer{
			TxHash:     row.Get("tx_hash").String(),
			From:       row.Get("from").String(),
			To:         row.Get("to").String(),
			Token:      row.Get("token_symbol").String(),
			Amount:     row.Get("amount").Float(),
			AmountUSD:  usd,
			ObservedAt: observed,
		}, NameDune))
		return true
	})
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ source.Source[Movements] = (*Dune)(nil)
