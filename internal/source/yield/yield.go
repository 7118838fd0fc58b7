// Package yield provides the yield-protocol sources consumed by the macro
// agent's failover resolver.
package yield

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
	"Fluxo/internal/normalize"
	"Fluxo/internal/source"
	"Fluxo/internal/store"
)

// Source names.
const (
	NameStore     = "store"
	NameDefiLlama = "defillama"
	NameEmpty     = "empty"
)

// Protocols is the value type resolved for yield data.
type Protocols = []model.Protocol

// Resolver resolves yield protocols.
type Resolver = source.Resolver[Protocols]

// ErrNoPipelineData marks a missing pipeline artifact.
var ErrNoPipelineData = xerrors.New(xerrors.CodeNotFound, "no_pipeline_data")

// StoreSource reads the pipeline artifact from the document store.
type StoreSource struct {
	docs store.Store
}

// NewStoreSource creates the source.
func NewStoreSource(docs store.Store) *StoreSource { return &StoreSource{docs: docs} }

func (s *StoreSource) Name() string     { return NameStore }
func (s *StoreSource) Requires() string { return "" }

// Fetch returns ErrNoPipelineData when the artifact does not exist.
func (s *StoreSource) Fetch(ctx context.Context, _ source.Query) (Protocols, error) {
	raw, found, err := s.docs.Find(ctx, store.KeyYieldProtocols)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoPipelineData
	}
	return normalize.ProtocolsFromDocument(raw, normalize.DefaultProtocolSource)
}

// DefiLlamaConfig configures the live yields endpoint.
type DefiLlamaConfig struct {
	URL     string        `yaml:"url"`
	Chain   string        `yaml:"chain"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefiLlama reads pools from a DefiLlama-compatible yields endpoint.
type DefiLlama struct {
	cfg    DefiLlamaConfig
	client *http.Client
}

// NewDefiLlama creates the source. Chain defaults to Mantle.
func NewDefiLlama(cfg DefiLlamaConfig, client *http.Client) *DefiLlama {
	if cfg.Chain == "" {
		cfg.Chain = "Mantle"
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &DefiLlama{cfg: cfg, client: client}
}

func (d *DefiLlama) Name() string     { return NameDefiLlama }
func (d *DefiLlama) Requires() string { return NameDefiLlama }

// Fetch implements source.Source.
func (d *DefiLlama) Fetch(ctx context.Context, _ source.Query) (Protocols, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.URL, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "构造 defillama 请求失败")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "请求 defillama 失败")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSourceFailure, err, "读取 defillama 响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.CodeSourceFailure, fmt.Sprintf("defillama 返回状态码 %d", resp.StatusCode))
	}
	if !gjson.ValidBytes(body) {
		return nil, xerrors.New(xerrors.CodeDecodeFailure, "defillama 响应不是合法 JSON")
	}

	var out Protocols
	gjson.GetBytes(body, "data").ForEach(func(_, pool gjson.Result) bool {
		if strings.EqualFold(pool.Get("chain").String(), d.cfg.Chain) {
			out = append(out, normalize.Protocol(pool, normalize.DefaultProtocolSource))
		}
		return true
	})
	return out, nil
}

// Empty is the terminal fallback: no protocols.
type Empty struct{}

func (Empty) Name() string                                { return NameEmpty }
func (Empty) Fetch(context.Context, source.Query) Protocols { return nil }

// NewResolver builds the priority store → defillama → empty.
func NewResolver(docs store.Store, creds source.Credentials, llama DefiLlamaConfig, client *http.Client) (*Resolver, error) {
	return source.NewResolver[Protocols]("yield", NameStore, creds, Empty{},
		NewStoreSource(docs),
		NewDefiLlama(llama, client),
	)
}

var (
	_ source.Source[Protocols]   = (*StoreSource)(nil)
	_ source.Source[Protocols]   = (*DefiLlama)(nil)
	_ source.Fallback[Protocols] = Empty{}
)
