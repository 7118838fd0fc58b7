package agent

import (
	"context"
	"strings"

	"Fluxo/internal/bus"
	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
	"Fluxo/internal/normalize"
	"Fluxo/internal/store"
)

// PortfolioProvider returns the holdings of a wallet. An unknown wallet is not
// an error: it yields an empty list.
type PortfolioProvider interface {
	Holdings(ctx context.Context, wallet string) ([]model.Holding, error)
}

// StorePortfolios reads holdings from the portfolios document.
type StorePortfolios struct {
	docs store.Store
}

// NewStorePortfolios creates the store-backed provider.
func NewStorePortfolios(docs store.Store) *StorePortfolios {
	return &StorePortfolios{docs: docs}
}

// Holdings implements PortfolioProvider.
func (p *StorePortfolios) Holdings(ctx context.Context, wallet string) ([]model.Holding, error) {
	raw, found, err := p.docs.Find(ctx, store.KeyPortfolios)
	if err != nil || !found {
		return nil, err
	}
	holdings, _, err := normalize.HoldingsForWallet(raw, wallet)
	return holdings, err
}

// PortfolioAgent forwards portfolio events and answers holdings queries.
type PortfolioAgent struct {
	pub      bus.Publisher
	provider PortfolioProvider
}

// NewPortfolioAgent creates the agent.
func NewPortfolioAgent(pub bus.Publisher, provider PortfolioProvider) *PortfolioAgent {
	return &PortfolioAgent{pub: pub, provider: provider}
}

func (a *PortfolioAgent) Name() string    { return "portfolio_agent" }
func (a *PortfolioAgent) Channel() string { return bus.ChannelPortfolio }

// Handle republishes the payload on the final portfolio channel.
func (a *PortfolioAgent) Handle(ctx context.Context, msg bus.Message) error {
	return a.pub.Publish(ctx, bus.ChannelFinalPortfolio, msg.Payload)
}

// Analyze returns the holdings of wallet.
func (a *PortfolioAgent) Analyze(ctx context.Context, wallet string) ([]model.Holding, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet_address 不能为空")
	}
	if a.provider == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 portfolio provider")
	}
	holdings, err := a.provider.Holdings(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}
	return holdings, nil
}
