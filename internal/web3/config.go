package web3

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config describes the chain endpoint and the tokens to follow.
type Config struct {
	RPCURL         string        `yaml:"rpc_url"`
	WSURL          string        `yaml:"ws_url"`
	LookbackBlocks uint64        `yaml:"lookback_blocks"`
	BlockTime      time.Duration `yaml:"block_time"`
	Tokens         []Token       `yaml:"tokens"`
}

// BlocksFor converts a time window into a block count, at least one block.
func (c Config) BlocksFor(window time.Duration) uint64 {
	blockTime := c.BlockTime
	if blockTime <= 0 {
		blockTime = 2 * time.Second
	}
	if window <= 0 {
		if c.LookbackBlocks > 0 {
			return c.LookbackBlocks
		}
		return 1800
	}
	n := uint64(window / blockTime)
	if n == 0 {
		n = 1
	}
	return n
}

// Enabled reports whether an RPC endpoint is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.RPCURL) != "" }

// Token is a tracked ERC-20 with a static USD reference price.
type Token struct {
	Symbol   string  `yaml:"symbol"`
	Address  string  `yaml:"address"`
	Decimals int32   `yaml:"decimals"`
	PriceUSD float64 `yaml:"price_usd"`
}

// Validate checks the token definition.
func (t Token) Validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("token symbol 不能为空")
	}
	if !common.IsHexAddress(t.Address) {
		return fmt.Errorf("token %s 的地址非法: %q", t.Symbol, t.Address)
	}
	if t.Decimals < 0 || t.Decimals > 36 {
		return fmt.Errorf("token %s 的 decimals 超出范围", t.Symbol)
	}
	return nil
}

// HexAddress returns the checksummed contract address.
func (t Token) HexAddress() common.Address { return common.HexToAddress(t.Address) }

// Amount converts a raw on-chain value into token units.
func (t Token) Amount(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-t.Decimals)
}

// ValueUSD prices an amount of token units.
func (t Token) ValueUSD(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(t.PriceUSD))
}

// TokenIndex maps contract addresses to tokens.
type TokenIndex map[common.Address]Token

// IndexTokens validates tokens and indexes them by address.
func IndexTokens(tokens []Token) (TokenIndex, error) {
	index := make(TokenIndex, len(tokens))
	for _, t := range tokens {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		index[t.HexAddress()] = t
	}
	return index, nil
}

// Addresses returns the indexed contract addresses.
func (i TokenIndex) Addresses() []common.Address {
	out := make([]common.Address, 0, len(i))
	for addr := range i {
		out = append(out, addr)
	}
	return out
}
