package normalize

import (
	"strings"

	"github.com/tidwall/gjson"

	"Fluxo/internal/model"
)

// HoldingsFromJSON normalizes a JSON array of portfolio entries.
func HoldingsFromJSON(raw []byte) ([]model.Holding, error) {
	list, err := parse(raw, "portfolio")
	if err != nil {
		return nil, err
	}
	return holdingsFromArray(list), nil
}

// HoldingsForWallet picks the holdings of wallet out of the portfolios
// document (wallet → holdings list). Lookup is exact first, then
// case-insensitive.
func HoldingsForWallet(raw []byte, wallet string) ([]model.Holding, bool, error) {
	doc, err := parse(raw, "portfolios 文档")
	if err != nil {
		return nil, false, err
	}
	entry := doc.Get(gjson.Escape(wallet))
	if !entry.Exists() {
		doc.ForEach(func(key, value gjson.Result) bool {
			if strings.EqualFold(key.String(), wallet) {
				entry = value
				return false
			}
			return true
		})
	}
	if !entry.IsArray() {
		return nil, false, nil
	}
	return holdingsFromArray(entry), true, nil
}

func holdingsFromArray(list gjson.Result) []model.Holding {
	var out []model.Holding
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		pct, _ := firstNumber(item, "percentage_of_portfolio", "percentage")
		value, _ := firstNumber(item, "value_usd", "usd_value")
		out = append(out, model.Holding{
			Symbol:                firstString(item, "symbol", "token_symbol"),
			TokenAddress:          firstString(item, "token_address", "address"),
			PercentageOfPortfolio: pct,
			ValueUSD:              value,
		})
		return true
	})
	return out
}
