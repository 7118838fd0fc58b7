package normalize

import (
	"github.com/tidwall/gjson"

	"Fluxo/internal/model"
)

// DefaultProtocolSource names the upstream of the pipeline yield artifact.
const DefaultProtocolSource = "Defillama"

// ProtocolsFromDocument reads the protocol list of a yield artifact. The list
// lives under "protocol" or "yield_protocols"; an artifact with neither
// yields no protocols.
func ProtocolsFromDocument(raw []byte, source string) ([]model.Protocol, error) {
	doc, err := parse(raw, "yield 文档")
	if err != nil {
		return nil, err
	}
	list := doc.Get("protocol")
	if !list.IsArray() || len(list.Array()) == 0 {
		list = doc.Get("yield_protocols")
	}
	if !list.IsArray() {
		return nil, nil
	}
	return ProtocolsFromArray(list, source), nil
}

// ProtocolsFromArray normalizes every object element of a JSON array.
func ProtocolsFromArray(list gjson.Result, source string) []model.Protocol {
	var out []model.Protocol
	list.ForEach(func(_, item gjson.Result) bool {
		if item.IsObject() {
			out = append(out, Protocol(item, source))
		}
		return true
	})
	return out
}

// Protocol normalizes one protocol object.
func Protocol(item gjson.Result, source string) model.Protocol {
	apy, ok := firstNumber(item, "apy", "estimated_apy")
	tvl, _ := firstNumber(item, "tvlUsd", "tvl_usd", "tvl")
	if s := firstString(item, "source"); s != "" {
		source = s
	}
	return model.Protocol{
		Name:     firstString(item, "project", "protocol", "protocol_name"),
		Symbol:   firstString(item, "symbol", "token_symbol"),
		APY:      apy,
		APYValid: ok,
		TVLUSD:   tvl,
		Source:   source,
	}
}
