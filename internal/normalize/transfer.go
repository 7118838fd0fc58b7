package normalize

import (
	"time"

	"github.com/tidwall/gjson"

	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/model"
)

// TransferFromPayload decodes an onchain-transfer message. amount_usd is
// mandatory and may be a number or a numeric string.
func TransferFromPayload(raw []byte) (model.Transfer, error) {
	doc, err := parse(raw, "transfer")
	if err != nil {
		return model.Transfer{}, err
	}
	if !doc.IsObject() {
		return model.Transfer{}, xerrors.New(xerrors.CodeDecodeFailure, "transfer 必须是 JSON 对象")
	}
	usdField := doc.Get("amount_usd")
	if !usdField.Exists() {
		usdField = doc.Get("usd_value")
	}
	usd, ok := number(usdField)
	if !ok {
		return model.Transfer{}, xerrors.New(xerrors.CodeDecodeFailure, "transfer 缺少合法的 amount_usd",
			xerrors.WithMetadata("amount_usd", usdField.Raw))
	}
	amount, _ := number(doc.Get("amount"))

	observed := time.Now().UTC()
	if ts := doc.Get("timestamp"); ts.Exists() {
		if ts.Type == gjson.Number {
			observed = time.Unix(ts.Int(), 0).UTC()
		} else if parsed, err := time.Parse(time.RFC3339, ts.String()); err == nil {
			observed = parsed
		}
	}

	return model.Transfer{
		TxHash:      firstString(doc, "tx_hash", "transaction_hash", "hash"),
		From:        firstString(doc, "from_address", "from"),
		To:          firstString(doc, "to_address", "to"),
		Token:       firstString(doc, "token", "token_symbol", "symbol"),
		Amount:      amount,
		AmountUSD:   usd,
		BlockNumber: doc.Get("block_number").Uint(),
		ObservedAt:  observed,
	}, nil
}
